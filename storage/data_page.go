package storage

import (
	"encoding/binary"
	"fmt"
)

// DataPage layout (slotted page):
//
//	DataHeader (23 bytes: 13 common + 10 extended)
//	SlotPair directory (grows forward, 6 bytes/entry: key u32, slotId u16)
//	SlotEntry array (grows forward, 6 bytes/entry: offset u16, length u16, flags u16)
//	free space
//	RecordHeader-prefixed records (grow backward from byte 4096)
//
// The C++ source this core is grounded on computes the slot array's base
// address as DataHeaderSize + directoryCount*PairSize on every access. Since
// PairSize and SlotSize happen to be equal (6 bytes each) that formula looks
// consistent for the record just inserted, but it silently invalidates every
// earlier slot's address as soon as the directory grows again: a later
// getRecord on an older slot ends up reading bytes that were never written
// there. That breaks the insert/lookup law this page type is specified to
// satisfy, so here the slot array's base is tracked explicitly in
// firstSlotOffset and the slot array is memmove'd forward whenever the
// directory grows, keeping every previously-assigned slot's address stable.
const (
	dataOffFreeSpaceOffset = CommonHeaderSize + 0
	dataOffFirstSlotOffset = CommonHeaderSize + 2
	dataOffFirstFreeSlot   = CommonHeaderSize + 4
	dataOffSlotCount       = CommonHeaderSize + 6
	dataOffDirectoryCount  = CommonHeaderSize + 8

	// DataHeaderSize is the size of the common header plus DataPage's own.
	DataHeaderSize = CommonHeaderSize + 10

	// PairSize is the size of one SlotPair directory entry.
	PairSize = 6
	// SlotSize is the size of one SlotEntry.
	SlotSize = 6
	// RecordHeaderSize is the size of the header preceding each record's payload.
	RecordHeaderSize = 4

	// DataMaxFreeSpace is the free-space budget of a freshly created DataPage.
	DataMaxFreeSpace = PageSize - DataHeaderSize

	// InvalidSlot marks the end of the free-slot list and an unset first-free-slot.
	InvalidSlot uint16 = 0xFFFF
)

// Slot flag bits.
const (
	SlotFlagNone    uint16 = 0x0000
	SlotFlagDeleted uint16 = 0x0001
)

// DataPage is a slotted page holding variable-length records addressed by a
// key -> slot directory.
type DataPage struct {
	*Page
}

// NewDataPage constructs an empty DataPage with the given ID.
func NewDataPage(pageID uint32) *DataPage {
	dp := &DataPage{Page: newPage(pageID, PageTypeData)}
	dp.setFreeSpaceOffset(PageSize)
	dp.setFreeSpace(DataMaxFreeSpace)
	dp.setFirstSlotOffset(DataHeaderSize)
	dp.setFirstFreeSlot(InvalidSlot)
	dp.setSlotCount(0)
	dp.setDirectoryCount(0)
	return dp
}

// WrapDataPage interprets an existing Page (e.g. one just read from disk) as
// a DataPage. The caller is responsible for having verified p.Type().
func WrapDataPage(p *Page) *DataPage { return &DataPage{Page: p} }

func (dp *DataPage) freeSpaceOffset() uint16 {
	return binary.LittleEndian.Uint16(dp.buf[dataOffFreeSpaceOffset:])
}
func (dp *DataPage) setFreeSpaceOffset(v uint16) {
	binary.LittleEndian.PutUint16(dp.buf[dataOffFreeSpaceOffset:], v)
}
func (dp *DataPage) firstSlotOffset() uint16 {
	return binary.LittleEndian.Uint16(dp.buf[dataOffFirstSlotOffset:])
}
func (dp *DataPage) setFirstSlotOffset(v uint16) {
	binary.LittleEndian.PutUint16(dp.buf[dataOffFirstSlotOffset:], v)
}
func (dp *DataPage) firstFreeSlot() uint16 {
	return binary.LittleEndian.Uint16(dp.buf[dataOffFirstFreeSlot:])
}
func (dp *DataPage) setFirstFreeSlot(v uint16) {
	binary.LittleEndian.PutUint16(dp.buf[dataOffFirstFreeSlot:], v)
}

// SlotCount is the total number of slot entries, including deleted ones.
func (dp *DataPage) SlotCount() uint16 {
	return binary.LittleEndian.Uint16(dp.buf[dataOffSlotCount:])
}
func (dp *DataPage) setSlotCount(v uint16) {
	binary.LittleEndian.PutUint16(dp.buf[dataOffSlotCount:], v)
}

// DirectoryCount is the number of key->slot directory pairs.
func (dp *DataPage) DirectoryCount() uint16 {
	return binary.LittleEndian.Uint16(dp.buf[dataOffDirectoryCount:])
}
func (dp *DataPage) setDirectoryCount(v uint16) {
	binary.LittleEndian.PutUint16(dp.buf[dataOffDirectoryCount:], v)
}

func (dp *DataPage) pairAt(i uint16) (key uint32, slotID uint16) {
	off := DataHeaderSize + int(i)*PairSize
	return binary.LittleEndian.Uint32(dp.buf[off:]), binary.LittleEndian.Uint16(dp.buf[off+4:])
}

func (dp *DataPage) setPairAt(i uint16, key uint32, slotID uint16) {
	off := DataHeaderSize + int(i)*PairSize
	binary.LittleEndian.PutUint32(dp.buf[off:], key)
	binary.LittleEndian.PutUint16(dp.buf[off+4:], slotID)
}

func (dp *DataPage) slotAt(i uint16) (offset, length, flags uint16) {
	base := int(dp.firstSlotOffset()) + int(i)*SlotSize
	return binary.LittleEndian.Uint16(dp.buf[base:]),
		binary.LittleEndian.Uint16(dp.buf[base+2:]),
		binary.LittleEndian.Uint16(dp.buf[base+4:])
}

func (dp *DataPage) setSlotAt(i uint16, offset, length, flags uint16) {
	base := int(dp.firstSlotOffset()) + int(i)*SlotSize
	binary.LittleEndian.PutUint16(dp.buf[base:], offset)
	binary.LittleEndian.PutUint16(dp.buf[base+2:], length)
	binary.LittleEndian.PutUint16(dp.buf[base+4:], flags)
}

// shiftSlots moves the whole (still-in-use) slot array by delta bytes and
// updates firstSlotOffset to match, keeping every slot's address stable
// relative to the array's own base rather than to directoryCount.
func (dp *DataPage) shiftSlots(delta int) {
	base := int(dp.firstSlotOffset())
	n := int(dp.SlotCount()) * SlotSize
	if n > 0 {
		copy(dp.buf[base+delta:base+delta+n], dp.buf[base:base+n])
	}
	dp.setFirstSlotOffset(uint16(base + delta))
}

func (dp *DataPage) recordHeaderAt(offset uint16) (length, typ uint16) {
	return binary.LittleEndian.Uint16(dp.buf[offset:]), binary.LittleEndian.Uint16(dp.buf[offset+2:])
}

func (dp *DataPage) setRecordHeaderAt(offset, length, typ uint16) {
	binary.LittleEndian.PutUint16(dp.buf[offset:], length)
	binary.LittleEndian.PutUint16(dp.buf[offset+2:], typ)
}

// spaceNeeded returns the total bytes a record of the given payload length
// consumes: its slot entry, its record header, and the payload itself.
func spaceNeeded(length uint16) uint16 { return SlotSize + RecordHeaderSize + length }

// findFreeSlot returns a slot ID to use for a new record, reusing the head
// of the free-slot list before growing the slot array.
func (dp *DataPage) findFreeSlot() (uint16, bool) {
	if dp.firstFreeSlot() != InvalidSlot {
		slotID := dp.firstFreeSlot()
		offset, _, _ := dp.slotAt(slotID)
		dp.setFirstFreeSlot(offset)
		return slotID, true
	}

	newSlotOffset := int(dp.firstSlotOffset()) + int(dp.SlotCount())*SlotSize
	if newSlotOffset+SlotSize >= int(dp.freeSpaceOffset()) {
		return 0, false
	}

	slotID := dp.SlotCount()
	dp.setSlotCount(slotID + 1)
	return slotID, true
}

// insertPair appends a directory entry, shifting the slot array forward to
// make room, unless doing so would collide with the record heap.
func (dp *DataPage) insertPair(key uint32, slotID uint16) bool {
	newDirOffset := DataHeaderSize + int(dp.DirectoryCount())*PairSize
	if newDirOffset+PairSize >= int(dp.freeSpaceOffset()) {
		return false
	}

	dp.shiftSlots(PairSize)
	dp.setPairAt(dp.DirectoryCount(), key, slotID)
	dp.setDirectoryCount(dp.DirectoryCount() + 1)
	return true
}

// removeLastPair rolls back the most recent insertPair call.
func (dp *DataPage) removeLastPair() {
	if dp.DirectoryCount() == 0 {
		return
	}
	dp.setDirectoryCount(dp.DirectoryCount() - 1)
	dp.shiftSlots(-PairSize)
}

func (dp *DataPage) allocateSpace(size uint16) (uint16, bool) {
	newOffset := dp.freeSpaceOffset() - size
	slotsEnd := int(dp.firstSlotOffset()) + int(dp.SlotCount())*SlotSize
	if int(newOffset) < slotsEnd {
		return 0, false
	}
	dp.setFreeSpaceOffset(newOffset)
	return newOffset, true
}

// InsertRecord reserves a directory pair, a slot entry, and space for data,
// returning the assigned slot ID. It rolls back the directory insertion on
// partial failure.
func (dp *DataPage) InsertRecord(key uint32, data []byte, typ uint16) (uint16, bool) {
	length := uint16(len(data))
	totalSpace := spaceNeeded(length) + PairSize
	if !dp.HasSpace(totalSpace) {
		return 0, false
	}

	slotID, ok := dp.findFreeSlot()
	if !ok {
		return 0, false
	}

	if !dp.insertPair(key, slotID) {
		return 0, false
	}

	offset, ok := dp.allocateSpace(length + RecordHeaderSize)
	if !ok {
		dp.removeLastPair()
		return 0, false
	}

	dp.setRecordHeaderAt(offset, length, typ)
	copy(dp.buf[int(offset)+RecordHeaderSize:], data)
	dp.setSlotAt(slotID, offset, length+RecordHeaderSize, SlotFlagNone)

	dp.addFreeSpace(-int32(totalSpace))
	dp.incItemCount(1)
	return slotID, true
}

// DeleteRecord marks slotID deleted and links it into the free-slot list.
// Record bytes are reclaimed only by Compact.
func (dp *DataPage) DeleteRecord(slotID uint16) bool {
	if slotID >= dp.SlotCount() {
		return false
	}

	_, length, flags := dp.slotAt(slotID)
	if flags&SlotFlagDeleted != 0 {
		return false
	}

	dp.setSlotAt(slotID, dp.firstFreeSlot(), length, flags|SlotFlagDeleted)
	dp.setFirstFreeSlot(slotID)
	dp.incItemCount(-1)
	return true
}

// GetRecord returns the payload bytes for slotID, or false if out of range
// or deleted. The returned slice aliases the page's buffer.
func (dp *DataPage) GetRecord(slotID uint16) ([]byte, bool) {
	if slotID >= dp.SlotCount() {
		return nil, false
	}
	offset, _, flags := dp.slotAt(slotID)
	if flags&SlotFlagDeleted != 0 {
		return nil, false
	}
	length, _ := dp.recordHeaderAt(offset)
	start := int(offset) + RecordHeaderSize
	return dp.buf[start : start+int(length)], true
}

// GetRecordType returns the record type tag for slotID.
func (dp *DataPage) GetRecordType(slotID uint16) (uint16, bool) {
	if slotID >= dp.SlotCount() {
		return 0, false
	}
	offset, _, flags := dp.slotAt(slotID)
	if flags&SlotFlagDeleted != 0 {
		return 0, false
	}
	_, typ := dp.recordHeaderAt(offset)
	return typ, true
}

// HasFlag reports whether flag is set on slotID.
func (dp *DataPage) HasFlag(slotID, flag uint16) bool {
	if slotID >= dp.SlotCount() {
		return false
	}
	_, _, flags := dp.slotAt(slotID)
	return flags&flag == flag
}

// SetFlag sets flag on slotID.
func (dp *DataPage) SetFlag(slotID, flag uint16) bool {
	if slotID >= dp.SlotCount() {
		return false
	}
	offset, length, flags := dp.slotAt(slotID)
	dp.setSlotAt(slotID, offset, length, flags|flag)
	return true
}

// ClearFlag clears flag on slotID.
func (dp *DataPage) ClearFlag(slotID, flag uint16) bool {
	if slotID >= dp.SlotCount() {
		return false
	}
	offset, length, flags := dp.slotAt(slotID)
	dp.setSlotAt(slotID, offset, length, flags&^flag)
	return true
}

// GetSlotID scans the directory for key. O(n); a sorted directory with
// binary search would be the natural upgrade for larger fanouts.
func (dp *DataPage) GetSlotID(key uint32) (uint16, bool) {
	for i := uint16(0); i < dp.DirectoryCount(); i++ {
		k, slotID := dp.pairAt(i)
		if k == key {
			return slotID, true
		}
	}
	return 0, false
}

// Compact reclaims space held by deleted records by relocating every live
// record to the top of the page, then rebuilds the free-slot list.
func (dp *DataPage) Compact() uint16 {
	var scratch [PageSize]byte
	writeOffset := uint16(PageSize)

	for i := uint16(0); i < dp.SlotCount(); i++ {
		offset, length, flags := dp.slotAt(i)
		if flags&SlotFlagDeleted != 0 {
			continue
		}
		writeOffset -= length
		copy(scratch[writeOffset:writeOffset+length], dp.buf[offset:offset+length])
		dp.setSlotAt(i, writeOffset, length, flags)
	}

	bytesFreed := writeOffset - dp.freeSpaceOffset()
	if bytesFreed > 0 {
		copy(dp.buf[writeOffset:], scratch[writeOffset:PageSize])
		dp.setFreeSpaceOffset(writeOffset)
		dp.addFreeSpace(int32(bytesFreed))
	}

	dp.setFirstFreeSlot(InvalidSlot)
	lastFree := InvalidSlot
	for i := uint16(0); i < dp.SlotCount(); i++ {
		_, length, flags := dp.slotAt(i)
		if flags&SlotFlagDeleted == 0 {
			continue
		}
		if lastFree == InvalidSlot {
			dp.setFirstFreeSlot(i)
		} else {
			_, l2, f2 := dp.slotAt(lastFree)
			dp.setSlotAt(lastFree, i, l2, f2)
		}
		lastFree = i
		_ = length
	}
	// Terminate the chain explicitly; the source this is grounded on leaves
	// the last deleted slot's offset pointing at stale data instead.
	if lastFree != InvalidSlot {
		_, l2, f2 := dp.slotAt(lastFree)
		dp.setSlotAt(lastFree, InvalidSlot, l2, f2)
	}

	return bytesFreed
}

// NeedsCompact reports true once fragmentation (dead space among used
// bytes) exceeds 25%.
func (dp *DataPage) NeedsCompact() bool {
	usedSpace := DataMaxFreeSpace - dp.FreeSpace()
	if usedSpace == 0 {
		return false
	}
	actualData := dp.ItemCount() * RecordHeaderSize
	for i := uint16(0); i < dp.SlotCount(); i++ {
		_, length, flags := dp.slotAt(i)
		if flags&SlotFlagDeleted == 0 {
			actualData += length
		}
	}
	return (usedSpace-actualData)*4 > usedSpace
}

// Debug renders every slot's state, for cmd/pagedump and failing-test output.
func (dp *DataPage) Debug() string {
	s := fmt.Sprintf("%s DataPage{slots=%d directory=%d firstFree=%d}\n",
		dp.Page, dp.SlotCount(), dp.DirectoryCount(), dp.firstFreeSlot())
	for i := uint16(0); i < dp.SlotCount(); i++ {
		offset, length, flags := dp.slotAt(i)
		s += fmt.Sprintf("  slot[%d] offset=%d length=%d flags=%#x\n", i, offset, length, flags)
	}
	return s
}
