package storage

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// IndexPage layout (B+-tree node):
//
//	IndexHeader (28 bytes: 13 common + 15 extended)
//	IndexEntry array, sorted strictly ascending by key (14 bytes/entry)
const (
	indexOffIsLeaf   = CommonHeaderSize + 0
	indexOffNextPage = CommonHeaderSize + 1
	indexOffPrevPage = CommonHeaderSize + 5
	indexOffParentID = CommonHeaderSize + 9
	indexOffLevel    = CommonHeaderSize + 13

	// IndexHeaderSize is the size of the common header plus IndexPage's own.
	IndexHeaderSize = CommonHeaderSize + 15

	// IndexEntrySize is the size of one IndexEntry.
	IndexEntrySize = 14

	// IndexMaxFreeSpace is the free-space budget of a freshly created IndexPage.
	IndexMaxFreeSpace = PageSize - IndexHeaderSize
)

// IndexPage is a B+-tree node: a sorted array of key -> child-page entries.
type IndexPage struct {
	*Page
}

// NewIndexPage constructs an empty IndexPage.
func NewIndexPage(pageID uint32, isLeaf bool, level uint16) *IndexPage {
	ip := &IndexPage{Page: newPage(pageID, PageTypeIndex)}
	ip.setIsLeaf(isLeaf)
	ip.setLevel(level)
	ip.SetNextPage(0)
	ip.SetPrevPage(0)
	ip.SetParentPage(0)
	ip.setFreeSpace(IndexMaxFreeSpace)
	return ip
}

// WrapIndexPage interprets an existing Page (e.g. one just read from disk) as
// an IndexPage. isLeaf, level and the sibling links are read straight from
// the page's buffer, so nothing needs to be parsed beforehand. The caller is
// responsible for having verified p.Type().
func WrapIndexPage(p *Page) *IndexPage { return &IndexPage{Page: p} }

func (ip *IndexPage) setIsLeaf(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	ip.buf[indexOffIsLeaf] = b
}

// IsLeaf reports whether this node is a leaf.
func (ip *IndexPage) IsLeaf() bool { return ip.buf[indexOffIsLeaf] != 0 }

// NextPage returns the sibling link toward higher keys.
func (ip *IndexPage) NextPage() uint32 {
	return binary.LittleEndian.Uint32(ip.buf[indexOffNextPage:])
}

// SetNextPage sets the sibling link toward higher keys.
func (ip *IndexPage) SetNextPage(pageID uint32) {
	binary.LittleEndian.PutUint32(ip.buf[indexOffNextPage:], pageID)
}

// PrevPage returns the sibling link toward lower keys.
func (ip *IndexPage) PrevPage() uint32 {
	return binary.LittleEndian.Uint32(ip.buf[indexOffPrevPage:])
}

// SetPrevPage sets the sibling link toward lower keys.
func (ip *IndexPage) SetPrevPage(pageID uint32) {
	binary.LittleEndian.PutUint32(ip.buf[indexOffPrevPage:], pageID)
}

// ParentPage returns the parent node's page ID, or 0 at the root.
func (ip *IndexPage) ParentPage() uint32 {
	return binary.LittleEndian.Uint32(ip.buf[indexOffParentID:])
}

// SetParentPage sets the parent node's page ID.
func (ip *IndexPage) SetParentPage(pageID uint32) {
	binary.LittleEndian.PutUint32(ip.buf[indexOffParentID:], pageID)
}

// Level returns the tree level, 0 at leaves.
func (ip *IndexPage) Level() uint16 { return binary.LittleEndian.Uint16(ip.buf[indexOffLevel:]) }

func (ip *IndexPage) setLevel(v uint16) { binary.LittleEndian.PutUint16(ip.buf[indexOffLevel:], v) }

// MaxEntries is the hard capacity of an IndexPage.
func MaxEntries() int { return IndexMaxFreeSpace / IndexEntrySize }

// MinEntries is half of MaxEntries, the advisory underflow threshold.
func MinEntries() int { return MaxEntries() / 2 }

func (ip *IndexPage) entryAt(i int) (key uint64, pageID uint32, offset uint16) {
	base := IndexHeaderSize + i*IndexEntrySize
	return binary.LittleEndian.Uint64(ip.buf[base:]),
		binary.LittleEndian.Uint32(ip.buf[base+8:]),
		binary.LittleEndian.Uint16(ip.buf[base+12:])
}

func (ip *IndexPage) setEntryAt(i int, key uint64, pageID uint32, offset uint16) {
	base := IndexHeaderSize + i*IndexEntrySize
	binary.LittleEndian.PutUint64(ip.buf[base:], key)
	binary.LittleEndian.PutUint32(ip.buf[base+8:], pageID)
	binary.LittleEndian.PutUint16(ip.buf[base+12:], offset)
}

// keyAt is a small helper for sort.Search over the entry array.
func (ip *IndexPage) keyAt(i int) uint64 {
	base := IndexHeaderSize + i*IndexEntrySize
	return binary.LittleEndian.Uint64(ip.buf[base:])
}

// lowerBound returns the index of the first entry with key >= target.
func (ip *IndexPage) lowerBound(target uint64) int {
	n := int(ip.ItemCount())
	return sort.Search(n, func(i int) bool { return ip.keyAt(i) >= target })
}

// Lookup finds the child page for key. On an exact match it returns that
// entry's pageId. Otherwise a leaf reports a miss, while an internal node
// returns the child that may hold the key: the predecessor's pageId, or the
// first entry's pageId if the search landed at the very beginning.
func (ip *IndexPage) Lookup(key uint64) (uint32, bool) {
	i := ip.lowerBound(key)
	n := int(ip.ItemCount())

	if i < n {
		if k, pageID, _ := ip.entryAt(i); k == key {
			return pageID, true
		}
	}

	if ip.IsLeaf() {
		return 0, false
	}

	if i == 0 {
		_, pageID, _ := ip.entryAt(0)
		return pageID, true
	}

	_, pageID, _ := ip.entryAt(i - 1)
	return pageID, true
}

// InsertKey inserts a new key -> pageId entry in sorted position. Duplicate
// keys are not rejected; callers must not insert them.
func (ip *IndexPage) InsertKey(key uint64, pageID uint32) bool {
	if ip.FreeSpace() < IndexEntrySize {
		return false
	}

	pos := ip.lowerBound(key)
	n := int(ip.ItemCount())

	for i := n; i > pos; i-- {
		k, p, o := ip.entryAt(i - 1)
		ip.setEntryAt(i, k, p, o)
	}
	ip.setEntryAt(pos, key, pageID, 0)

	ip.incItemCount(1)
	ip.addFreeSpace(-IndexEntrySize)
	return true
}

// RemoveKey deletes the entry with the given key, if present.
func (ip *IndexPage) RemoveKey(key uint64) bool {
	i := ip.lowerBound(key)
	n := int(ip.ItemCount())
	if i >= n {
		return false
	}
	if k, _, _ := ip.entryAt(i); k != key {
		return false
	}

	for j := i; j < n-1; j++ {
		k, p, o := ip.entryAt(j + 1)
		ip.setEntryAt(j, k, p, o)
	}

	ip.incItemCount(-1)
	ip.addFreeSpace(IndexEntrySize)
	return true
}

// GetRange returns pageIds for entries with lo <= key <= hi, in ascending
// key order. Only meaningful on leaves; internal nodes return nil.
func (ip *IndexPage) GetRange(lo, hi uint64) []uint32 {
	if !ip.IsLeaf() {
		return nil
	}

	var out []uint32
	n := int(ip.ItemCount())
	for i := ip.lowerBound(lo); i < n; i++ {
		k, pageID, _ := ip.entryAt(i)
		if k > hi {
			break
		}
		out = append(out, pageID)
	}
	return out
}

// Split moves the upper half of this node's entries into newPage, links
// newPage into the sibling chain, and returns the median key. Updating the
// old next sibling's prev pointer requires the buffer pool to hold a pin on
// that page and is out of scope for a single node's split call.
func (ip *IndexPage) Split(newPage *IndexPage) uint64 {
	n := int(ip.ItemCount())
	mid := n / 2

	for i := mid; i < n; i++ {
		k, p, o := ip.entryAt(i)
		newPage.setEntryAt(i-mid, k, p, o)
	}
	numEntries := n - mid

	newPage.SetNextPage(ip.NextPage())
	newPage.SetPrevPage(ip.ID())
	ip.SetNextPage(newPage.ID())

	newPage.setItemCount(uint16(numEntries))
	newPage.addFreeSpace(-int32(numEntries * IndexEntrySize))

	ip.setItemCount(uint16(mid))
	ip.addFreeSpace(int32(numEntries * IndexEntrySize))

	medianKey, _, _ := ip.entryAt(mid)
	// entryAt(mid) lies past ip's shrunken itemCount, but entryAt does not
	// check itemCount and the shrink leaves those bytes in place, so this
	// still reads the original median key.
	return medianKey
}

// Merge appends rightSibling's entries onto this node and takes over its
// next link. The caller is expected to deallocate rightSibling afterward.
func (ip *IndexPage) Merge(rightSibling *IndexPage) bool {
	total := int(ip.ItemCount()) + int(rightSibling.ItemCount())
	if total > MaxEntries() {
		return false
	}

	base := int(ip.ItemCount())
	for i := 0; i < int(rightSibling.ItemCount()); i++ {
		k, p, o := rightSibling.entryAt(i)
		ip.setEntryAt(base+i, k, p, o)
	}

	ip.SetNextPage(rightSibling.NextPage())

	ip.setItemCount(uint16(total))
	ip.addFreeSpace(-int32(int(rightSibling.ItemCount()) * IndexEntrySize))
	return true
}

// IsOverflow reports whether the node has reached hard capacity.
func (ip *IndexPage) IsOverflow() bool { return int(ip.ItemCount()) >= MaxEntries() }

// IsUnderflow is an advisory-only signal: the node this core is grounded on
// reports underflow at itemCount <= minEntries(), so a freshly-min-filled
// node is flagged. There is no tree manager in this core to consume the
// signal differently, so it is kept exactly as specified rather than
// tightened to a strict '<'.
func (ip *IndexPage) IsUnderflow() bool { return int(ip.ItemCount()) <= MinEntries() }

// Debug renders every entry, for cmd/pagedump and failing-test output.
func (ip *IndexPage) Debug() string {
	s := fmt.Sprintf("%s IndexPage{leaf=%v level=%d next=%d prev=%d parent=%d}\n",
		ip.Page, ip.IsLeaf(), ip.Level(), ip.NextPage(), ip.PrevPage(), ip.ParentPage())
	for i := 0; i < int(ip.ItemCount()); i++ {
		key, pageID, offset := ip.entryAt(i)
		s += fmt.Sprintf("  entry[%d] key=%d pageId=%d offset=%d\n", i, key, pageID, offset)
	}
	return s
}
