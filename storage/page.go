// Package storage implements the fixed-size page store, B+-tree node
// algebra, and free-page allocator that back the buffer pool in package
// cache. Every on-disk struct is little-endian and packed; Go has no
// #pragma pack, so each field is read and written explicitly through
// encoding/binary rather than overlaid with a Go struct.
package storage

import (
	"encoding/binary"
	"fmt"
)

// PageType tags byte 0 of every page and must match the concrete type
// constructed around that buffer.
type PageType uint8

const (
	PageTypeInvalid PageType = 0
	PageTypeIndex   PageType = 1
	PageTypeData    PageType = 2
	PageTypeSpecial PageType = 3
)

const (
	// PageSize is the fixed size of every page, including its header.
	PageSize = 4096

	// CommonHeaderSize is the size of the header shared by every page type.
	CommonHeaderSize = 13
)

// Common header byte offsets.
const (
	offType      = 0
	offPageID    = 1
	offLSN       = 5
	offFreeSpace = 9
	offItemCount = 11
)

// Page owns a single 4096-byte buffer and the common header that occupies
// its first 13 bytes. DataPage and IndexPage embed a Page and interpret the
// remainder of the buffer according to their own extended header layout.
type Page struct {
	buf [PageSize]byte
}

// newPage zeroes a fresh buffer and writes the common header. Callers pick
// the concrete wrapper (DataPage/IndexPage) immediately afterward.
func newPage(pageID uint32, t PageType) *Page {
	p := &Page{}
	p.setType(t)
	p.setID(pageID)
	p.setLSN(0)
	p.setFreeSpace(PageSize - CommonHeaderSize)
	p.setItemCount(0)
	return p
}

// Bytes returns the full 4096-byte page image, header included. Callers
// that hand this to the DiskManager or a byte cache must not retain the
// slice past the page's next mutation.
func (p *Page) Bytes() []byte { return p.buf[:] }

// LoadBytes overwrites the page's buffer with a full 4096-byte image, e.g.
// one just read from disk. Panics if src is not exactly PageSize bytes.
func (p *Page) LoadBytes(src []byte) {
	if len(src) != PageSize {
		panic("storage: page image must be exactly PageSize bytes")
	}
	copy(p.buf[:], src)
}

func (p *Page) Type() PageType   { return PageType(p.buf[offType]) }
func (p *Page) ID() uint32       { return binary.LittleEndian.Uint32(p.buf[offPageID:]) }
func (p *Page) LSN() uint32      { return binary.LittleEndian.Uint32(p.buf[offLSN:]) }
func (p *Page) FreeSpace() uint16 { return binary.LittleEndian.Uint16(p.buf[offFreeSpace:]) }
func (p *Page) ItemCount() uint16 { return binary.LittleEndian.Uint16(p.buf[offItemCount:]) }

// HasSpace reports whether n more bytes fit in the page's free region.
func (p *Page) HasSpace(n uint16) bool { return p.FreeSpace() >= n }

func (p *Page) setType(t PageType)        { p.buf[offType] = byte(t) }
func (p *Page) setID(id uint32)           { binary.LittleEndian.PutUint32(p.buf[offPageID:], id) }
func (p *Page) setLSN(lsn uint32)         { binary.LittleEndian.PutUint32(p.buf[offLSN:], lsn) }
func (p *Page) setFreeSpace(n uint16)     { binary.LittleEndian.PutUint16(p.buf[offFreeSpace:], n) }
func (p *Page) addFreeSpace(delta int32) {
	n := int32(p.FreeSpace()) + delta
	p.setFreeSpace(uint16(n))
}
func (p *Page) setItemCount(n uint16) { binary.LittleEndian.PutUint16(p.buf[offItemCount:], n) }
func (p *Page) incItemCount(delta int16) {
	n := int16(p.ItemCount()) + delta
	p.setItemCount(uint16(n))
}

// String renders the common header fields, used by cmd/pagedump and by the
// DataPage/IndexPage Debug dumps.
func (p *Page) String() string {
	return fmt.Sprintf("Page{id=%d type=%d lsn=%d freeSpace=%d itemCount=%d}",
		p.ID(), p.Type(), p.LSN(), p.FreeSpace(), p.ItemCount())
}
