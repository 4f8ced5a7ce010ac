package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"pulsedb/logging"
)

// InvalidPageID marks the absence of a page, mirroring the sentinel used
// throughout the index and buffer-pool layers.
const InvalidPageID uint32 = 0xDEADBEEF

// ErrCorruptFile marks a database file that failed header validation on
// open: bad magic, unsupported version, or a page size that doesn't match
// this build. Wrapped with %w so callers can errors.Is against it instead
// of matching error text.
var ErrCorruptFile = errors.New("storage: corrupt or unsupported database file")

const (
	dbMagic   uint32 = 0x00504442 // little-endian on-disk bytes: 'B' 'D' 'P' 0x00
	dbVersion uint32 = 1

	// DatabaseHeaderSize is the size of the on-disk file header.
	DatabaseHeaderSize = 28
)

// databaseHeader is the first 28 bytes of the database file.
type databaseHeader struct {
	magic         uint32
	version       uint32
	pageSize      uint32
	pageCount     uint32
	firstFreePage uint32
	lastLSN       uint64
}

func (h *databaseHeader) encode() []byte {
	buf := make([]byte, DatabaseHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.magic)
	binary.LittleEndian.PutUint32(buf[4:], h.version)
	binary.LittleEndian.PutUint32(buf[8:], h.pageSize)
	binary.LittleEndian.PutUint32(buf[12:], h.pageCount)
	binary.LittleEndian.PutUint32(buf[16:], h.firstFreePage)
	binary.LittleEndian.PutUint64(buf[20:], h.lastLSN)
	return buf
}

func decodeDatabaseHeader(buf []byte) (databaseHeader, error) {
	if len(buf) != DatabaseHeaderSize {
		return databaseHeader{}, fmt.Errorf("storage: short database header: %d bytes", len(buf))
	}
	h := databaseHeader{
		magic:         binary.LittleEndian.Uint32(buf[0:]),
		version:       binary.LittleEndian.Uint32(buf[4:]),
		pageSize:      binary.LittleEndian.Uint32(buf[8:]),
		pageCount:     binary.LittleEndian.Uint32(buf[12:]),
		firstFreePage: binary.LittleEndian.Uint32(buf[16:]),
		lastLSN:       binary.LittleEndian.Uint64(buf[20:]),
	}
	if h.magic != dbMagic {
		return databaseHeader{}, fmt.Errorf("%w: bad magic %#x", ErrCorruptFile, h.magic)
	}
	if h.version != dbVersion {
		return databaseHeader{}, fmt.Errorf("%w: unsupported version %d (want %d)",
			ErrCorruptFile, h.version, dbVersion)
	}
	if h.pageSize != PageSize {
		return databaseHeader{}, fmt.Errorf("%w: page size %d does not match this build's %d",
			ErrCorruptFile, h.pageSize, uint32(PageSize))
	}
	return h, nil
}

// DiskManager owns the database file: page allocation, free-page reuse, and
// raw page reads/writes. Free pages are tracked in a PageHeap rather than
// the LIFO stack this core's disk manager historically used, so pages are
// handed back out in ascending page-ID order.
type DiskManager struct {
	mu       sync.Mutex
	file     *os.File
	header   databaseHeader
	freeList *PageHeap
	dirty    bool
	log      logging.Logger
	cache    *ristretto.Cache[uint32, []byte]
}

// OpenDiskManager opens path as a database file. When create is true, the
// file is created if absent and reinitialized (its header overwritten and
// any prior contents discarded) if it already exists. When create is
// false, a missing file is an error and an existing one is opened and its
// header validated, matching the two distinct paths of the collaborator
// this type is grounded on: opening never silently creates, and creating
// never silently reuses stale contents.
func OpenDiskManager(path string, create bool, log logging.Logger) (*DiskManager, error) {
	if log == nil {
		log = logging.NewNop()
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if !create && errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: database file does not exist: %s", path)
		}
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint32, []byte]{
		NumCounters: 10_000,
		MaxCost:     64 * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: create page cache: %w", err)
	}

	dm := &DiskManager{
		file:     f,
		freeList: NewPageHeap(),
		log:      log,
		cache:    cache,
	}

	if create {
		dm.header = databaseHeader{
			magic:         dbMagic,
			version:       dbVersion,
			pageSize:      PageSize,
			pageCount:     0,
			firstFreePage: InvalidPageID,
			lastLSN:       0,
		}
		dm.dirty = true
		if err := dm.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		log.Info("initialized new database file")
		return dm, nil
	}

	buf := make([]byte, DatabaseHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: read database header: %w", err)
	}
	h, err := decodeDatabaseHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	dm.header = h
	log.Info("opened existing database file")
	return dm, nil
}

func (dm *DiskManager) writeHeader() error {
	_, err := dm.file.WriteAt(dm.header.encode(), 0)
	return err
}

func pageOffset(pageID uint32) int64 {
	return int64(DatabaseHeaderSize) + int64(pageID)*int64(PageSize)
}

// AllocatePage reuses the smallest free page ID if one exists, otherwise
// grows the file by one page.
func (dm *DiskManager) AllocatePage() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id, ok := dm.freeList.ExtractMin(); ok {
		dm.dirty = true
		return id
	}

	id := dm.header.pageCount
	dm.header.pageCount++
	dm.dirty = true
	return id
}

// DeallocatePage returns pageID to the free list.
func (dm *DiskManager) DeallocatePage(pageID uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageID >= dm.header.pageCount {
		return fmt.Errorf("storage: deallocate out-of-range page %d", pageID)
	}
	dm.freeList.Insert(pageID)
	dm.cache.Del(pageID)
	dm.dirty = true
	return nil
}

// FetchPage reads pageID into a fresh Page, consulting the ristretto
// read-through cache before touching disk.
func (dm *DiskManager) FetchPage(pageID uint32) (*Page, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageID >= dm.header.pageCount {
		return nil, fmt.Errorf("storage: fetch out-of-range page %d", pageID)
	}

	if cached, ok := dm.cache.Get(pageID); ok {
		p := &Page{}
		p.LoadBytes(cached)
		return p, nil
	}

	buf := make([]byte, PageSize)
	if _, err := dm.file.ReadAt(buf, pageOffset(pageID)); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", pageID, err)
	}

	dm.cache.Set(pageID, buf, int64(len(buf)))
	dm.cache.Wait()

	p := &Page{}
	p.LoadBytes(buf)
	return p, nil
}

// FetchDataPage fetches and wraps pageID as a DataPage.
func (dm *DiskManager) FetchDataPage(pageID uint32) (*DataPage, error) {
	p, err := dm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	if p.Type() != PageTypeData {
		return nil, fmt.Errorf("storage: page %d is not a data page", pageID)
	}
	return WrapDataPage(p), nil
}

// FetchIndexPage fetches and wraps pageID as an IndexPage.
func (dm *DiskManager) FetchIndexPage(pageID uint32) (*IndexPage, error) {
	p, err := dm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	if p.Type() != PageTypeIndex {
		return nil, fmt.Errorf("storage: page %d is not an index page", pageID)
	}
	return WrapIndexPage(p), nil
}

// FlushPage writes a page's full image back to its slot and refreshes the
// cache entry.
func (dm *DiskManager) FlushPage(p *Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if p.ID() >= dm.header.pageCount {
		return fmt.Errorf("storage: flush out-of-range page %d", p.ID())
	}

	if _, err := dm.file.WriteAt(p.Bytes(), pageOffset(p.ID())); err != nil {
		return fmt.Errorf("storage: write page %d: %w", p.ID(), err)
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync page %d: %w", p.ID(), err)
	}

	buf := make([]byte, PageSize)
	copy(buf, p.Bytes())
	dm.cache.Set(p.ID(), buf, int64(len(buf)))
	dm.cache.Wait()
	return nil
}

// Sync persists the file header if dirty and flushes the underlying file.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.syncLocked()
}

func (dm *DiskManager) syncLocked() error {
	if dm.dirty {
		if err := dm.writeHeader(); err != nil {
			return fmt.Errorf("storage: write database header: %w", err)
		}
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync database file: %w", err)
	}
	dm.dirty = false
	return nil
}

// PageCount returns the number of pages ever allocated in the file,
// including ones currently on the free list.
func (dm *DiskManager) PageCount() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header.pageCount
}

// Close syncs any pending header changes and closes the underlying file,
// logging (rather than propagating) a failed final sync the way this core's
// destructors always have.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	if err := dm.syncLocked(); err != nil {
		dm.log.Error("final sync failed", zap.Error(err))
	}
	dm.mu.Unlock()

	dm.cache.Close()
	return dm.file.Close()
}
