package cache

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"pulsedb/logging"
	"pulsedb/storage"
)

// BufferPool mediates all page access between callers and the disk. It
// keeps a fixed number of frames resident, using an LRU replacer to decide
// what to evict once every frame is in use.
type BufferPool struct {
	mu        sync.Mutex
	frames    []Frame
	pageTable map[uint32]int
	replacer  *LRUReplacer
	disk      *storage.DiskManager
	log       logging.Logger
}

// NewBufferPool constructs a pool of poolSize frames backed by disk.
func NewBufferPool(disk *storage.DiskManager, poolSize int, log logging.Logger) *BufferPool {
	if log == nil {
		log = logging.NewNop()
	}
	bp := &BufferPool{
		frames:    make([]Frame, poolSize),
		pageTable: make(map[uint32]int, poolSize),
		replacer:  NewLRUReplacer(),
		disk:      disk,
		log:       log,
	}
	log.Info("buffer pool ready", zap.Int("frames", poolSize),
		zap.String("capacity", humanize.Bytes(uint64(poolSize)*storage.PageSize)))
	return bp
}

// findVictim returns a frame index to reuse: an empty frame first, then
// whatever the LRU replacer offers up.
func (bp *BufferPool) findVictim() (int, bool) {
	for i := range bp.frames {
		if bp.frames[i].IsEmpty() {
			return i, true
		}
	}
	return bp.replacer.Victim()
}

// evictFrame flushes a dirty resident page and frees the frame slot. It
// refuses to evict a pinned frame.
func (bp *BufferPool) evictFrame(frameIdx int) error {
	f := &bp.frames[frameIdx]
	if f.IsEmpty() {
		return nil
	}
	if !f.IsUnpinned() {
		return fmt.Errorf("cache: cannot evict pinned frame %d (page %d)", frameIdx, f.ID())
	}
	if f.IsDirty() {
		if err := bp.disk.FlushPage(f.Page()); err != nil {
			return fmt.Errorf("cache: flush during eviction: %w", err)
		}
	}
	delete(bp.pageTable, f.ID())
	f.Reset(nil)
	return nil
}

// FetchPage pins and returns the page for pageID, reading it from disk on a
// miss. Callers must call UnpinPage when done.
func (bp *BufferPool) FetchPage(pageID uint32) (*storage.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageTable[pageID]; ok {
		bp.frames[idx].Pin()
		bp.replacer.Pin(idx)
		return bp.frames[idx].Page(), nil
	}

	idx, ok := bp.findVictim()
	if !ok {
		return nil, fmt.Errorf("cache: buffer pool exhausted, no victim available")
	}

	page, err := bp.disk.FetchPage(pageID)
	if err != nil {
		return nil, err
	}

	if err := bp.evictFrame(idx); err != nil {
		return nil, err
	}

	bp.frames[idx].Reset(page)
	bp.frames[idx].Pin()
	bp.pageTable[pageID] = idx
	bp.replacer.Pin(idx)
	return page, nil
}

// CreatePage allocates a fresh page of the given type, pins it, and marks
// it dirty since it has never been flushed to disk. isLeaf/level are only
// meaningful when typ is storage.PageTypeIndex.
func (bp *BufferPool) CreatePage(typ storage.PageType, isLeaf bool, level uint16) (*storage.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.findVictim()
	if !ok {
		return nil, fmt.Errorf("cache: buffer pool exhausted, no victim available")
	}

	if err := bp.evictFrame(idx); err != nil {
		return nil, err
	}

	pageID := bp.disk.AllocatePage()

	var page *storage.Page
	switch typ {
	case storage.PageTypeData:
		page = storage.NewDataPage(pageID).Page
	case storage.PageTypeIndex:
		page = storage.NewIndexPage(pageID, isLeaf, level).Page
	default:
		return nil, fmt.Errorf("cache: cannot create page of type %v", typ)
	}

	bp.frames[idx].Reset(page)
	bp.frames[idx].Pin()
	bp.frames[idx].Mark()
	bp.pageTable[pageID] = idx
	bp.replacer.Pin(idx)
	return page, nil
}

// DeletePage evicts pageID's frame (if resident) and returns it to the
// disk manager's free list. The frame index is captured before the page
// table entry is erased; the C++ buffer pool this core is grounded on erased
// the entry first and then looked it back up, which always missed.
func (bp *BufferPool) DeletePage(pageID uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageTable[pageID]; ok {
		f := &bp.frames[idx]
		if !f.IsUnpinned() {
			return fmt.Errorf("cache: cannot delete pinned page %d", pageID)
		}
		delete(bp.pageTable, pageID)
		f.Reset(nil)
		bp.replacer.Pin(idx)
	}

	return bp.disk.DeallocatePage(pageID)
}

// UnpinPage decrements a page's pin count and records whether the caller's
// changes made it dirty.
func (bp *BufferPool) UnpinPage(pageID uint32, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return fmt.Errorf("cache: unpin unknown page %d", pageID)
	}

	f := &bp.frames[idx]
	if dirty {
		f.Mark()
	}
	if f.Unpin() == 0 {
		bp.replacer.Unpin(idx)
	}
	return nil
}

// FlushPage writes pageID back to disk if dirty.
func (bp *BufferPool) FlushPage(pageID uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageID]
	if !ok {
		return fmt.Errorf("cache: flush unknown page %d", pageID)
	}

	f := &bp.frames[idx]
	if !f.IsDirty() {
		return nil
	}
	if err := bp.disk.FlushPage(f.Page()); err != nil {
		return err
	}
	f.Unmark()
	return nil
}

// FlushAll flushes every dirty resident page, logging and continuing past
// any individual failure rather than aborting the sweep.
func (bp *BufferPool) FlushAll() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID, idx := range bp.pageTable {
		f := &bp.frames[idx]
		if !f.IsDirty() {
			continue
		}
		if err := bp.disk.FlushPage(f.Page()); err != nil {
			bp.log.Error("flush failed", zap.Uint32("pageId", pageID), zap.Error(err))
			continue
		}
		f.Unmark()
	}
}

// Size returns the pool's total frame capacity.
func (bp *BufferPool) Size() int { return len(bp.frames) }
