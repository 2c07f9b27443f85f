// Package bufferpool implements the buffer pool manager of spec.md §4.3: a
// fixed array of page frames, a free list, a page-id -> frame table backed
// by storage/hashtable, an LRU victim set from storage/lru, one mutex
// serializing everything, and a disk collaborator for the misses.
//
// Grounded on ShubhamNegi4-DaemonDB's storage_engine/bufferpool.go
// (FetchPage hit/miss, NewPage, UnpinPage, FlushPage, FlushAllPages,
// evictLRU, addPage) — the teacher's version tracks LRU order with a plain
// []int64 walked linearly on every eviction and a bare map[int64]*page.Page
// for the page table. This version replaces both with the O(1) structures
// spec.md's component design actually calls for (an extendible hash table
// for the page table, a doubly-linked-list victim set for LRU) while
// keeping the teacher's fetch/miss/evict control flow.
package bufferpool

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"corestore/config"
	"corestore/logging"
	"corestore/storage/hashtable"
	"corestore/storage/lru"
	"corestore/storage/page"
)

// Disk is the disk collaborator contract from spec.md §6.
type Disk interface {
	ReadPage(id page.ID, dst *[page.Size]byte) error
	WritePage(id page.ID, src *[page.Size]byte) error
	AllocatePage() (page.ID, error)
	DeallocatePage(id page.ID) error
}

func hashPageID(id page.ID) uint64 {
	var b [4]byte
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
	b[3] = byte(id >> 24)
	return hashtable.Sum64(b[:])
}

// Manager is the buffer pool manager.
type Manager struct {
	mu            sync.Mutex
	frames        []*page.Page
	frameAssigned []bool
	freeList      []int
	table         *hashtable.Table[page.ID, int]
	victims       *lru.Set[int]
	disk          Disk
	log           *logrus.Entry
}

// New builds a pool of cfg.PoolFrames frames over disk.
func New(cfg config.Config, disk Disk) *Manager {
	n := cfg.PoolFrames
	frames := make([]*page.Page, n)
	freeList := make([]int, n)
	for i := 0; i < n; i++ {
		frames[i] = &page.Page{}
		freeList[i] = n - 1 - i // pop from the end -> hand out frame 0 first
	}
	return &Manager{
		frames:        frames,
		frameAssigned: make([]bool, n),
		freeList:      freeList,
		table:         hashtable.New[page.ID, int](cfg.HashBucketCapacity, hashPageID),
		victims:       lru.New[int](),
		disk:          disk,
		log:           logging.For("bufferpool"),
	}
}

// getFree returns a frame index to (re)use, preferring the free list over
// evicting an LRU victim, per spec.md §4.3.
func (m *Manager) getFree() (int, error) {
	if n := len(m.freeList); n > 0 {
		fi := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return fi, nil
	}
	fi, ok := m.victims.Victim()
	if !ok {
		return 0, ErrOutOfMemory
	}
	return fi, nil
}

// evictInto prepares frame fi to be repurposed for a new page id: flushing
// it if dirty and removing its old page-table entry, if it held one.
func (m *Manager) evictInto(fi int) error {
	if !m.frameAssigned[fi] {
		return nil
	}
	fr := m.frames[fi]
	if fr.Dirty {
		if err := m.disk.WritePage(fr.ID, &fr.Data); err != nil {
			return errors.Wrapf(err, "bufferpool: flush frame %d (page %d) on eviction", fi, fr.ID)
		}
	}
	m.table.Remove(fr.ID)
	m.frameAssigned[fi] = false
	return nil
}

// Fetch pins and returns the frame holding id, loading it from disk on a
// miss. Returns ErrOutOfMemory if the pool is exhausted.
func (m *Manager) Fetch(id page.ID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fi, ok := m.table.Find(id); ok {
		fr := m.frames[fi]
		fr.PinCount++
		m.victims.Erase(fi)
		m.log.WithField("page", id).Debug("fetch hit")
		return fr, nil
	}

	fi, err := m.getFree()
	if err != nil {
		return nil, err
	}
	if err := m.evictInto(fi); err != nil {
		return nil, err
	}

	fr := m.frames[fi]
	fr.Reset(id)
	if err := m.disk.ReadPage(id, &fr.Data); err != nil {
		m.freeList = append(m.freeList, fi)
		return nil, errors.Wrapf(err, "bufferpool: read page %d", id)
	}
	fr.PinCount = 1
	m.frameAssigned[fi] = true
	m.table.Insert(id, fi)
	m.log.WithField("page", id).Debug("fetch miss: loaded from disk")
	return fr, nil
}

// NewPage allocates a fresh page id from disk, pins a zeroed frame for it,
// and returns the frame. Returns ErrOutOfMemory if the pool is exhausted.
func (m *Manager) NewPage() (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, err := m.getFree()
	if err != nil {
		return nil, err
	}

	id, err := m.disk.AllocatePage()
	if err != nil {
		m.freeList = append(m.freeList, fi)
		return nil, errors.Wrap(err, "bufferpool: allocate page")
	}

	if err := m.evictInto(fi); err != nil {
		_ = m.disk.DeallocatePage(id)
		return nil, err
	}

	fr := m.frames[fi]
	fr.Reset(id)
	fr.PinCount = 1
	fr.Dirty = true
	m.frameAssigned[fi] = true
	m.table.Insert(id, fi)
	m.log.WithField("page", id).Debug("new page")
	return fr, nil
}

// Unpin decrements id's pin count, marking it dirty if requested. Returns
// false if id was not resident, or if its pin count was already zero.
func (m *Manager) Unpin(id page.ID, dirty bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, ok := m.table.Find(id)
	if !ok {
		return false, errors.Wrapf(ErrPageNotFound, "page %d", id)
	}
	fr := m.frames[fi]
	if dirty {
		fr.Dirty = true
	}
	if fr.PinCount == 0 {
		return false, nil
	}
	fr.PinCount--
	if fr.PinCount == 0 {
		m.victims.Insert(fi)
	}
	return true, nil
}

// Flush writes id's bytes to disk if it is resident and dirty.
func (m *Manager) Flush(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, ok := m.table.Find(id)
	if !ok {
		return errors.Wrapf(ErrPageNotFound, "page %d", id)
	}
	fr := m.frames[fi]
	if !fr.Dirty {
		return nil
	}
	if err := m.disk.WritePage(id, &fr.Data); err != nil {
		return errors.Wrapf(err, "bufferpool: flush page %d", id)
	}
	fr.Dirty = false
	return nil
}

// FlushAll writes every resident dirty page whose pin count is zero, per
// spec.md §4.3.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for fi, assigned := range m.frameAssigned {
		if !assigned {
			continue
		}
		fr := m.frames[fi]
		if !fr.Dirty || fr.PinCount != 0 {
			continue
		}
		if err := m.disk.WritePage(fr.ID, &fr.Data); err != nil {
			return errors.Wrapf(err, "bufferpool: flush-all page %d", fr.ID)
		}
		fr.Dirty = false
	}
	return nil
}

// Delete removes id from the pool and asks the disk to deallocate it.
// Requires a resident page to be unpinned; if the page is not resident,
// only the disk deallocation is performed.
func (m *Manager) Delete(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, ok := m.table.Find(id)
	if !ok {
		return m.disk.DeallocatePage(id)
	}
	fr := m.frames[fi]
	if fr.PinCount != 0 {
		return errors.Wrapf(ErrPagePinned, "page %d", id)
	}

	m.table.Remove(id)
	m.victims.Erase(fi)
	m.frameAssigned[fi] = false
	fr.Reset(page.Invalid)
	m.freeList = append(m.freeList, fi)

	return errors.Wrapf(m.disk.DeallocatePage(id), "bufferpool: deallocate page %d", id)
}

// Stats summarizes pool occupancy, for the ambient stats/logging path and
// for property test 6 (pin/frame accounting).
type Stats struct {
	Capacity    int
	Resident    int
	Pinned      int
	Dirty       int
	FreeFrames  int
	VictimQueue int
}

// FrameStats returns a snapshot of pool occupancy. Grounded on the
// teacher's BufferPool.GetStats (storage_engine/bufferpool/helpers.go);
// added here as ambient test-support surface per SPEC_FULL.md §12, needed
// to write property test 6 (pinned-frame count equals outstanding pins)
// without reaching into the manager's private fields from a test.
func (m *Manager) FrameStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Capacity:    len(m.frames),
		FreeFrames:  len(m.freeList),
		VictimQueue: m.victims.Size(),
	}
	for fi, assigned := range m.frameAssigned {
		if !assigned {
			continue
		}
		s.Resident++
		fr := m.frames[fi]
		if fr.PinCount > 0 {
			s.Pinned++
		}
		if fr.Dirty {
			s.Dirty++
		}
	}
	return s
}

// LogOccupancy writes a debug line describing pool occupancy in
// human-readable bytes, via github.com/dustin/go-humanize (the teacher's
// own indirect dependency, promoted to direct use here — see DESIGN.md).
func (m *Manager) LogOccupancy() {
	s := m.FrameStats()
	used := uint64(s.Resident) * page.Size
	total := uint64(s.Capacity) * page.Size
	m.log.WithFields(map[string]any{
		"resident": s.Resident,
		"pinned":   s.Pinned,
		"dirty":    s.Dirty,
	}).Debugf("pool occupancy %s / %s", humanize.Bytes(used), humanize.Bytes(total))
}
