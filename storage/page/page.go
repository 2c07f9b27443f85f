// Package page defines the fixed-size, byte-addressable page that every
// higher layer (buffer pool, B+ tree) is built on top of. A Page is a dumb
// container: it knows its id, its raw bytes, and carries the pin count,
// dirty flag and reader-writer latch the buffer pool and tree need — it
// knows nothing about what the bytes mean. Interpreting the bytes (header
// fields, slot entries) is the job of the package that owns the page's
// contents, storage/index/btree.
package page

import "sync"

// Size is the fixed byte width of every page, matching the on-disk page
// size used by the disk collaborator.
const Size = 4096

// ID identifies a page. Page id 0 is reserved for the header page (see
// storage/index/btree's header-page record) and is never returned by
// AllocatePage.
type ID uint32

// Invalid is the zero value of ID used to mean "no page" (e.g. an empty
// tree's root, or a leaf with no next sibling).
const Invalid ID = 0

// Header is the reserved page id holding index-name -> root-page-id
// records (spec §4.4.7).
const Header ID = 0

// Page is one frame's worth of bytes plus the bookkeeping the buffer pool
// and the tree need to manage it safely.
//
// Pin count and the dirty flag are mutated only by the buffer pool, under
// the buffer pool's own mutex — they are not protected by Latch, which
// instead guards the contents of Data during tree traversal (crabbing).
// The two are deliberately independent, per the ownership rules in the
// spec: a page can be latched without being pinned by the caller doing the
// latching (though in practice every latch holder also holds a pin).
type Page struct {
	ID       ID
	Data     [Size]byte
	PinCount int32
	Dirty    bool
	Latch    sync.RWMutex
}

// Reset clears a page back to a blank, unpinned, clean state and assigns
// it id. Used when a frame is repurposed for a newly allocated page so no
// data from the frame's previous occupant leaks through.
func (p *Page) Reset(id ID) {
	p.ID = id
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.PinCount = 0
	p.Dirty = false
}
