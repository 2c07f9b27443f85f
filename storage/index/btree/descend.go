package btree

import (
	"github.com/pkg/errors"

	"corestore/concurrency/transaction"
	"corestore/storage/page"
)

// frame is one page held during a crabbing descent: pinned via the buffer
// pool, latched read or write, decoded into an in-memory node the caller
// may mutate before writing it back.
type frame struct {
	pg    *page.Page
	nd    *node
	write bool
	dirty bool
}

func (t *Tree) releaseFrame(f frame) {
	if f.write {
		f.pg.Latch.Unlock()
	} else {
		f.pg.Latch.RUnlock()
	}
	_, _ = t.bpm.Unpin(f.pg.ID, f.dirty)
}

// unwindStack releases every held frame, in reverse acquisition order (to
// match the crabbing latch/pin discipline), and forgets each one from txn's
// page-set — spec.md §3/§6's "mutable page-set of latched pages collected
// during traversal", consulted at release time. txn may be nil for the
// read-only descents (Get, BeginAt) that don't run under a transaction.
func (t *Tree) unwindStack(txn *transaction.Transaction, stack []frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		t.releaseFrame(f)
		if txn != nil {
			txn.RemovePage(f.pg.ID)
		}
	}
}

// setParentOnPath rewrites id's parent pointer to parent, per spec.md
// §4.4.4/§4.4.5's structural rewiring after a split, merge, or root
// collapse. If id is already held write-latched on the caller's own
// crabbing stack, it mutates that frame's node directly instead of
// re-fetching and re-latching a page this goroutine already owns —
// sync.RWMutex.Lock is not reentrant, so calling setParent on an on-stack
// page here would self-deadlock. Only ids provably off the descent path
// (a sibling, a sibling's children, a freshly split-off page) fall
// through to setParent's fetch/latch path.
func (t *Tree) setParentOnPath(stack []frame, id, parent page.ID) error {
	for i := range stack {
		if stack[i].pg.ID == id {
			stack[i].nd.parent = parent
			stack[i].dirty = true
			encodeNode(stack[i].nd, stack[i].pg)
			return nil
		}
	}
	return t.setParent(id, parent)
}

// descend implements spec.md §4.4.6's crabbing traversal: acquire the root
// latch, then latch each fetched node in turn, releasing every ancestor
// (and the root latch) as soon as a fetched node proves safe for op. It
// returns the still-held ancestor chain down to the leaf (for
// insert/delete, starting at the deepest node that proved safe, or at the
// root if none did; just the leaf, for reads) together with the root
// guard, which the caller releases once it
// knows no root-level structural change will occur.
//
// Every page latched along the way is recorded in txn's page-set as it is
// acquired, and forgotten as it is released early or by the caller's own
// final unwindStack — txn may be nil for descents outside a transactional
// context (spec.md §4.4.6's fallback path, used by Get/BeginAt).
func (t *Tree) descend(txn *transaction.Transaction, op opKind, key Key) (*rootGuard, []frame, error) {
	write := op != opRead
	guard := acquireRootGuard(&t.rootMu, write)

	if t.root == page.Invalid {
		return guard, nil, nil
	}

	var stack []frame
	cur := t.root
	for {
		pg, err := t.bpm.Fetch(cur)
		if err != nil {
			t.unwindStack(txn, stack)
			guard.releaseIfHeld()
			return nil, nil, errors.Wrapf(err, "btree: descend: fetch page %d", cur)
		}
		if write {
			pg.Latch.Lock()
		} else {
			pg.Latch.RLock()
		}

		nd, err := decodeNode(pg)
		if err != nil {
			if write {
				pg.Latch.Unlock()
			} else {
				pg.Latch.RUnlock()
			}
			_, _ = t.bpm.Unpin(pg.ID, false)
			t.unwindStack(txn, stack)
			guard.releaseIfHeld()
			return nil, nil, err
		}

		maxSize, minSize := t.sizesFor(nd.kind)
		if isSafe(op, nd, maxSize, minSize) {
			t.unwindStack(txn, stack)
			stack = stack[:0]
			guard.releaseIfHeld()
		}
		stack = append(stack, frame{pg: pg, nd: nd, write: write})
		if txn != nil {
			txn.AddPage(pg.ID)
		}

		if nd.kind == kindLeaf {
			return guard, stack, nil
		}
		idx := childIndex(nd, key)
		cur = nd.values[idx].PageID()
	}
}
