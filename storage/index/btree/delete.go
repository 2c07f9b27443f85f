package btree

import (
	"github.com/pkg/errors"

	"corestore/concurrency/transaction"
	"corestore/storage/page"
)

// deleteSink collects page ids freed by a delete's coalesce/merge cascade
// so they are handed to the buffer pool only once the whole descent path
// is unlatched and unpinned, per spec.md §4.4.5 ("register node's page id
// in the transaction's deleted-page set... any pages in the deleted-set
// are handed to BPM for deallocation at release time"). Backed by txn's
// own deleted-page-set when one is supplied, so a caller can inspect it
// via Transaction.DeletedPages; falls back to a private slice for the
// nil-txn path Insert/Remove already support outside a transaction.
type deleteSink struct {
	txn   *transaction.Transaction
	local []page.ID
}

func (s *deleteSink) mark(id page.ID) {
	if s.txn != nil {
		s.txn.MarkDeleted(id)
		return
	}
	s.local = append(s.local, id)
}

func (s *deleteSink) drain() []page.ID {
	if s.txn != nil {
		return s.txn.TakeDeletedPages()
	}
	out := s.local
	s.local = nil
	return out
}

// Remove deletes key from the tree, per spec.md §4.4.2/§4.4.5. Deleting an
// absent key is a no-op. txn may be nil for callers outside a
// transactional context, mirroring Insert.
func (t *Tree) Remove(txn *transaction.Transaction, key Key) error {
	guard, stack, err := t.descend(txn, opDelete, key)
	if err != nil {
		return err
	}

	if len(stack) == 0 {
		guard.releaseIfHeld()
		return nil
	}

	leafIdx := len(stack) - 1
	leaf := &stack[leafIdx]
	idx, found := searchSlot(leaf.nd.keys, key)
	if !found {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return nil
	}

	leaf.nd.keys = removeKey(leaf.nd.keys, idx)
	leaf.nd.values = removeValue(leaf.nd.values, idx)
	leaf.dirty = true
	encodeNode(leaf.nd, leaf.pg)

	sink := &deleteSink{txn: txn}

	if leaf.nd.parent == page.Invalid {
		if len(leaf.nd.keys) == 0 {
			t.root = page.Invalid
			leaf.dirty = false
			sink.mark(leaf.pg.ID)
			if err := t.saveRoot(); err != nil {
				t.unwindStack(txn, stack)
				guard.releaseIfHeld()
				return err
			}
		}
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return t.drainDeletes(sink)
	}

	_, minSize := t.sizesFor(kindLeaf)
	if len(leaf.nd.keys) >= minSize {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return nil
	}

	if err := t.propagateUnderflow(stack, leafIdx, guard, sink); err != nil {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return err
	}
	t.unwindStack(txn, stack)
	guard.releaseIfHeld()
	return t.drainDeletes(sink)
}

// drainDeletes hands every page sink collected to the buffer pool. Called
// only after the whole descent path has been unlatched and unpinned by
// unwindStack, so none of these ids can still be pinned by this operation.
func (t *Tree) drainDeletes(sink *deleteSink) error {
	for _, id := range sink.drain() {
		if err := t.bpm.Delete(id); err != nil {
			return errors.Wrapf(err, "btree: underflow: delete freed page %d", id)
		}
	}
	return nil
}

// propagateUnderflow implements spec.md §4.4.5's coalesce_or_redistribute
// for the node held at stack[idx]: pick a sibling (left preferred),
// redistribute one entry if the combined size would still overflow, else
// merge the two and remove the separator from the parent, recursing if
// that removal underflows the parent in turn.
func (t *Tree) propagateUnderflow(stack []frame, idx int, guard *rootGuard, sink *deleteSink) error {
	f := &stack[idx]
	if f.nd.parent == page.Invalid {
		return t.adjustRoot(stack, f, sink)
	}

	parentID := f.nd.parent
	var parent *node
	var parentPg *page.Page
	parentInStack := idx > 0 && stack[idx-1].pg.ID == parentID
	if parentInStack {
		parent = stack[idx-1].nd
		parentPg = stack[idx-1].pg
	} else {
		pg, err := t.bpm.Fetch(parentID)
		if err != nil {
			return errors.Wrapf(err, "btree: underflow: fetch parent %d", parentID)
		}
		pg.Latch.Lock()
		nd, err := decodeNode(pg)
		if err != nil {
			pg.Latch.Unlock()
			_, _ = t.bpm.Unpin(parentID, false)
			return err
		}
		parent = nd
		parentPg = pg
	}

	merged, err := t.coalesceOrRedistribute(stack, f, parent, sink)
	if err != nil {
		if !parentInStack {
			parentPg.Latch.Unlock()
			_, _ = t.bpm.Unpin(parentID, false)
		}
		return err
	}

	encodeNode(parent, parentPg)
	if parentInStack {
		stack[idx-1].dirty = true
	} else {
		parentPg.Latch.Unlock()
		if _, uerr := t.bpm.Unpin(parentID, true); uerr != nil {
			return errors.Wrapf(uerr, "btree: underflow: unpin parent %d", parentID)
		}
	}

	if !merged {
		return nil
	}
	if !parentInStack {
		// parent was proven safe (size > minSize) during descent; losing
		// exactly one child cannot bring it back under minSize.
		return nil
	}
	// A non-root parent that still meets its minimum needs no rebalancing;
	// the root is always handed to adjustRoot, which collapses it only when
	// a single child is left.
	_, parentMin := t.sizesFor(parent.kind)
	if parent.parent != page.Invalid && len(parent.keys) >= parentMin {
		return nil
	}
	return t.propagateUnderflow(stack, idx-1, guard, sink)
}

// coalesceOrRedistribute mutates f.nd and parent (and fetches/mutates the
// chosen sibling directly) in place. Returns true if a merge happened
// (parent lost a child and the losing page was registered with sink for
// deletion), false if it was a redistribute (parent keeps the same
// children, only a separator changed).
func (t *Tree) coalesceOrRedistribute(stack []frame, f *frame, parent *node, sink *deleteSink) (bool, error) {
	ci := indexOfChild(parent, f.pg.ID)
	if ci < 0 {
		return false, errors.Errorf("btree: underflow: page %d not found in parent %d", f.pg.ID, parent.id)
	}
	leftSibling := ci > 0
	var sibID page.ID
	if leftSibling {
		sibID = parent.values[ci-1].PageID()
	} else {
		sibID = parent.values[ci+1].PageID()
	}

	sibPg, err := t.bpm.Fetch(sibID)
	if err != nil {
		return false, errors.Wrapf(err, "btree: underflow: fetch sibling %d", sibID)
	}
	sibPg.Latch.Lock()
	defer sibPg.Latch.Unlock()
	sib, err := decodeNode(sibPg)
	if err != nil {
		_, _ = t.bpm.Unpin(sibID, false)
		return false, err
	}

	maxSize, _ := t.sizesFor(f.nd.kind)
	if f.nd.size()+sib.size() > maxSize {
		t.redistribute(f, parent, sib, ci, leftSibling)
		encodeNode(f.nd, f.pg)
		f.dirty = true
		encodeNode(sib, sibPg)
		_, err = t.bpm.Unpin(sibID, true)
		return false, err
	}

	deletedID, err := t.merge(stack, f, parent, sib, sibPg, ci, leftSibling)
	if err != nil {
		_, _ = t.bpm.Unpin(sibID, false)
		return false, err
	}

	if leftSibling {
		// f was absorbed into sib; sib holds the merged contents and f's
		// page becomes garbage. f.pg is still pinned via the caller's own
		// stack (released later by unwindStack), so the delete can't
		// happen here — mark it clean, so unwind doesn't write stale
		// bytes back over a page about to be freed, and register it with
		// sink for deletion once the pin is gone.
		encodeNode(sib, sibPg)
		f.dirty = false
		if _, err := t.bpm.Unpin(sibID, true); err != nil {
			return false, err
		}
	} else {
		// sib was absorbed into f; f holds the merged contents.
		f.dirty = true
		encodeNode(f.nd, f.pg)
		if _, err := t.bpm.Unpin(sibID, false); err != nil {
			return false, err
		}
	}

	sink.mark(deletedID)
	return true, nil
}

// redistribute borrows one slot across f and sib, then fixes the
// separator key in parent, per spec.md §4.4.5. For an internal node the
// borrowed child arrives with the parent's old separator as its new key
// (slot 0 stays an unused placeholder) and the sibling's key that used to
// point at the borrowed child is promoted into the parent instead.
func (t *Tree) redistribute(f *frame, parent *node, sib *node, ci int, leftSibling bool) {
	switch {
	case leftSibling && f.nd.kind == kindLeaf:
		last := len(sib.keys) - 1
		borrowedKey, borrowedVal := sib.keys[last], sib.values[last]
		sib.keys, sib.values = removeKey(sib.keys, last), removeValue(sib.values, last)
		f.nd.keys = insertKey(f.nd.keys, 0, borrowedKey)
		f.nd.values = insertValue(f.nd.values, 0, borrowedVal)
		parent.keys[ci] = f.nd.keys[0]

	case leftSibling: // internal
		last := len(sib.keys) - 1
		borrowedVal := sib.values[last]
		promoted := sib.keys[last]
		sib.keys, sib.values = removeKey(sib.keys, last), removeValue(sib.values, last)

		sepForF := parent.keys[ci]
		f.nd.values = insertValue(f.nd.values, 0, borrowedVal)
		f.nd.keys = insertKey(f.nd.keys, 0, Key{})
		f.nd.keys[1] = sepForF
		_ = t.setParent(borrowedVal.PageID(), f.pg.ID)
		parent.keys[ci] = promoted

	case f.nd.kind == kindLeaf: // right sibling
		borrowedKey, borrowedVal := sib.keys[0], sib.values[0]
		sib.keys, sib.values = removeKey(sib.keys, 0), removeValue(sib.values, 0)
		f.nd.keys = append(f.nd.keys, borrowedKey)
		f.nd.values = append(f.nd.values, borrowedVal)
		parent.keys[ci+1] = sib.keys[0]

	default: // right sibling, internal
		borrowedVal := sib.values[0]
		var promoted Key
		if len(sib.keys) > 1 {
			promoted = sib.keys[1]
		}
		sib.keys, sib.values = removeKey(sib.keys, 0), removeValue(sib.values, 0)
		if len(sib.keys) > 0 {
			sib.keys[0] = Key{}
		}

		sepForF := parent.keys[ci+1]
		f.nd.keys = append(f.nd.keys, sepForF)
		f.nd.values = append(f.nd.values, borrowedVal)
		_ = t.setParent(borrowedVal.PageID(), f.pg.ID)
		parent.keys[ci+1] = promoted
	}
}

// merge moves every slot of the right-hand node of the pair into the
// left-hand one (sib into f when f is leftmost, f into sib otherwise) and
// removes the right-hand child from parent, returning its page id to delete.
func (t *Tree) merge(stack []frame, f *frame, parent *node, sib *node, sibPg *page.Page, ci int, leftSibling bool) (page.ID, error) {
	if leftSibling {
		if f.nd.kind == kindInternal {
			f.nd.keys[0] = parent.keys[ci]
			// f.nd.values are f's own children; one of them may be the
			// on-path node still write-latched further down the caller's
			// descent stack, so this must not go through setParent's own
			// fetch/latch path unconditionally.
			for _, v := range f.nd.values {
				if err := t.setParentOnPath(stack, v.PageID(), sib.id); err != nil {
					return page.Invalid, err
				}
			}
		} else {
			sib.next = f.nd.next
		}
		sib.keys = append(sib.keys, f.nd.keys...)
		sib.values = append(sib.values, f.nd.values...)
		parent.keys = removeKey(parent.keys, ci)
		parent.values = removeValue(parent.values, ci)
		return f.pg.ID, nil
	}

	if sib.kind == kindInternal {
		sib.keys[0] = parent.keys[ci+1]
		for _, v := range sib.values {
			if err := t.setParent(v.PageID(), f.pg.ID); err != nil {
				return page.Invalid, err
			}
		}
	} else {
		f.nd.next = sib.next
	}
	f.nd.keys = append(f.nd.keys, sib.keys...)
	f.nd.values = append(f.nd.values, sib.values...)
	parent.keys = removeKey(parent.keys, ci+1)
	parent.values = removeValue(parent.values, ci+1)
	return sib.id, nil
}

// adjustRoot implements spec.md §4.4.5's root-collapse rule: an internal
// root left with a single child is discarded in favor of that child. The
// discarded root's page is registered with sink instead of deleted here,
// since f is still latched and pinned via the caller's stack (released
// only once unwindStack runs).
func (t *Tree) adjustRoot(stack []frame, f *frame, sink *deleteSink) error {
	if f.nd.kind == kindLeaf {
		return nil
	}
	if len(f.nd.keys) != 1 {
		return nil
	}
	newRoot := f.nd.values[0].PageID()
	// newRoot may be the on-path child that just survived a merge one
	// level down (still on stack, still write-latched by this goroutine),
	// so this must not unconditionally re-fetch/re-latch it.
	if err := t.setParentOnPath(stack, newRoot, page.Invalid); err != nil {
		return err
	}
	old := t.root
	t.root = newRoot
	f.dirty = false
	if err := t.saveRoot(); err != nil {
		return err
	}
	sink.mark(old)
	return nil
}
