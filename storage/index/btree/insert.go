package btree

import (
	"github.com/pkg/errors"

	"corestore/concurrency/transaction"
	"corestore/storage/page"
)

// Insert adds key/value to the tree, per spec.md §4.4.2/§4.4.4. Returns
// false without side effects if key is already present. txn may be nil for
// callers outside a transactional context (spec.md §4.4.6's fallback
// path); every page latched along the main descent is recorded in txn's
// page-set as it is pinned and forgotten as it is unpinned, whether early
// during crabbing or by the final unwindStack below (see descend).
func (t *Tree) Insert(txn *transaction.Transaction, key Key, value Value) (bool, error) {
	guard, stack, err := t.descend(txn, opInsert, key)
	if err != nil {
		return false, err
	}

	if len(stack) == 0 {
		return t.insertIntoEmptyTree(guard, key, value)
	}

	leafIdx := len(stack) - 1
	leaf := &stack[leafIdx]
	if _, found := searchSlot(leaf.nd.keys, key); found {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return false, nil
	}

	pos := lowerBound(leaf.nd.keys, key)
	leaf.nd.keys = insertKey(leaf.nd.keys, pos, key)
	leaf.nd.values = insertValue(leaf.nd.values, pos, value)
	leaf.dirty = true
	encodeNode(leaf.nd, leaf.pg)

	maxSize, _ := t.sizesFor(kindLeaf)
	if len(leaf.nd.keys) <= maxSize {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return true, nil
	}

	if err := t.propagateSplit(stack, leafIdx, guard); err != nil {
		t.unwindStack(txn, stack)
		guard.releaseIfHeld()
		return false, err
	}
	t.unwindStack(txn, stack)
	guard.releaseIfHeld()
	return true, nil
}

func (t *Tree) insertIntoEmptyTree(guard *rootGuard, key Key, value Value) (bool, error) {
	pg, err := t.bpm.NewPage()
	if err != nil {
		guard.releaseIfHeld()
		return false, errors.Wrap(err, "btree: insert: allocate root")
	}
	n := &node{
		id:     pg.ID,
		parent: page.Invalid,
		kind:   kindLeaf,
		next:   page.Invalid,
		keys:   []Key{key},
		values: []Value{value},
	}
	encodeNode(n, pg)
	t.root = pg.ID

	if err := t.saveRoot(); err != nil {
		_, _ = t.bpm.Unpin(pg.ID, true)
		guard.releaseIfHeld()
		return false, err
	}
	if _, err := t.bpm.Unpin(pg.ID, true); err != nil {
		guard.releaseIfHeld()
		return false, errors.Wrap(err, "btree: insert: unpin new root")
	}
	guard.releaseIfHeld()
	return true, nil
}

// propagateSplit implements spec.md §4.4.4's insert_into_parent: split the
// overflowing node held at stack[idx], then either fold the promoted
// separator into its parent (recursing if that overflows too) or, if the
// node was the root, allocate a new internal root above it.
func (t *Tree) propagateSplit(stack []frame, idx int, guard *rootGuard) error {
	f := &stack[idx]
	sepKey, rightID, parentID, err := t.splitNode(stack, f)
	if err != nil {
		return err
	}

	if parentID == page.Invalid {
		return t.createNewRoot(stack, f.pg.ID, sepKey, rightID, guard)
	}

	if idx > 0 && stack[idx-1].pg.ID == parentID {
		parent := &stack[idx-1]
		if err := t.absorbSeparator(parent, f.pg.ID, sepKey, rightID); err != nil {
			return err
		}
		maxSize, _ := t.sizesFor(parent.nd.kind)
		if len(parent.nd.keys) <= maxSize {
			return nil
		}
		return t.propagateSplit(stack, idx-1, guard)
	}

	// The parent was already proven safe during descent and released
	// early, so it is guaranteed to absorb this one separator without
	// itself overflowing — no further recursion is possible.
	return t.absorbSeparatorStandalone(parentID, f.pg.ID, sepKey, rightID)
}

// splitNode splits an overflowing node (leaf or internal) at the
// floor(max_size/2) boundary (see minSizeFor), per spec.md §4.4.4,
// returning the separator key to promote, the new sibling's id, and the
// split node's (unchanged) parent id.
func (t *Tree) splitNode(stack []frame, f *frame) (sepKey Key, rightID, parentID page.ID, err error) {
	maxSize, _ := t.sizesFor(f.nd.kind)
	splitIdx := minSizeFor(maxSize)

	rightPg, err := t.bpm.NewPage()
	if err != nil {
		return Key{}, page.Invalid, page.Invalid, errors.Wrap(err, "btree: split: allocate sibling")
	}
	right := &node{id: rightPg.ID, parent: f.nd.parent, kind: f.nd.kind, next: page.Invalid}
	right.keys = append([]Key{}, f.nd.keys[splitIdx:]...)
	right.values = append([]Value{}, f.nd.values[splitIdx:]...)

	if f.nd.kind == kindLeaf {
		right.next = f.nd.next
		f.nd.next = right.id
	} else {
		// One of these children may be the on-path node still write-latched
		// by the caller's own descent stack (this split is happening on an
		// ancestor above it), so route through setParentOnPath rather than
		// setParent directly.
		for _, v := range right.values {
			if serr := t.setParentOnPath(stack, v.PageID(), right.id); serr != nil {
				_, _ = t.bpm.Unpin(rightPg.ID, false)
				return Key{}, page.Invalid, page.Invalid, serr
			}
		}
	}

	f.nd.keys = f.nd.keys[:splitIdx]
	f.nd.values = f.nd.values[:splitIdx]
	f.dirty = true
	encodeNode(f.nd, f.pg)

	sepKey = right.keys[0]
	if right.kind == kindInternal {
		right.keys[0] = Key{} // slot 0's key is unused/placeholder
	}
	encodeNode(right, rightPg)
	if _, uerr := t.bpm.Unpin(rightPg.ID, true); uerr != nil {
		return Key{}, page.Invalid, page.Invalid, errors.Wrap(uerr, "btree: split: unpin sibling")
	}

	return sepKey, right.id, f.nd.parent, nil
}

func (t *Tree) absorbSeparator(parent *frame, leftID page.ID, sepKey Key, rightID page.ID) error {
	ci := indexOfChild(parent.nd, leftID)
	parent.nd.keys = insertKey(parent.nd.keys, ci+1, sepKey)
	parent.nd.values = insertValue(parent.nd.values, ci+1, ValueFromPageID(rightID))
	parent.dirty = true
	encodeNode(parent.nd, parent.pg)
	return nil
}

func (t *Tree) absorbSeparatorStandalone(parentID, leftID page.ID, sepKey Key, rightID page.ID) error {
	pg, err := t.bpm.Fetch(parentID)
	if err != nil {
		return errors.Wrapf(err, "btree: split: fetch parent %d", parentID)
	}
	pg.Latch.Lock()
	nd, err := decodeNode(pg)
	if err != nil {
		pg.Latch.Unlock()
		_, _ = t.bpm.Unpin(parentID, false)
		return err
	}
	ci := indexOfChild(nd, leftID)
	nd.keys = insertKey(nd.keys, ci+1, sepKey)
	nd.values = insertValue(nd.values, ci+1, ValueFromPageID(rightID))
	encodeNode(nd, pg)
	pg.Latch.Unlock()
	_, err = t.bpm.Unpin(parentID, true)
	return err
}

func (t *Tree) createNewRoot(stack []frame, leftID page.ID, sepKey Key, rightID page.ID, guard *rootGuard) error {
	pg, err := t.bpm.NewPage()
	if err != nil {
		return errors.Wrap(err, "btree: split: allocate new root")
	}
	n := &node{
		id:     pg.ID,
		parent: page.Invalid,
		kind:   kindInternal,
		next:   page.Invalid,
		keys:   []Key{{}, sepKey},
		values: []Value{ValueFromPageID(leftID), ValueFromPageID(rightID)},
	}
	encodeNode(n, pg)

	// leftID is the node that just split — still write-latched by the
	// caller's own descent stack, so setParentOnPath rewires it in place
	// instead of re-fetching/re-latching. rightID is the freshly allocated,
	// still-unlatched sibling, safe for setParent's own fetch/latch path.
	if err := t.setParentOnPath(stack, leftID, pg.ID); err != nil {
		_, _ = t.bpm.Unpin(pg.ID, false)
		return err
	}
	if err := t.setParent(rightID, pg.ID); err != nil {
		_, _ = t.bpm.Unpin(pg.ID, false)
		return err
	}

	t.root = pg.ID
	if err := t.saveRoot(); err != nil {
		_, _ = t.bpm.Unpin(pg.ID, false)
		return err
	}
	_, err = t.bpm.Unpin(pg.ID, true)
	return err
}

func (t *Tree) setParent(id, parent page.ID) error {
	pg, err := t.bpm.Fetch(id)
	if err != nil {
		return errors.Wrapf(err, "btree: setParent: fetch %d", id)
	}
	pg.Latch.Lock()
	nd, err := decodeNode(pg)
	if err != nil {
		pg.Latch.Unlock()
		_, _ = t.bpm.Unpin(id, false)
		return err
	}
	nd.parent = parent
	encodeNode(nd, pg)
	pg.Latch.Unlock()
	_, err = t.bpm.Unpin(id, true)
	return err
}
