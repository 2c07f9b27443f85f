package btree

import (
	"github.com/pkg/errors"

	"corestore/storage/page"
)

// Iterator is a forward range iterator over leaf entries, per spec.md
// §4.4.2. It holds a read latch and a pin on exactly one leaf page at a
// time, released exactly once — by Next when it hops to the following
// leaf, or by Close if the caller stops early — unlike the teacher's own
// Iterator, whose Close can unpin a page Next has already unpinned.
type Iterator struct {
	t   *Tree
	pg  *page.Page
	nd  *node
	idx int
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *Tree) Begin() (*Iterator, error) {
	guard := acquireRootGuard(&t.rootMu, false)
	root := t.root
	guard.releaseIfHeld()
	if root == page.Invalid {
		return &Iterator{}, nil
	}

	cur := root
	for {
		pg, err := t.bpm.Fetch(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "btree: begin: fetch page %d", cur)
		}
		pg.Latch.RLock()
		nd, err := decodeNode(pg)
		if err != nil {
			pg.Latch.RUnlock()
			_, _ = t.bpm.Unpin(cur, false)
			return nil, err
		}
		if nd.kind == kindLeaf {
			return &Iterator{t: t, pg: pg, nd: nd}, nil
		}
		child := nd.values[0].PageID()
		pg.Latch.RUnlock()
		if _, err := t.bpm.Unpin(cur, false); err != nil {
			return nil, err
		}
		cur = child
	}
}

// BeginAt returns an iterator positioned at the smallest key >= key.
func (t *Tree) BeginAt(key Key) (*Iterator, error) {
	guard, stack, err := t.descend(nil, opRead, key)
	if err != nil {
		return nil, err
	}
	guard.releaseIfHeld()
	if len(stack) == 0 {
		return &Iterator{}, nil
	}

	f := stack[0]
	idx := lowerBound(f.nd.keys, key)
	if idx < len(f.nd.keys) {
		return &Iterator{t: t, pg: f.pg, nd: f.nd, idx: idx}, nil
	}

	if f.nd.next == page.Invalid {
		t.releaseFrame(f)
		return &Iterator{}, nil
	}
	nextPg, err := t.bpm.Fetch(f.nd.next)
	if err != nil {
		t.releaseFrame(f)
		return nil, errors.Wrapf(err, "btree: beginAt: fetch page %d", f.nd.next)
	}
	nextPg.Latch.RLock()
	nextNd, err := decodeNode(nextPg)
	t.releaseFrame(f)
	if err != nil {
		nextPg.Latch.RUnlock()
		_, _ = t.bpm.Unpin(nextPg.ID, false)
		return nil, err
	}
	return &Iterator{t: t, pg: nextPg, nd: nextNd, idx: 0}, nil
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.pg == nil }

// Key returns the current entry's key. Undefined if IsEnd.
func (it *Iterator) Key() Key { return it.nd.keys[it.idx] }

// Value returns the current entry's value. Undefined if IsEnd.
func (it *Iterator) Value() Value { return it.nd.values[it.idx] }

// Next advances to the following entry, hopping across the leaf chain via
// the next-leaf pointer when the current leaf is exhausted.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	it.idx++
	if it.idx < len(it.nd.keys) {
		return nil
	}

	next := it.nd.next
	it.t.releaseFrame(frame{pg: it.pg, nd: it.nd, write: false})
	it.pg, it.nd, it.idx = nil, nil, 0
	if next == page.Invalid {
		return nil
	}

	pg, err := it.t.bpm.Fetch(next)
	if err != nil {
		return errors.Wrapf(err, "btree: next: fetch page %d", next)
	}
	pg.Latch.RLock()
	nd, err := decodeNode(pg)
	if err != nil {
		pg.Latch.RUnlock()
		_, _ = it.t.bpm.Unpin(next, false)
		return err
	}
	it.pg, it.nd = pg, nd
	return nil
}

// Close releases the currently held leaf, if any. Safe to call multiple
// times or after natural exhaustion.
func (it *Iterator) Close() {
	if it.pg == nil {
		return
	}
	it.t.releaseFrame(frame{pg: it.pg, nd: it.nd, write: false})
	it.pg, it.nd = nil, nil
}
