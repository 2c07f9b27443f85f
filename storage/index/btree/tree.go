package btree

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"corestore/logging"
	"corestore/storage/bufferpool"
	"corestore/storage/page"
)

// Tree is a concurrent, disk-backed B+ tree index. root_page_id is
// protected by rootMu per spec.md §5; every other page carries its own
// latch (page.Page.Latch), acquired and released via the crabbing descent
// in descend.go.
type Tree struct {
	rootMu sync.RWMutex
	root   page.ID

	name string
	bpm  *bufferpool.Manager

	leafMaxSize     int
	internalMaxSize int

	log *logrus.Entry
}

// Option configures a Tree at Open time.
type Option func(*Tree)

// WithMaxSize overrides the leaf and internal node capacities that would
// otherwise be computed from PAGE_SIZE, the way the scenario tests in
// spec.md §8 need a small, exact "order=4" tree to assert shape against.
// The original course project's own test harness sizes trees the same
// way, independent of the real on-disk page capacity.
func WithMaxSize(leaf, internal int) Option {
	return func(t *Tree) {
		t.leafMaxSize = leaf
		t.internalMaxSize = internal
	}
}

// Open loads (or creates) the named index over bpm. The root page id is
// resolved from the header page's name -> root_page_id record if present.
func Open(name string, bpm *bufferpool.Manager, opts ...Option) (*Tree, error) {
	t := &Tree{
		name:            name,
		bpm:             bpm,
		leafMaxSize:     defaultMaxSize,
		internalMaxSize: defaultMaxSize,
		log:             logging.For("btree"),
	}
	for _, opt := range opts {
		opt(t)
	}

	header, err := bpm.Fetch(page.Header)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open: fetch header page")
	}
	root, ok := readHeaderRecords(header)[name]
	if _, uerr := bpm.Unpin(page.Header, false); uerr != nil {
		return nil, errors.Wrap(uerr, "btree: open: unpin header page")
	}
	if ok {
		t.root = root
	} else {
		t.root = page.Invalid
	}
	return t, nil
}

// IsEmpty reports whether the tree currently has no root.
func (t *Tree) IsEmpty() bool {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.root == page.Invalid
}

func (t *Tree) sizesFor(k kind) (maxSize, minSize int) {
	if k == kindLeaf {
		return t.leafMaxSize, minSizeFor(t.leafMaxSize)
	}
	return t.internalMaxSize, minSizeFor(t.internalMaxSize)
}

// saveRoot persists the tree's current root page id into the header
// page's name -> root_page_id record, per spec.md §4.4.7. Caller must
// already hold the root latch exclusively.
func (t *Tree) saveRoot() error {
	header, err := t.bpm.Fetch(page.Header)
	if err != nil {
		return errors.Wrap(err, "btree: saveRoot: fetch header page")
	}
	records := readHeaderRecords(header)
	if t.root == page.Invalid {
		delete(records, t.name)
	} else {
		records[t.name] = t.root
	}
	writeHeaderRecords(header, records)
	_, err = t.bpm.Unpin(page.Header, true)
	if err != nil {
		return errors.Wrap(err, "btree: saveRoot: unpin header page")
	}
	return nil
}

// Close flushes every dirty resident page through the buffer pool, the
// tree-level analogue of the teacher's BPlusTree.Close.
func (t *Tree) Close() error {
	return t.bpm.FlushAll()
}
