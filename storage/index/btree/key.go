// Package btree implements the concurrent B+ tree index of spec.md §4.4:
// an ordered unique-key index over buffer-pool-hosted pages, with latch
// crabbing during descent, split-on-overflow insert, coalesce/redistribute
// delete, and a forward range iterator.
//
// Grounded on ShubhamNegi4-DaemonDB's
// storage_engine/access/indexfile_manager/bplustree package (fetchNode/
// writeNode/newNode over a buffer pool, FindLeaf, binarySearch/lowerBound,
// insertIntoParent, SplitLeaf/splitInternal, the deletion borrow-or-merge
// walk, and the leaf Iterator) for the tree-shape algorithms, and on
// _examples/original_source/src/index/b_plus_tree.cpp for the latch
// crabbing protocol and the exact split/redistribute/merge thresholds the
// teacher's own single-tree-wide-mutex version does not implement.
package btree

import (
	"bytes"
	"encoding/binary"

	"corestore/concurrency/transaction"
	"corestore/storage/page"
)

// KeySize is the fixed width of an opaque index key, per spec.md §1's
// "fixed-length opaque key type" non-goal (no variable-length or
// multi-column keys).
const KeySize = 8

// ValueSize is the fixed width of a slot value: either a page.ID (internal
// nodes) or a transaction.RID (leaf nodes), both of which fit in 8 bytes.
const ValueSize = 8

// Key is a fixed-length, comparable, hashable key.
type Key [KeySize]byte

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b.
// Byte-lexicographic comparison over a big-endian encoding preserves
// numeric order for the unsigned-integer keys used throughout the test
// suite, without giving Key itself any numeric meaning.
func Compare(a, b Key) int {
	return bytes.Compare(a[:], b[:])
}

// KeyFromUint64 encodes v as a big-endian Key, the convenience constructor
// used by every scenario and property test.
func KeyFromUint64(v uint64) Key {
	var k Key
	binary.BigEndian.PutUint64(k[:], v)
	return k
}

// Uint64 decodes a Key produced by KeyFromUint64.
func (k Key) Uint64() uint64 {
	return binary.BigEndian.Uint64(k[:])
}

// Value is a fixed-length slot value, holding either a page.ID or a
// transaction.RID depending on which kind of node it appears in.
type Value [ValueSize]byte

// ValueFromPageID encodes id as a Value, for internal-node slots.
func ValueFromPageID(id page.ID) Value {
	var v Value
	binary.BigEndian.PutUint32(v[4:], uint32(id))
	return v
}

// PageID decodes a Value produced by ValueFromPageID.
func (v Value) PageID() page.ID {
	return page.ID(binary.BigEndian.Uint32(v[4:]))
}

// ValueFromRID encodes rid as a Value, for leaf-node slots.
func ValueFromRID(rid transaction.RID) Value {
	var v Value
	binary.BigEndian.PutUint64(v[:], uint64(rid))
	return v
}

// RID decodes a Value produced by ValueFromRID.
func (v Value) RID() transaction.RID {
	return transaction.RID(binary.BigEndian.Uint64(v[:]))
}
