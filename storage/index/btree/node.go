package btree

import "corestore/storage/page"

type kind uint8

const (
	kindInternal kind = 1
	kindLeaf     kind = 2
)

// node is the decoded, in-memory form of a tree page. Internal and leaf
// pages share one dense slot representation per spec.md §3: slot i is
// (keys[i], values[i]). For an internal node, slot 0's key is an unused
// placeholder and values[0] is the leftmost child; the search key for
// child i>=1 is keys[i]. For a leaf, every slot is a real (key, RID) pair.
type node struct {
	id     page.ID
	parent page.ID
	kind   kind
	next   page.ID // leaves only; page.Invalid if none
	keys   []Key
	values []Value
}

func (n *node) size() int { return len(n.keys) }

// searchSlot binary-searches a leaf's sorted keys for an exact match.
func searchSlot(keys []Key, target Key) (int, bool) {
	lo, hi := 0, len(keys)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch c := Compare(keys[mid], target); {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1, false
}

// lowerBound returns the index of the first key >= target (or len(keys) if
// none). Used for a leaf's insert position and for BeginAt's starting
// slot; internal-node child selection uses childIndex.
func lowerBound(keys []Key, target Key) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if Compare(keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex implements spec.md §3's internal lookup rule: the child at
// the largest index whose key is <= k, treating slot 0 as the leftmost
// child when every real key exceeds k. Searches keys[1:size).
func childIndex(n *node, key Key) int {
	lo, hi := 1, len(n.keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if Compare(n.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// indexOfChild finds the slot whose value is childID. Used when a child
// just split and its separator must be inserted next to it.
func indexOfChild(n *node, childID page.ID) int {
	for i, v := range n.values {
		if v.PageID() == childID {
			return i
		}
	}
	return -1
}

func insertKey(keys []Key, i int, k Key) []Key {
	keys = append(keys, Key{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	return keys
}

func insertValue(values []Value, i int, v Value) []Value {
	values = append(values, Value{})
	copy(values[i+1:], values[i:])
	values[i] = v
	return values
}

func removeKey(keys []Key, i int) []Key {
	return append(keys[:i], keys[i+1:]...)
}

func removeValue(values []Value, i int) []Value {
	return append(values[:i], values[i+1:]...)
}
