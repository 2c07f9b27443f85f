package btree

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corestore/concurrency/transaction"
	"corestore/config"
	"corestore/storage/bufferpool"
	"corestore/storage/pagestore"
)

func newTestTree(t *testing.T, opts ...Option) *Tree {
	t.Helper()
	dir := t.TempDir()
	store, err := pagestore.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bpm := bufferpool.New(config.Config{PoolFrames: 64, HashBucketCapacity: 4}, store)
	tr, err := Open("t", bpm, opts...)
	require.NoError(t, err)
	return tr
}

func kv(n uint64) (Key, Value) {
	return KeyFromUint64(n), ValueFromRID(transaction.RID(n))
}

func mustInsert(t *testing.T, tr *Tree, n uint64) {
	t.Helper()
	k, v := kv(n)
	ok, err := tr.Insert(nil, k, v)
	require.NoError(t, err)
	require.True(t, ok, "insert %d", n)
}

func leafChain(t *testing.T, tr *Tree) []uint64 {
	t.Helper()
	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []uint64
	for !it.IsEnd() {
		got = append(got, it.Key().Uint64())
		require.NoError(t, it.Next())
	}
	return got
}

// TestInsertSortedSplit is scenario S1: inserting 1..5 in ascending order
// into an order-4 tree splits the single overflowing leaf into a left leaf
// {1,2} and a right leaf {3,4,5}, promoting 3 as the new root's separator.
func TestInsertSortedSplit(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	for _, n := range []uint64{1, 2, 3, 4, 5} {
		mustInsert(t, tr, n)
	}

	require.Equal(t, []uint64{1, 2, 3, 4, 5}, leafChain(t, tr))

	_, found, err := tr.Get(KeyFromUint64(4))
	require.NoError(t, err)
	require.True(t, found)
}

// TestInsertReverseOrder is scenario S2: the same key set inserted in
// descending order ends up searchable and in ascending order down the leaf
// chain regardless of insertion order.
func TestInsertReverseOrder(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	for _, n := range []uint64{5, 4, 3, 2, 1} {
		mustInsert(t, tr, n)
	}

	require.Equal(t, []uint64{1, 2, 3, 4, 5}, leafChain(t, tr))
	for _, n := range []uint64{1, 2, 3, 4, 5} {
		v, found, err := tr.Get(KeyFromUint64(n))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, transaction.RID(n), v.RID())
	}
}

// TestDeleteCoalesce is scenario S3: starting from S1's tree, removing the
// smallest key underflows the left leaf to size 1, which is small enough
// to merge outright with its right sibling (1+3=4 does not exceed
// max_size), collapsing the tree back down to a single leaf.
func TestDeleteCoalesce(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	for _, n := range []uint64{1, 2, 3, 4, 5} {
		mustInsert(t, tr, n)
	}

	require.NoError(t, tr.Remove(nil, KeyFromUint64(1)))

	require.Equal(t, []uint64{2, 3, 4, 5}, leafChain(t, tr))
	_, found, err := tr.Get(KeyFromUint64(1))
	require.NoError(t, err)
	require.False(t, found)

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.IsEnd())
}

// TestDeleteRedistribute is scenario S4: a tree with leaves {1,2,3} and
// {4,5,6,7} under a root separator of 4. Removing 1 leaves the left leaf
// at exactly min_size (2), a no-op for the parent. Removing 2 next
// underflows the left leaf to size 1; the combined size with its right
// sibling (1+4=5) exceeds max_size, so the two redistribute a single
// entry instead of merging, moving 4 across and updating the separator.
func TestDeleteRedistribute(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	// This insertion order reaches the {1,2,3} / {4,5,6,7} precondition
	// exactly: 2..6 ascending splits into {2,3} / {4,5,6} on separator 4,
	// then 7 grows the right leaf to {4,5,6,7} and 1 grows the left leaf
	// to {1,2,3}, neither triggering a further split.
	for _, n := range []uint64{2, 3, 4, 5, 6, 7, 1} {
		mustInsert(t, tr, n)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, leafChain(t, tr))

	require.NoError(t, tr.Remove(nil, KeyFromUint64(1)))
	require.Equal(t, []uint64{2, 3, 4, 5, 6, 7}, leafChain(t, tr))

	require.NoError(t, tr.Remove(nil, KeyFromUint64(2)))
	require.Equal(t, []uint64{3, 4, 5, 6, 7}, leafChain(t, tr))

	for _, n := range []uint64{3, 4, 5, 6, 7} {
		_, found, err := tr.Get(KeyFromUint64(n))
		require.NoError(t, err)
		require.True(t, found, "key %d", n)
	}
	for _, n := range []uint64{1, 2} {
		_, found, err := tr.Get(KeyFromUint64(n))
		require.NoError(t, err)
		require.False(t, found, "key %d", n)
	}
}

// TestDuplicateInsertReturnsFalse exercises §4.4.2's contract for
// re-inserting an existing key: Insert reports false rather than
// overwriting or erroring.
func TestDuplicateInsertReturnsFalse(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	mustInsert(t, tr, 1)

	k, v := kv(1)
	ok, err := tr.Insert(nil, k, v)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestRemoveMissingKeyIsNoop exercises §4.4.2's contract for removing a
// key that was never inserted.
func TestRemoveMissingKeyIsNoop(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	mustInsert(t, tr, 1)
	require.NoError(t, tr.Remove(nil, KeyFromUint64(999)))

	_, found, err := tr.Get(KeyFromUint64(1))
	require.NoError(t, err)
	require.True(t, found)
}

// TestEmptyTreeAfterDrainingAllKeys exercises the leaf-root-emptied case:
// removing every key from a tree that never split leaves it in the same
// state as a freshly opened tree.
func TestEmptyTreeAfterDrainingAllKeys(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	mustInsert(t, tr, 1)
	mustInsert(t, tr, 2)

	require.NoError(t, tr.Remove(nil, KeyFromUint64(1)))
	require.NoError(t, tr.Remove(nil, KeyFromUint64(2)))

	require.True(t, tr.IsEmpty())
	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.IsEnd())
}

// TestRandomInsertDeleteSequencePreservesInvariants is the property-test
// counterpart of S1-S4: a long randomized sequence of inserts and deletes
// must leave the tree's leaf chain equal to exactly the surviving key set,
// in ascending order (invariant 4), and every point lookup consistent
// with the same reference set (invariant 1's consequence at the API
// surface: no key is ever lost or duplicated).
func TestRandomInsertDeleteSequencePreservesInvariants(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	rng := rand.New(rand.NewSource(7))
	present := map[uint64]bool{}

	const ops = 500
	const keySpace = 60
	for i := 0; i < ops; i++ {
		n := uint64(rng.Intn(keySpace))
		if rng.Intn(2) == 0 {
			k, v := kv(n)
			ok, err := tr.Insert(nil, k, v)
			require.NoError(t, err)
			require.Equal(t, !present[n], ok, "insert(%d) at op %d", n, i)
			present[n] = true
		} else {
			require.NoError(t, tr.Remove(nil, KeyFromUint64(n)))
			present[n] = false
		}
	}

	var want []uint64
	for n := uint64(0); n < keySpace; n++ {
		if present[n] {
			want = append(want, n)
		}
	}
	require.Equal(t, want, leafChain(t, tr))

	for n := uint64(0); n < keySpace; n++ {
		v, found, err := tr.Get(KeyFromUint64(n))
		require.NoError(t, err)
		require.Equal(t, present[n], found, "key %d", n)
		if found {
			require.Equal(t, transaction.RID(n), v.RID())
		}
	}
}

// TestRemoveMergeUsesTransactionPageSet is a regression test for a
// merge-and-root-collapse under a real *transaction.Transaction: removing 1
// from S1's tree makes the leftmost leaf absorb its right sibling and the
// root collapse onto that leaf. The old root's page (still pinned by the
// descent's page-set when it is freed) must only reach the buffer pool's
// Delete once the transaction's page-set has released it, and the
// transaction's deleted-page-set must be drained of the freed pages once
// the operation returns.
func TestRemoveMergeUsesTransactionPageSet(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	for _, n := range []uint64{1, 2, 3, 4, 5} {
		mustInsert(t, tr, n)
	}

	txn := transaction.New(1)
	require.NoError(t, tr.Remove(txn, KeyFromUint64(1)))

	require.Equal(t, []uint64{2, 3, 4, 5}, leafChain(t, tr))
	require.Empty(t, txn.Pages(), "every latched page must be released by unwindStack")
	require.Empty(t, txn.DeletedPages(), "the merged page must be drained after the sweep")
}

// TestBeginAtPositionsMidStream exercises BeginAt's contract: an iterator
// seeded at a key that exists starts on it, and one seeded at a gap starts
// on the next larger key.
func TestBeginAtPositionsMidStream(t *testing.T) {
	tr := newTestTree(t, WithMaxSize(4, 4))
	for _, n := range []uint64{1, 2, 3, 4, 5} {
		mustInsert(t, tr, n)
	}

	it, err := tr.BeginAt(KeyFromUint64(3))
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.IsEnd())
	require.Equal(t, uint64(3), it.Key().Uint64())

	it2, err := tr.BeginAt(KeyFromUint64(6))
	require.NoError(t, err)
	defer it2.Close()
	require.True(t, it2.IsEnd())
}
