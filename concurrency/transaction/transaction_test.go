package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corestore/storage/page"
)

func TestNewTransactionStartsGrowing(t *testing.T) {
	txn := New(1)
	require.Equal(t, Growing, txn.State())
	require.Equal(t, uint64(1), txn.ID())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "GROWING", Growing.String())
	require.Equal(t, "SHRINKING", Shrinking.String())
	require.Equal(t, "COMMITTED", Committed.String())
	require.Equal(t, "ABORTED", Aborted.String())
}

func TestPageBookkeeping(t *testing.T) {
	txn := New(1)
	txn.AddPage(page.ID(5))
	txn.AddPage(page.ID(6))
	require.ElementsMatch(t, []page.ID{5, 6}, txn.Pages())

	txn.RemovePage(page.ID(5))
	require.ElementsMatch(t, []page.ID{6}, txn.Pages())
}

func TestDeletedPageBookkeeping(t *testing.T) {
	txn := New(1)
	txn.MarkDeleted(page.ID(9))
	require.ElementsMatch(t, []page.ID{9}, txn.DeletedPages())
}

func TestTakeDeletedPagesDrainsTheSet(t *testing.T) {
	txn := New(1)
	txn.MarkDeleted(page.ID(9))
	txn.MarkDeleted(page.ID(10))

	require.ElementsMatch(t, []page.ID{9, 10}, txn.TakeDeletedPages())
	require.Empty(t, txn.DeletedPages())
	require.Empty(t, txn.TakeDeletedPages())
}

func TestLockBookkeepingAndUpgrade(t *testing.T) {
	txn := New(1)
	rid := RID(1)

	txn.GrantShared(rid)
	require.True(t, txn.HasShared(rid))
	require.False(t, txn.HasExclusive(rid))

	txn.GrantExclusive(rid)
	require.False(t, txn.HasShared(rid), "upgrade clears the shared lock")
	require.True(t, txn.HasExclusive(rid))

	txn.ReleaseLock(rid)
	require.False(t, txn.HasShared(rid))
	require.False(t, txn.HasExclusive(rid))
}

func TestLockSnapshots(t *testing.T) {
	txn := New(1)
	txn.GrantShared(RID(1))
	txn.GrantExclusive(RID(2))

	require.ElementsMatch(t, []RID{1}, txn.SharedLocks())
	require.ElementsMatch(t, []RID{2}, txn.ExclusiveLocks())
}

func TestManagerAssignsIncreasingIDs(t *testing.T) {
	m := NewManager()
	t1 := m.Begin()
	t2 := m.Begin()
	require.NotEqual(t, t1.ID(), t2.ID())

	got, ok := m.Lookup(t1.ID())
	require.True(t, ok)
	require.Same(t, t1, got)
}

func TestManagerFinishRemovesFromActiveSet(t *testing.T) {
	m := NewManager()
	txn := m.Begin()

	m.Finish(txn, true)
	require.Equal(t, Committed, txn.State())

	_, ok := m.Lookup(txn.ID())
	require.False(t, ok)
}

func TestManagerFinishAborted(t *testing.T) {
	m := NewManager()
	txn := m.Begin()

	m.Finish(txn, false)
	require.Equal(t, Aborted, txn.State())
}
