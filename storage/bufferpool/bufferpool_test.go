package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"corestore/config"
	"corestore/storage/page"
	"corestore/storage/pagestore"
)

func newTestManager(t *testing.T, poolFrames int) *Manager {
	t.Helper()
	dir := t.TempDir()
	store, err := pagestore.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{PoolFrames: poolFrames, HashBucketCapacity: 2}
	return New(cfg, store)
}

func TestNewPageFetchRoundTrip(t *testing.T) {
	m := newTestManager(t, 4)

	pg, err := m.NewPage()
	require.NoError(t, err)
	pg.Data[0] = 0xAB
	id := pg.ID
	_, err = m.Unpin(id, true)
	require.NoError(t, err)

	require.NoError(t, m.Flush(id))

	fetched, err := m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), fetched.Data[0])
	_, err = m.Unpin(id, false)
	require.NoError(t, err)
}

func TestFetchMissingLoadsFromDisk(t *testing.T) {
	m := newTestManager(t, 4)

	pg, err := m.NewPage()
	require.NoError(t, err)
	id := pg.ID
	pg.Data[10] = 7
	_, err = m.Unpin(id, true)
	require.NoError(t, err)
	require.NoError(t, m.Flush(id))

	// Evict id by cycling the pool through more pages than it holds.
	for i := 0; i < 4; i++ {
		np, err := m.NewPage()
		require.NoError(t, err)
		_, err = m.Unpin(np.ID, false)
		require.NoError(t, err)
	}

	fetched, err := m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, byte(7), fetched.Data[10])
	_, err = m.Unpin(id, false)
	require.NoError(t, err)
}

func TestUnpinDecrementsAndEnqueuesVictim(t *testing.T) {
	m := newTestManager(t, 4)

	pg, err := m.NewPage()
	require.NoError(t, err)
	id := pg.ID

	ok, err := m.Unpin(id, false)
	require.NoError(t, err)
	require.True(t, ok)

	stats := m.FrameStats()
	require.Equal(t, 0, stats.Pinned)
	require.Equal(t, 1, stats.VictimQueue)
}

func TestUnpinUnknownPageErrors(t *testing.T) {
	m := newTestManager(t, 4)
	_, err := m.Unpin(page.ID(999), false)
	require.Error(t, err)
}

// TestOutOfMemoryWhenEveryFrameIsPinned exercises the failure the buffer
// pool must surface once every frame is pinned and there is nothing left
// to evict.
func TestOutOfMemoryWhenEveryFrameIsPinned(t *testing.T) {
	m := newTestManager(t, 2)

	_, err := m.NewPage()
	require.NoError(t, err)
	_, err = m.NewPage()
	require.NoError(t, err)

	_, err = m.NewPage()
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestPinnedPageSurvivesEviction(t *testing.T) {
	m := newTestManager(t, 2)

	pinned, err := m.NewPage()
	require.NoError(t, err)
	pinnedID := pinned.ID

	other, err := m.NewPage()
	require.NoError(t, err)
	_, err = m.Unpin(other.ID, false)
	require.NoError(t, err)

	// A third NewPage evicts the only victim-eligible frame (other), never
	// the still-pinned page.
	third, err := m.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, pinnedID, third.ID)

	_, err = m.Fetch(pinnedID)
	require.NoError(t, err, "pinned page must still be resident")
	_, err = m.Unpin(pinnedID, false)
	require.NoError(t, err)
	_, err = m.Unpin(pinnedID, false)
	require.NoError(t, err)
	_, err = m.Unpin(third.ID, false)
	require.NoError(t, err)
}

func TestDeleteRequiresUnpinned(t *testing.T) {
	m := newTestManager(t, 4)
	pg, err := m.NewPage()
	require.NoError(t, err)

	err = m.Delete(pg.ID)
	require.ErrorIs(t, err, ErrPagePinned)

	_, err = m.Unpin(pg.ID, false)
	require.NoError(t, err)
	require.NoError(t, m.Delete(pg.ID))

	_, ok := m.table.Find(pg.ID)
	require.False(t, ok)
}

func TestFlushAllSkipsPinnedAndClean(t *testing.T) {
	m := newTestManager(t, 4)

	dirtyUnpinned, err := m.NewPage()
	require.NoError(t, err)
	_, err = m.Unpin(dirtyUnpinned.ID, true)
	require.NoError(t, err)

	stillPinned, err := m.NewPage()
	require.NoError(t, err)

	require.NoError(t, m.FlushAll())

	stats := m.FrameStats()
	require.Equal(t, 1, stats.Dirty, "the still-pinned dirty page must not be flushed")

	_, err = m.Unpin(stillPinned.ID, true)
	require.NoError(t, err)
}
