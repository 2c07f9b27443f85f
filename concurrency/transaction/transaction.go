// Package transaction implements the transaction context that the lock
// manager and the B+ tree index both read and mutate: the two-phase-locking
// state, the pinned-page set a tree operation must unpin on the way out,
// and the two lock sets the wait-die lock manager consults on every grant.
//
// Grounded on ShubhamNegi4-DaemonDB's storage_engine/transaction_manager
// (package txn, Transaction{ID, State}, TxnManager{nextID, activeTxns,
// mu}), generalized from the teacher's row-level UNDO log (InsertedRow/
// UpdatedRow, meant for a SQL heap file that is out of scope here) to the
// RID-lock and page-latch bookkeeping a tuple-lock manager and a crabbing
// B+ tree actually need.
package transaction

import (
	"sync"

	"corestore/storage/page"
)

// State is the two-phase-locking state of a transaction.
type State uint8

const (
	// Growing transactions may acquire new locks.
	Growing State = iota
	// Shrinking transactions may only release locks (strict two-phase
	// locking never enters this state before Committed/Aborted).
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// RID is the tuple identifier the lock manager and index operate on.
type RID uint64

// Transaction is the external-collaborator context threaded through every
// index and lock-manager operation. Its id doubles as the wait-die
// priority: lower ids are older per spec.md §4.5.
type Transaction struct {
	mu sync.Mutex

	id    uint64
	state State

	// pages holds every page.ID a tree operation currently has pinned and
	// latched on this transaction's behalf along its crabbing descent; the
	// tree adds and removes entries as its own frame stack acquires and
	// releases pages.
	pages map[page.ID]struct{}

	// deletedPages holds page ids a tree operation has freed and will hand
	// to the buffer pool for deletion once its descent path is released
	// (see TakeDeletedPages).
	deletedPages map[page.ID]struct{}

	sharedLocks    map[RID]struct{}
	exclusiveLocks map[RID]struct{}
}

// New creates a Growing transaction with the given id.
func New(id uint64) *Transaction {
	return &Transaction{
		id:             id,
		state:          Growing,
		pages:          make(map[page.ID]struct{}),
		deletedPages:   make(map[page.ID]struct{}),
		sharedLocks:    make(map[RID]struct{}),
		exclusiveLocks: make(map[RID]struct{}),
	}
}

// ID returns the transaction's id (its wait-die priority).
func (t *Transaction) ID() uint64 { return t.id }

// State returns the current two-phase-locking state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the transaction's state.
func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// AddPage records that id is pinned on behalf of this transaction.
func (t *Transaction) AddPage(id page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[id] = struct{}{}
}

// RemovePage forgets id, typically once it has been unpinned.
func (t *Transaction) RemovePage(id page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, id)
}

// Pages returns a snapshot of pinned page ids.
func (t *Transaction) Pages() []page.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]page.ID, 0, len(t.pages))
	for id := range t.pages {
		out = append(out, id)
	}
	return out
}

// MarkDeleted records that id is to be handed to the buffer pool for
// deletion.
func (t *Transaction) MarkDeleted(id page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPages[id] = struct{}{}
}

// DeletedPages returns a snapshot of pages marked deleted.
func (t *Transaction) DeletedPages() []page.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]page.ID, 0, len(t.deletedPages))
	for id := range t.deletedPages {
		out = append(out, id)
	}
	return out
}

// TakeDeletedPages returns the pages marked deleted and clears the set, so
// the caller that actually hands them to the buffer pool for deallocation
// (at crabbing release time, per spec.md §4.4.5/§6) sees each id exactly
// once.
func (t *Transaction) TakeDeletedPages() []page.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]page.ID, 0, len(t.deletedPages))
	for id := range t.deletedPages {
		out = append(out, id)
	}
	t.deletedPages = make(map[page.ID]struct{})
	return out
}

// HasShared reports whether the transaction holds a shared lock on rid.
func (t *Transaction) HasShared(rid RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLocks[rid]
	return ok
}

// HasExclusive reports whether the transaction holds an exclusive lock on
// rid.
func (t *Transaction) HasExclusive(rid RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLocks[rid]
	return ok
}

// GrantShared records that the transaction now holds a shared lock on rid.
func (t *Transaction) GrantShared(rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = struct{}{}
}

// GrantExclusive records that the transaction now holds an exclusive lock
// on rid, and clears any shared lock it may have held (lock upgrade).
func (t *Transaction) GrantExclusive(rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	t.exclusiveLocks[rid] = struct{}{}
}

// ReleaseLock forgets any lock the transaction holds on rid.
func (t *Transaction) ReleaseLock(rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	delete(t.exclusiveLocks, rid)
}

// SharedLocks returns a snapshot of RIDs held shared.
func (t *Transaction) SharedLocks() []RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RID, 0, len(t.sharedLocks))
	for rid := range t.sharedLocks {
		out = append(out, rid)
	}
	return out
}

// ExclusiveLocks returns a snapshot of RIDs held exclusive.
func (t *Transaction) ExclusiveLocks() []RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RID, 0, len(t.exclusiveLocks))
	for rid := range t.exclusiveLocks {
		out = append(out, rid)
	}
	return out
}

// Manager assigns monotonically increasing transaction ids and tracks the
// active set, grounded on the teacher's TxnManager{nextID, activeTxns, mu}.
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	active  map[uint64]*Transaction
}

// NewManager creates an empty transaction manager.
func NewManager() *Manager {
	return &Manager{active: make(map[uint64]*Transaction)}
}

// Begin creates and registers a new Growing transaction.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	txn := New(m.nextID)
	m.active[txn.id] = txn
	return txn
}

// Lookup returns the active transaction with the given id, if any.
func (m *Manager) Lookup(id uint64) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.active[id]
	return txn, ok
}

// Finish transitions txn out of the active set, recording whether it
// committed or aborted.
func (m *Manager) Finish(txn *Transaction, committed bool) {
	if committed {
		txn.SetState(Committed)
	} else {
		txn.SetState(Aborted)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, txn.id)
}
