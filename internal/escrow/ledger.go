// Package escrow implements the EscrowLedger component: the matching
// core's accounting view of amounts committed to live orders, per
// (owner, token). It holds no real tokens — the Ledger collaborator
// separately verifies that on-chain escrow matches this accounting.
//
// This is a pure in-memory working set with no persistence or row
// locking: durability and on-chain truth live with the collaborator.
package escrow

import (
	"errors"
	"sync"
)

// ErrUnderflow is returned by Release when amount exceeds the committed
// balance.
var ErrUnderflow = errors.New("escrow: release exceeds committed balance")

// ErrDesynced is returned by Commit/Release for an (owner, token) pair
// that EscrowSync has flagged as diverged from the on-chain view.
var ErrDesynced = errors.New("escrow: desynchronized, awaiting resync")

type key struct {
	owner   string
	tokenID uint64
}

// Ledger is the per-owner, per-token committed-amount accounting table.
type Ledger struct {
	mu        sync.Mutex
	committed map[key]uint64
	desynced  map[key]bool
}

// New creates an empty escrow ledger.
func New() *Ledger {
	return &Ledger{
		committed: make(map[key]uint64),
		desynced:  make(map[key]bool),
	}
}

// Commit increases the committed balance for (owner, token).
func (l *Ledger) Commit(owner string, tokenID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{owner, tokenID}
	if l.desynced[k] {
		return ErrDesynced
	}
	l.committed[k] += amount
	return nil
}

// Release decreases the committed balance for (owner, token). Fails
// ErrUnderflow if amount exceeds what is committed.
func (l *Ledger) Release(owner string, tokenID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{owner, tokenID}
	if l.desynced[k] {
		return ErrDesynced
	}
	cur := l.committed[k]
	if amount > cur {
		return ErrUnderflow
	}
	remaining := cur - amount
	if remaining == 0 {
		delete(l.committed, k)
	} else {
		l.committed[k] = remaining
	}
	return nil
}

// Committed returns the current committed amount for (owner, token).
func (l *Ledger) Committed(owner string, tokenID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[key{owner, tokenID}]
}

// HasAtLeast reports whether at least `amount` is currently committed for
// (owner, token). It is a pure read; the ledger itself enforces no ceiling
// on Commit.
func (l *Ledger) HasAtLeast(owner string, tokenID, amount uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[key{owner, tokenID}] >= amount
}

// MarkDesynced flags (owner, token) as diverged from the on-chain view.
// All further Commit/Release calls for the pair fail until Resync is
// called. The facade does not call it: an EscrowSync event goes straight
// to Resync, which overwrites the balance without comparing it first.
func (l *Ledger) MarkDesynced(owner string, tokenID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.desynced[key{owner, tokenID}] = true
}

// Resync clears the desync flag and sets the committed balance to the
// externally supplied value. Facade.ApplyLedgerEvent calls it for every
// EscrowSync event.
func (l *Ledger) Resync(owner string, tokenID, externalCommitted uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{owner, tokenID}
	delete(l.desynced, k)
	if externalCommitted == 0 {
		delete(l.committed, k)
	} else {
		l.committed[k] = externalCommitted
	}
}

// IsDesynced reports whether (owner, token) is currently flagged.
func (l *Ledger) IsDesynced(owner string, tokenID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.desynced[key{owner, tokenID}]
}
