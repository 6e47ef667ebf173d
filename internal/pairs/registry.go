// Package pairs implements the PairRegistry component of the matching core:
// token-pair metadata, tick-size/tick-range policy, and active/inactive
// state sourced entirely from ledger events.
package pairs

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidPair is returned by Upsert when tick_size or
	// max_tick_range is zero.
	ErrInvalidPair = errors.New("pairs: invalid pair")
	// ErrUnknownPair is returned by SetActive for a pair id that was
	// never registered.
	ErrUnknownPair = errors.New("pairs: unknown pair")
	// ErrPairNotFound is returned by RequireActive for a pair id that
	// was never registered.
	ErrPairNotFound = errors.New("pairs: pair not found")
	// ErrPairInactive is returned by RequireActive for a deactivated
	// pair.
	ErrPairInactive = errors.New("pairs: pair inactive")
)

// Pair is the metadata for a single tradeable token pair.
type Pair struct {
	PairID       uint64
	BaseTokenID  uint64
	QuoteTokenID uint64
	TickSize     uint64
	MaxTickRange uint64
	Active       bool
}

// Registry stores pair metadata. It never fabricates pairs — entries are
// only created through Upsert, which is driven by a ledger-sourced
// pair_registered event.
type Registry struct {
	mu    sync.RWMutex
	pairs map[uint64]*Pair
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pairs: make(map[uint64]*Pair)}
}

// Upsert applies a pair_registered event. Idempotent: re-applying the same
// pair id refreshes its metadata but preserves Active unless the pair is
// new, in which case it starts active.
func (r *Registry) Upsert(pairID, baseTokenID, quoteTokenID, tickSize, maxTickRange uint64) error {
	if tickSize == 0 || maxTickRange == 0 {
		return ErrInvalidPair
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.pairs[pairID]
	active := true
	if ok {
		active = existing.Active
	}

	r.pairs[pairID] = &Pair{
		PairID:       pairID,
		BaseTokenID:  baseTokenID,
		QuoteTokenID: quoteTokenID,
		TickSize:     tickSize,
		MaxTickRange: maxTickRange,
		Active:       active,
	}
	return nil
}

// SetActive toggles the active flag for a pair. Idempotent.
func (r *Registry) SetActive(pairID uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, ok := r.pairs[pairID]
	if !ok {
		return ErrUnknownPair
	}
	pair.Active = active
	return nil
}

// RequireActive returns the pair or a precise rejection reason.
func (r *Registry) RequireActive(pairID uint64) (Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[pairID]
	if !ok {
		return Pair{}, ErrPairNotFound
	}
	if !pair.Active {
		return Pair{}, ErrPairInactive
	}
	return *pair, nil
}

// Get returns a copy of the pair metadata regardless of active state.
func (r *Registry) Get(pairID uint64) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[pairID]
	if !ok {
		return Pair{}, false
	}
	return *pair, true
}
