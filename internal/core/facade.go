// Package core implements the CoreFacade component: the single-threaded
// entry point that coordinates PairRegistry, OrderStore, TickIndex,
// EscrowLedger, Validator, MatchScanner, and SettlementEngine behind a
// submit/cancel/update/apply_ledger_event/scan_and_match surface.
//
// Submit, Cancel, Update, and ApplyLedgerEvent take the facade's mutex, so
// commands are linearized in arrival order. ScanAndMatch holds the mutex
// only to take its candidate snapshot; the settlement attempt for each
// candidate runs unlocked so submit/cancel/update stay responsive while a
// proposal is awaiting the Ledger collaborator's acknowledgement.
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/terminal-bench/tradeengine/internal/escrow"
	"github.com/terminal-bench/tradeengine/internal/matchscanner"
	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/settlement"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
	"github.com/terminal-bench/tradeengine/internal/validator"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/money"
)

// Facade errors not already defined by a collaborator package.
var (
	ErrNotOwner              = errors.New("core: caller is not the order owner")
	ErrAlreadyTerminal       = errors.New("core: order already reached a terminal state")
	ErrInsufficientEscrow    = errors.New("core: insufficient escrow available")
	ErrQuantityBelowReserved = errors.New("core: new quantity below already-filled-plus-reserved volume")
)

// SubmitOrder is the intake command for a new order.
type SubmitOrder struct {
	OrderID    string
	Owner      string
	PairID     uint64
	Side       orderstore.Side
	TickLower  uint64
	TickUpper  uint64
	LimitPrice uint64
	Quantity   uint64
	CreatedAt  int64
}

// Facade is one matching-core instance. A deployment shards many Facades
// by pair_id; each owns its own OrderStore/TickIndex but may share an
// EscrowLedger across shards (see internal/supervisor).
type Facade struct {
	mu sync.Mutex

	registry *pairs.Registry
	store    *orderstore.Store
	index    *tickindex.Index
	escrow   *escrow.Ledger
	engine   *settlement.Engine

	appliedSeq map[uint64]struct{}
}

// New wires a facade from its collaborators. escrowLedger may be shared
// with other Facade instances; everything else is private to this shard.
func New(registry *pairs.Registry, escrowLedger *escrow.Ledger, ledger ledgerapi.Ledger, cfg settlement.Config) *Facade {
	store := orderstore.New()
	index := tickindex.New(store)
	engine := settlement.New(store, index, escrowLedger, ledger, cfg)

	return &Facade{
		registry:   registry,
		store:      store,
		index:      index,
		escrow:     escrowLedger,
		engine:     engine,
		appliedSeq: make(map[uint64]struct{}),
	}
}

func escrowForSubmission(side orderstore.Side, quantity, limitPrice uint64) (uint64, error) {
	if side == orderstore.SideSell {
		return quantity, nil
	}
	return money.MulDivDown(quantity, limitPrice, money.BasisPointDivisor)
}

// Submit validates and ingests a new order, committing its escrow and
// indexing it for matching atomically.
func (f *Facade) Submit(cmd SubmitOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pair, err := f.registry.RequireActive(cmd.PairID)
	if err != nil {
		return "", err
	}

	if err := validator.CheckSubmission(pair, cmd.TickLower, cmd.TickUpper, cmd.LimitPrice, cmd.Quantity); err != nil {
		return "", err
	}

	escrowAmount, err := escrowForSubmission(cmd.Side, cmd.Quantity, cmd.LimitPrice)
	if err != nil {
		return "", err
	}

	tokenID := pair.QuoteTokenID
	if cmd.Side == orderstore.SideSell {
		tokenID = pair.BaseTokenID
	}
	if f.escrow.IsDesynced(cmd.Owner, tokenID) {
		return "", escrow.ErrDesynced
	}

	order := &orderstore.Order{
		OrderID:      cmd.OrderID,
		Owner:        cmd.Owner,
		PairID:       cmd.PairID,
		Side:         cmd.Side,
		TickLower:    cmd.TickLower,
		TickUpper:    cmd.TickUpper,
		LimitPrice:   cmd.LimitPrice,
		Quantity:     cmd.Quantity,
		EscrowAmount: escrowAmount,
		CreatedAt:    cmd.CreatedAt,
		Status:       orderstore.StatusActive,
	}

	if err := f.store.Insert(order); err != nil {
		return "", err
	}

	// escrow.Ledger.Commit only ever fails on desync (already checked
	// above), since the core's accounting-only escrow model has no
	// external balance to fall short of within Submit itself; the error
	// return is kept so a future balance-capped EscrowCommitter still maps
	// cleanly onto ErrInsufficientEscrow instead of a new sentinel.
	if err := f.escrow.Commit(cmd.Owner, tokenID, escrowAmount); err != nil {
		f.store.Remove(order.OrderID)
		return "", ErrInsufficientEscrow
	}

	f.index.InsertOrder(order)
	return order.OrderID, nil
}

// Cancel removes a live order from the book and releases its residual
// escrow. Fails NotOwner/UnknownOrder/AlreadyTerminal.
func (f *Facade) Cancel(orderID, caller string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelLocked(orderID, caller)
}

// cancelLocked is Cancel's body, callable from other locked methods
// (ApplyLedgerEvent) without re-entering the mutex.
func (f *Facade) cancelLocked(orderID, caller string) error {
	order, err := f.store.Get(orderID)
	if err != nil {
		return err
	}
	if order.Owner != caller {
		return ErrNotOwner
	}
	if !order.IsLive() {
		return ErrAlreadyTerminal
	}

	pair, _ := f.registry.Get(order.PairID)
	tokenID, residual := residualEscrow(*order, pair)

	f.index.RemoveOrder(order)
	if err := f.store.Mutate(orderID, func(o *orderstore.Order) error {
		o.Status = orderstore.StatusCancelled
		return nil
	}); err != nil {
		return err
	}

	if residual > 0 {
		_ = f.escrow.Release(order.Owner, tokenID, residual)
	}
	return nil
}

// residualEscrow returns the token o's escrow is booked in and the amount
// still booked against it: its EscrowAmount, which settlement commits
// decrement by exactly what each fill releases.
func residualEscrow(o orderstore.Order, pair pairs.Pair) (tokenID uint64, amount uint64) {
	if o.Side == orderstore.SideSell {
		return pair.BaseTokenID, o.EscrowAmount
	}
	return pair.QuoteTokenID, o.EscrowAmount
}

// Update performs a validated in-place replacement of an order's tick
// range, limit price, and quantity, recomputing and adjusting escrow by
// the delta. The prior order is left untouched on any validation failure.
func (f *Facade) Update(orderID, caller string, newTickLower, newTickUpper, newLimitPrice, newQuantity uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, err := f.store.Get(orderID)
	if err != nil {
		return err
	}
	if order.Owner != caller {
		return ErrNotOwner
	}
	if !order.IsLive() {
		return ErrAlreadyTerminal
	}
	// Scenario E: a quantity shrink must not claw back volume a settlement
	// attempt already reserved (AwaitingAck, unlocked) on top of what is
	// already Filled.
	if reserved := f.engine.Reserved(orderID); newQuantity < order.Filled+reserved {
		return ErrQuantityBelowReserved
	}

	pair, err := f.registry.RequireActive(order.PairID)
	if err != nil {
		return err
	}
	if err := validator.CheckSubmission(pair, newTickLower, newTickUpper, newLimitPrice, newQuantity); err != nil {
		return err
	}

	oldTokenID, oldResidual := residualEscrow(*order, pair)
	newEscrowAmount, err := escrowForSubmission(order.Side, newQuantity, newLimitPrice)
	if err != nil {
		return err
	}
	newResidual := newEscrowAmount
	if order.Side == orderstore.SideBuy {
		filledQuote, err := money.MulDivDown(order.Filled, newLimitPrice, money.BasisPointDivisor)
		if err != nil {
			return err
		}
		if newResidual < filledQuote {
			return ErrInsufficientEscrow
		}
		newResidual -= filledQuote
	} else {
		newResidual -= order.Filled
	}

	switch {
	case newResidual > oldResidual:
		if err := f.escrow.Commit(order.Owner, oldTokenID, newResidual-oldResidual); err != nil {
			return err
		}
	case newResidual < oldResidual:
		if err := f.escrow.Release(order.Owner, oldTokenID, oldResidual-newResidual); err != nil {
			return err
		}
	}

	f.index.RemoveOrder(order)
	if err := f.store.Mutate(orderID, func(o *orderstore.Order) error {
		o.TickLower = newTickLower
		o.TickUpper = newTickUpper
		o.LimitPrice = newLimitPrice
		o.Quantity = newQuantity
		o.EscrowAmount = newResidual
		return nil
	}); err != nil {
		return err
	}
	updated, _ := f.store.Get(orderID)
	f.index.InsertOrder(updated)
	return nil
}

// ApplyLedgerEvent reconciles facade state with a replayed event from the
// Ledger collaborator's stream. Events are idempotent: replaying the same
// (Kind, Sequence) twice must be a no-op for anything it already applied.
func (f *Facade) ApplyLedgerEvent(ev ledgerapi.LedgerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.appliedSeq[ev.Sequence]; seen {
		return nil
	}
	f.appliedSeq[ev.Sequence] = struct{}{}

	switch ev.Kind {
	case ledgerapi.EventPairRegistered:
		d := ev.PairRegistered
		return f.registry.Upsert(d.PairID, d.BaseTokenID, d.QuoteTokenID, d.TickSize, d.MaxTickRange)
	case ledgerapi.EventPairDeactivated:
		return f.registry.SetActive(ev.PairDeactivated.PairID, false)
	case ledgerapi.EventPairReactivated:
		return f.registry.SetActive(ev.PairReactivated.PairID, true)
	case ledgerapi.EventEscrowSync:
		// The external value replaces the committed balance; a divergence
		// from the core's own accounting is not detected or flagged as a
		// desync.
		d := ev.EscrowSync
		f.escrow.Resync(d.Owner, d.TokenID, d.ExternalCommitted)
		return nil
	case ledgerapi.EventOrderCancelledOnChain:
		order, err := f.store.Get(ev.OrderCancelledOnChain.OrderID)
		if err != nil {
			return nil
		}
		if !order.IsLive() {
			return nil
		}
		return f.cancelLocked(order.OrderID, order.Owner)
	case ledgerapi.EventOrderObserved:
		// Rebuilds OrderStore/TickIndex/EscrowLedger on startup replay
		// (§6.3). A duplicate observation of an order this shard already
		// holds (because it originated from a local Submit, or because the
		// stream was replayed past the cursor) is a no-op rather than a
		// DuplicateOrder failure.
		return f.observeOrder(ev.OrderObserved)
	case ledgerapi.EventSettlementCommitted, ledgerapi.EventSettlementRejected:
		// Already reconciled synchronously by the SettlementEngine within
		// this process; replay after a restart only needs the
		// sequence-dedup bookkeeping above, not a re-application of the
		// fill (see DESIGN.md's Open Question decisions).
		return nil
	default:
		return nil
	}
}

// observeOrder rebuilds a single order from a replayed OrderObserved event:
// inserts it into OrderStore/TickIndex and books its escrow, exactly as
// Submit would have for a fresh order. The Ledger collaborator is the
// source of truth for escrow_amount on a replayed order, so it is booked
// as given rather than recomputed from limit_price.
func (f *Facade) observeOrder(d *ledgerapi.OrderObservedData) error {
	if _, err := f.store.Get(d.OrderID); err == nil {
		return nil
	}

	order := &orderstore.Order{
		OrderID:      d.OrderID,
		Owner:        d.Owner,
		PairID:       d.PairID,
		Side:         orderstore.Side(d.Side),
		TickLower:    d.TickLower,
		TickUpper:    d.TickUpper,
		LimitPrice:   d.LimitPrice,
		Quantity:     d.Quantity,
		EscrowAmount: d.EscrowAmount,
		CreatedAt:    d.CreatedAt,
		Status:       orderstore.StatusActive,
	}

	if err := f.store.Insert(order); err != nil {
		return err
	}

	pair, ok := f.registry.Get(order.PairID)
	if !ok {
		f.store.Remove(order.OrderID)
		return pairs.ErrPairNotFound
	}
	tokenID := pair.QuoteTokenID
	if order.Side == orderstore.SideSell {
		tokenID = pair.BaseTokenID
	}
	if d.EscrowAmount > 0 {
		if err := f.escrow.Commit(d.Owner, tokenID, d.EscrowAmount); err != nil {
			f.store.Remove(order.OrderID)
			return err
		}
	}

	f.index.InsertOrder(order)
	return nil
}

// ScanAndMatch runs MatchScanner over pairID and hands candidates to the
// SettlementEngine until budget proposals have been accepted, returning
// every accepted proposal.
// It is cooperatively cancellable between candidates via ctx.
func (f *Facade) ScanAndMatch(ctx context.Context, pairID uint64, budget int) ([]ledgerapi.SettlementProposal, error) {
	f.mu.Lock()
	pair, err := f.registry.RequireActive(pairID)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	candidates := matchscanner.Scan(f.index, f.store, pair)
	f.mu.Unlock()

	var proposals []ledgerapi.SettlementProposal
	for _, cand := range candidates {
		if len(proposals) >= budget {
			break
		}
		select {
		case <-ctx.Done():
			return proposals, ctx.Err()
		default:
		}

		// Deliberately unlocked across this call: it awaits the Ledger
		// collaborator's ack, and submit/cancel/update must be free to run
		// against this pair while a proposal is AwaitingAck. The engine's
		// own shadow-reservation bookkeeping (not the facade mutex) is what
		// prevents double-reserving liquidity across concurrent attempts.
		proposal, err := f.engine.Attempt(ctx, cand, pair)
		if err != nil {
			continue
		}
		if proposal != nil {
			proposals = append(proposals, *proposal)
		}
	}
	return proposals, nil
}

// Stats is a point-in-time snapshot for observability surfaces.
type Stats struct {
	OrderCount int
	ScannedAt  time.Time
}

// Snapshot returns a cheap read of the facade's working set size.
func (f *Facade) Snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{OrderCount: f.store.Len(), ScannedAt: time.Now()}
}
