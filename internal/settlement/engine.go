// Package settlement implements the SettlementEngine component: the state
// machine that takes a match candidate, re-validates it under current
// state, computes fill quantity and execution price, debits escrow,
// updates fills, emits a SettlementProposal to the Ledger collaborator, and
// handles the collaborator's acknowledgement or rejection.
package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/terminal-bench/tradeengine/internal/matchscanner"
	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
	"github.com/terminal-bench/tradeengine/internal/validator"
	"github.com/terminal-bench/tradeengine/pkg/circuit"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/money"
)

// State is a candidate's position in the settlement state machine.
type State int

const (
	StateProposed State = iota
	StateReserved
	StateCancelled
	StateAwaitingAck
	StateCommitted
	StateReleasedBack
)

// Default retry/suppression tuning.
const (
	DefaultAckTimeout     = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultSuppressWindow = 30 * time.Second
	DefaultMatcherFeeBps  = 5
)

// Config tunes the engine's retry/suppression behavior.
type Config struct {
	AckTimeout     time.Duration
	MaxRetries     int
	SuppressWindow time.Duration
	MatcherFeeBps  uint64
}

// DefaultConfig returns the standard retry/suppression tuning.
func DefaultConfig() Config {
	return Config{
		AckTimeout:     DefaultAckTimeout,
		MaxRetries:     DefaultMaxRetries,
		SuppressWindow: DefaultSuppressWindow,
		MatcherFeeBps:  DefaultMatcherFeeBps,
	}
}

// EscrowCommitter is the subset of escrow.Ledger the engine needs; kept as
// an interface so tests can substitute a fake without pulling in the real
// accounting table.
type EscrowCommitter interface {
	Commit(owner string, tokenID, amount uint64) error
	Release(owner string, tokenID, amount uint64) error
	Committed(owner string, tokenID uint64) uint64
}

type reservation struct {
	buyID, sellID string
	fillQty       uint64
	quoteAmount   uint64
	matcherFee    uint64
	execPrice     uint64
	pair          pairs.Pair
	state         State
	proposedAt    time.Time
}

// Engine runs the settlement state machine for a single pair-core. Retry
// and suppression accounting per (buy_id, sell_id) is delegated to a
// circuit.BreakerGroup: a nack or timeout is a recorded failure, an ack is
// a recorded success, and exhausting MaxRetries consecutive failures opens
// that pair's breaker for SuppressWindow — the same mechanics the group
// already provides for any other named dependency.
type Engine struct {
	store    *orderstore.Store
	index    *tickindex.Index
	escrow   EscrowCommitter
	ledger   ledgerapi.Ledger
	cfg      Config
	breakers *circuit.BreakerGroup

	mu            sync.Mutex
	shadowByOrder map[string]uint64
}

// New creates a settlement engine wired to the core's working-set
// components and the Ledger collaborator.
func New(store *orderstore.Store, index *tickindex.Index, escrow EscrowCommitter, ledger ledgerapi.Ledger, cfg Config) *Engine {
	breakerCfg := circuit.Config{
		MaxFailures: cfg.MaxRetries,
		Timeout:     cfg.SuppressWindow,
		HalfOpenMax: 1,
	}
	return &Engine{
		store:         store,
		index:         index,
		escrow:        escrow,
		ledger:        ledger,
		cfg:           cfg,
		breakers:      circuit.NewBreakerGroup(breakerCfg),
		shadowByOrder: make(map[string]uint64),
	}
}

func breakerKey(buyID, sellID string) string {
	var b strings.Builder
	b.WriteString(buyID)
	b.WriteByte('|')
	b.WriteString(sellID)
	return b.String()
}

// errNack signals a ledger rejection or ack timeout to the breaker; it
// never escapes Attempt as a returned error.
var errNack = errors.New("settlement: proposal nacked")

// Attempt drives one candidate through Proposed -> Reserved -> AwaitingAck
// -> Committed|ReleasedBack, returning the emitted proposal on success.
// A nil, nil return means the candidate was discarded non-fatally (self-
// trade, non-crossing prices, or currently suppressed after exhausting
// retries) and should not be retried by the caller within this scan cycle.
func (e *Engine) Attempt(ctx context.Context, cand matchscanner.Candidate, pair pairs.Pair) (*ledgerapi.SettlementProposal, error) {
	var proposal *ledgerapi.SettlementProposal

	err := e.breakers.Execute(ctx, breakerKey(cand.BuyID, cand.SellID), func() error {
		p, attemptErr := e.reserveAndSubmit(ctx, cand, pair)
		proposal = p
		return attemptErr
	})

	switch {
	case err == nil:
		return proposal, nil
	case errors.Is(err, circuit.ErrCircuitOpen), errors.Is(err, circuit.ErrTooManyRequests), errors.Is(err, errNack):
		// Suppressed, or a retriable nack/timeout the breaker already
		// recorded: discard for this cycle, not an engine-level failure.
		return nil, nil
	default:
		return nil, err
	}
}

// reserveAndSubmit runs Proposed -> Reserved -> AwaitingAck for one
// candidate. It returns (nil, nil) for a non-retriable discard, (nil,
// errNack) for a nack/timeout the breaker should count as a failure, and
// (proposal, nil) on commit.
func (e *Engine) reserveAndSubmit(ctx context.Context, cand matchscanner.Candidate, pair pairs.Pair) (*ledgerapi.SettlementProposal, error) {
	buy, err := e.store.Get(cand.BuyID)
	if err != nil {
		return nil, nil
	}
	sell, err := e.store.Get(cand.SellID)
	if err != nil {
		return nil, nil
	}

	_, execPrice, err := validator.CheckMatch(buy, sell, pair)
	if err != nil {
		return nil, nil
	}

	e.mu.Lock()
	buyAvail := buy.Remaining() - e.shadowByOrder[buy.OrderID]
	sellAvail := sell.Remaining() - e.shadowByOrder[sell.OrderID]
	fillQty := uint64(money.Min(money.Quantity(buyAvail), money.Quantity(sellAvail)))
	if fillQty == 0 {
		e.mu.Unlock()
		return nil, nil
	}

	quoteAmount, err := money.QuoteAmount(money.Quantity(fillQty), execPrice)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	matcherFee, err := money.FeeAmount(quoteAmount, e.cfg.MatcherFeeBps)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if e.escrow.Committed(sell.Owner, pair.BaseTokenID) < fillQty ||
		e.escrow.Committed(buy.Owner, pair.QuoteTokenID) < quoteAmount {
		e.mu.Unlock()
		return nil, nil
	}

	// Reserved: shadow-decrement remaining; OrderStore.Filled is untouched
	// until ack.
	e.shadowByOrder[buy.OrderID] += fillQty
	e.shadowByOrder[sell.OrderID] += fillQty
	res := &reservation{
		buyID:       cand.BuyID,
		sellID:      cand.SellID,
		fillQty:     fillQty,
		quoteAmount: quoteAmount,
		matcherFee:  matcherFee,
		execPrice:   uint64(execPrice),
		pair:        pair,
		state:       StateReserved,
		proposedAt:  time.Now(),
	}
	e.mu.Unlock()

	proposal := ledgerapi.SettlementProposal{
		BuyID:       res.buyID,
		SellID:      res.sellID,
		PairID:      pair.PairID,
		FillQty:     res.fillQty,
		ExecPrice:   res.execPrice,
		BaseAmount:  res.fillQty,
		QuoteAmount: res.quoteAmount,
		MatcherFee:  res.matcherFee,
		ProposedAt:  res.proposedAt,
	}

	res.state = StateAwaitingAck
	ackCtx, cancel := context.WithTimeout(ctx, e.cfg.AckTimeout)
	defer cancel()

	result, submitErr := e.ledger.SubmitProposal(ackCtx, proposal)
	if submitErr != nil || result.Result == ledgerapi.Nack {
		e.releaseShadow(res)
		return nil, errNack
	}

	if err := e.commit(buy, sell, res); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// Reserved returns the quantity of orderID currently shadow-reserved by an
// in-flight settlement attempt (zero if none). Callers that need to bound
// a quantity change against already-committed-to liquidity — e.g.
// core.Facade.Update honoring Scenario E's "accepted iff new_quantity >=
// reserved+filled" — consult this instead of reaching into the engine's
// internal bookkeeping directly.
func (e *Engine) Reserved(orderID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shadowByOrder[orderID]
}

func (e *Engine) releaseShadow(res *reservation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.shadowByOrder[res.buyID] -= res.fillQty
	if e.shadowByOrder[res.buyID] == 0 {
		delete(e.shadowByOrder, res.buyID)
	}
	e.shadowByOrder[res.sellID] -= res.fillQty
	if e.shadowByOrder[res.sellID] == 0 {
		delete(e.shadowByOrder, res.sellID)
	}
}

// commit applies AwaitingAck -> Committed: updates fills, releases the
// corresponding escrow (decrementing each order's own EscrowAmount by the
// same amount so §8's "committed equals sum of escrow_amount" invariant
// holds), and prunes the tick index for any order that has reached
// Filled — returning any residual escrow first, per §4.7.
func (e *Engine) commit(buy, sell *orderstore.Order, res *reservation) error {
	e.releaseShadow(res)

	if err := e.store.Mutate(res.buyID, func(o *orderstore.Order) error {
		o.Filled += res.fillQty
		o.EscrowAmount -= res.quoteAmount
		return nil
	}); err != nil {
		return err
	}
	if err := e.store.Mutate(res.sellID, func(o *orderstore.Order) error {
		o.Filled += res.fillQty
		o.EscrowAmount -= res.fillQty
		return nil
	}); err != nil {
		return err
	}

	if err := e.escrow.Release(sell.Owner, res.pair.BaseTokenID, res.fillQty); err != nil {
		return err
	}
	if err := e.escrow.Release(buy.Owner, res.pair.QuoteTokenID, res.quoteAmount); err != nil {
		return err
	}

	res.state = StateCommitted

	if err := e.releaseResidualOnFill(res.buyID, buy.Owner, res.pair.QuoteTokenID); err != nil {
		return err
	}
	if err := e.releaseResidualOnFill(res.sellID, sell.Owner, res.pair.BaseTokenID); err != nil {
		return err
	}

	return nil
}

// releaseResidualOnFill checks whether orderID has reached Filled and, if
// so, releases whatever EscrowAmount remains booked against it (execution
// at the midpoint price rather than the order's own limit price can leave
// a few units uncollected by the per-fill release above) before removing
// it from the tick index.
func (e *Engine) releaseResidualOnFill(orderID, owner string, tokenID uint64) error {
	updated, err := e.store.Get(orderID)
	if err != nil {
		return nil
	}
	if updated.Status != orderstore.StatusFilled {
		return nil
	}

	if updated.EscrowAmount > 0 {
		residual := updated.EscrowAmount
		if err := e.escrow.Release(owner, tokenID, residual); err != nil {
			return err
		}
		if err := e.store.Mutate(orderID, func(o *orderstore.Order) error {
			o.EscrowAmount -= residual
			return nil
		}); err != nil {
			return err
		}
		updated, err = e.store.Get(orderID)
		if err != nil {
			return nil
		}
	}

	e.index.RemoveOrder(updated)
	return nil
}
