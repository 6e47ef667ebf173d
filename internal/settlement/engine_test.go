package settlement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/tradeengine/internal/escrow"
	"github.com/terminal-bench/tradeengine/internal/matchscanner"
	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/settlement"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
)

// fakeLedger is a scripted Ledger collaborator: each call to SubmitProposal
// consumes the next queued result (or Ack if the queue is drained).
type fakeLedger struct {
	mu      sync.Mutex
	results []ledgerapi.SubmitResult
	calls   int
}

func (f *fakeLedger) SubmitProposal(ctx context.Context, _ ledgerapi.SettlementProposal) (ledgerapi.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return ledgerapi.SubmitResult{Result: ledgerapi.Ack}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeLedger) EventStream(ctx context.Context, fromSequence uint64) (<-chan ledgerapi.LedgerEvent, <-chan error) {
	events := make(chan ledgerapi.LedgerEvent)
	errs := make(chan error)
	close(events)
	close(errs)
	return events, errs
}

func scenarioOrders() (*orderstore.Order, *orderstore.Order, pairs.Pair) {
	pair := pairs.Pair{PairID: 1, BaseTokenID: 10, QuoteTokenID: 20, TickSize: 100, MaxTickRange: 50, Active: true}
	buy := &orderstore.Order{
		OrderID: "buy1", Owner: "alice", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_000, Quantity: 1000,
		// floor(1000*150_000/10_000): the escrow Submit would have booked
		// for this buy at its own limit price, not the eventual midpoint.
		EscrowAmount: 15_000,
		Status:       orderstore.StatusActive, CreatedAt: 1,
	}
	sell := &orderstore.Order{
		OrderID: "sell1", Owner: "bob", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1495, TickUpper: 1505, LimitPrice: 149_500, Quantity: 1000,
		EscrowAmount: 1000,
		Status:       orderstore.StatusActive, CreatedAt: 2,
	}
	return buy, sell, pair
}

func newHarness(t *testing.T) (*orderstore.Store, *tickindex.Index, *escrow.Ledger, *orderstore.Order, *orderstore.Order, pairs.Pair) {
	t.Helper()
	store := orderstore.New()
	idx := tickindex.New(store)
	esc := escrow.New()

	buy, sell, pair := scenarioOrders()
	require.NoError(t, store.Insert(buy))
	require.NoError(t, store.Insert(sell))
	idx.InsertOrder(buy)
	idx.InsertOrder(sell)

	// Committed matches each order's own EscrowAmount, per §8's invariant
	// that EscrowLedger's committed equals the sum of live orders'
	// escrow_amount.
	require.NoError(t, esc.Commit(buy.Owner, pair.QuoteTokenID, buy.EscrowAmount))
	require.NoError(t, esc.Commit(sell.Owner, pair.BaseTokenID, sell.EscrowAmount))

	return store, idx, esc, buy, sell, pair
}

func TestAttemptCommitsOnAck(t *testing.T) {
	store, idx, esc, buy, sell, pair := newHarness(t)
	ledger := &fakeLedger{}
	eng := settlement.New(store, idx, esc, ledger, settlement.DefaultConfig())

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}
	proposal, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	require.NotNil(t, proposal)
	assert.Equal(t, uint64(1000), proposal.FillQty)
	assert.Equal(t, uint64(149_750), proposal.ExecPrice)

	updatedBuy, err := store.Get(buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusFilled, updatedBuy.Status)
	assert.Equal(t, uint64(0), updatedBuy.EscrowAmount)

	updatedSell, err := store.Get(sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusFilled, updatedSell.Status)
	assert.Equal(t, uint64(0), updatedSell.EscrowAmount)

	// The buy's 15_000 commitment is released in full: 14_975 at the
	// midpoint-priced fill itself plus the 25-unit residual left by
	// executing below alice's own 150_000 limit price.
	assert.Equal(t, uint64(0), esc.Committed(buy.Owner, pair.QuoteTokenID))
	assert.Equal(t, uint64(0), esc.Committed(sell.Owner, pair.BaseTokenID))
	assert.Equal(t, uint64(1), ledger.calls)
}

func TestAttemptReleasesShadowOnNack(t *testing.T) {
	store, idx, esc, buy, sell, pair := newHarness(t)
	ledger := &fakeLedger{results: []ledgerapi.SubmitResult{{Result: ledgerapi.Nack, Reason: "insufficient proof"}}}
	eng := settlement.New(store, idx, esc, ledger, settlement.DefaultConfig())

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}
	proposal, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	assert.Nil(t, proposal)

	// Neither order was filled, and escrow was never released.
	updatedBuy, err := store.Get(buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), updatedBuy.Filled)
	assert.Equal(t, buy.EscrowAmount, esc.Committed(buy.Owner, pair.QuoteTokenID))
}

func TestAttemptRetriesThenCommits(t *testing.T) {
	store, idx, esc, buy, sell, pair := newHarness(t)
	ledger := &fakeLedger{results: []ledgerapi.SubmitResult{
		{Result: ledgerapi.Nack, Reason: "retry me"},
		{Result: ledgerapi.Ack},
	}}
	eng := settlement.New(store, idx, esc, ledger, settlement.DefaultConfig())

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}

	first, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	assert.Nil(t, first)

	second, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, uint64(1000), second.FillQty)

	updatedBuy, err := store.Get(buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusFilled, updatedBuy.Status)
}

func TestAttemptSuppressedAfterMaxRetries(t *testing.T) {
	store, idx, esc, buy, sell, pair := newHarness(t)
	ledger := &fakeLedger{results: []ledgerapi.SubmitResult{
		{Result: ledgerapi.Nack}, {Result: ledgerapi.Nack}, {Result: ledgerapi.Nack},
	}}
	cfg := settlement.DefaultConfig()
	cfg.MaxRetries = 3
	cfg.SuppressWindow = time.Hour
	eng := settlement.New(store, idx, esc, ledger, cfg)

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}

	for i := 0; i < 3; i++ {
		proposal, err := eng.Attempt(context.Background(), cand, pair)
		require.NoError(t, err)
		assert.Nil(t, proposal)
	}

	// The fourth attempt hits the now-open breaker and is suppressed
	// without consuming a ledger call.
	callsBefore := ledger.calls
	proposal, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	assert.Nil(t, proposal)
	assert.Equal(t, callsBefore, ledger.calls)
}

// blockingLedger holds SubmitProposal open until the test closes proceed,
// so a test can observe the shadow reservation while a candidate is
// AwaitingAck.
type blockingLedger struct {
	proceed chan struct{}
}

func (b *blockingLedger) SubmitProposal(ctx context.Context, _ ledgerapi.SettlementProposal) (ledgerapi.SubmitResult, error) {
	select {
	case <-b.proceed:
	case <-ctx.Done():
		return ledgerapi.SubmitResult{}, ctx.Err()
	}
	return ledgerapi.SubmitResult{Result: ledgerapi.Ack}, nil
}

func (b *blockingLedger) EventStream(ctx context.Context, fromSequence uint64) (<-chan ledgerapi.LedgerEvent, <-chan error) {
	events := make(chan ledgerapi.LedgerEvent)
	errs := make(chan error)
	close(events)
	close(errs)
	return events, errs
}

// Reserved must report the shadow-reserved quantity while a candidate is
// AwaitingAck, and clear once the attempt settles — this is what
// core.Facade.Update consults to enforce Scenario E's reserved+filled floor.
func TestReservedReflectsInFlightShadowReservation(t *testing.T) {
	store, idx, esc, buy, sell, pair := newHarness(t)
	ledger := &blockingLedger{proceed: make(chan struct{})}
	eng := settlement.New(store, idx, esc, ledger, settlement.DefaultConfig())

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Attempt(context.Background(), cand, pair)
	}()

	var reserved uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reserved = eng.Reserved(buy.OrderID)
		if reserved != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, uint64(1000), reserved)

	close(ledger.proceed)
	<-done
	assert.Equal(t, uint64(0), eng.Reserved(buy.OrderID))
}

func TestAttemptDiscardsWhenEscrowInsufficient(t *testing.T) {
	store, idx, _, buy, sell, pair := newHarness(t)
	esc := escrow.New() // nothing committed
	ledger := &fakeLedger{}
	eng := settlement.New(store, idx, esc, ledger, settlement.DefaultConfig())

	cand := matchscanner.Candidate{BuyID: buy.OrderID, SellID: sell.OrderID}
	proposal, err := eng.Attempt(context.Background(), cand, pair)
	require.NoError(t, err)
	assert.Nil(t, proposal)
	assert.Equal(t, 0, ledger.calls)
}
