package matchscanner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/tradeengine/internal/matchscanner"
	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
)

func setup(t *testing.T) (*orderstore.Store, *tickindex.Index, pairs.Pair) {
	t.Helper()
	store := orderstore.New()
	idx := tickindex.New(store)
	pair := pairs.Pair{PairID: 1, BaseTokenID: 10, QuoteTokenID: 20, TickSize: 100, MaxTickRange: 50, Active: true}
	return store, idx, pair
}

func put(t *testing.T, store *orderstore.Store, idx *tickindex.Index, o *orderstore.Order) {
	t.Helper()
	require.NoError(t, store.Insert(o))
	idx.InsertOrder(o)
}

func TestScanFindsCrossingCandidate(t *testing.T) {
	store, idx, pair := setup(t)

	buy := &orderstore.Order{OrderID: "b1", Owner: "a", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_000, Quantity: 1000, CreatedAt: 1, Status: orderstore.StatusActive}
	sell := &orderstore.Order{OrderID: "s1", Owner: "b", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1495, TickUpper: 1505, LimitPrice: 149_500, Quantity: 1000, CreatedAt: 2, Status: orderstore.StatusActive}
	put(t, store, idx, buy)
	put(t, store, idx, sell)

	cands := matchscanner.Scan(idx, store, pair)
	require.Len(t, cands, 1)
	assert.Equal(t, "b1", cands[0].BuyID)
	assert.Equal(t, "s1", cands[0].SellID)
	assert.Equal(t, uint64(1000), cands[0].ProjectedFill)
	assert.Equal(t, uint64(149_750), cands[0].ProjectedPrice)
}

func TestScanExcludesNonCrossing(t *testing.T) {
	store, idx, pair := setup(t)

	buy := &orderstore.Order{OrderID: "b1", Owner: "a", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 149_000, Quantity: 1000, CreatedAt: 1, Status: orderstore.StatusActive}
	sell := &orderstore.Order{OrderID: "s1", Owner: "b", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1495, TickUpper: 1505, LimitPrice: 149_500, Quantity: 1000, CreatedAt: 2, Status: orderstore.StatusActive}
	put(t, store, idx, buy)
	put(t, store, idx, sell)

	cands := matchscanner.Scan(idx, store, pair)
	assert.Empty(t, cands)
}

func TestScanExcludesSelfTrade(t *testing.T) {
	store, idx, pair := setup(t)

	buy := &orderstore.Order{OrderID: "b1", Owner: "a", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_000, Quantity: 1000, CreatedAt: 1, Status: orderstore.StatusActive}
	sell := &orderstore.Order{OrderID: "s1", Owner: "a", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1495, TickUpper: 1505, LimitPrice: 149_500, Quantity: 1000, CreatedAt: 2, Status: orderstore.StatusActive}
	put(t, store, idx, buy)
	put(t, store, idx, sell)

	cands := matchscanner.Scan(idx, store, pair)
	assert.Empty(t, cands)
}

func TestScanDedupesAcrossBuckets(t *testing.T) {
	store, idx, pair := setup(t)

	buy := &orderstore.Order{OrderID: "b1", Owner: "a", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_000, Quantity: 1000, CreatedAt: 1, Status: orderstore.StatusActive}
	sell := &orderstore.Order{OrderID: "s1", Owner: "b", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 149_500, Quantity: 1000, CreatedAt: 2, Status: orderstore.StatusActive}
	put(t, store, idx, buy)
	put(t, store, idx, sell)

	// buy and sell share every tick in [1490,1510); the pair must still be
	// emitted exactly once.
	cands := matchscanner.Scan(idx, store, pair)
	require.Len(t, cands, 1)
}

func TestScanOrdersByDescendingScore(t *testing.T) {
	store, idx, pair := setup(t)

	buyHigh := &orderstore.Order{OrderID: "b1", Owner: "a", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 151_000, Quantity: 500, CreatedAt: 1, Status: orderstore.StatusActive}
	buyLow := &orderstore.Order{OrderID: "b2", Owner: "c", PairID: 1, Side: orderstore.SideBuy,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_100, Quantity: 500, CreatedAt: 2, Status: orderstore.StatusActive}
	sell := &orderstore.Order{OrderID: "s1", Owner: "b", PairID: 1, Side: orderstore.SideSell,
		TickLower: 1490, TickUpper: 1510, LimitPrice: 150_000, Quantity: 1000, CreatedAt: 3, Status: orderstore.StatusActive}
	put(t, store, idx, buyHigh)
	put(t, store, idx, buyLow)
	put(t, store, idx, sell)

	cands := matchscanner.Scan(idx, store, pair)
	require.Len(t, cands, 2)
	assert.Equal(t, "b1", cands[0].BuyID) // wider spread scores higher
	assert.Equal(t, "b2", cands[1].BuyID)
}
