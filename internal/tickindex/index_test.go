package tickindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
)

func buyOrder(id string, tickLower, tickUpper uint64, createdAt int64) *orderstore.Order {
	return &orderstore.Order{
		OrderID: id, Owner: "alice", PairID: 1, Side: orderstore.SideBuy,
		TickLower: tickLower, TickUpper: tickUpper, LimitPrice: 150_000,
		Quantity: 1000, CreatedAt: createdAt, Status: orderstore.StatusActive,
	}
}

func sellOrder(id string, tickLower, tickUpper uint64, createdAt int64) *orderstore.Order {
	o := buyOrder(id, tickLower, tickUpper, createdAt)
	o.Side = orderstore.SideSell
	return o
}

func TestInsertAndOverlapQuery(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	buy := buyOrder("b1", 1490, 1510, 1)
	sell := sellOrder("s1", 1495, 1505, 2)
	require.NoError(t, store.Insert(buy))
	require.NoError(t, store.Insert(sell))
	idx.InsertOrder(buy)
	idx.InsertOrder(sell)

	buys := idx.BuyOrdersOverlapping(1, 1495, 1505)
	require.Len(t, buys, 1)
	assert.Equal(t, "b1", buys[0].OrderID)

	sells := idx.SellOrdersOverlapping(1, 1490, 1510)
	require.Len(t, sells, 1)
	assert.Equal(t, "s1", sells[0].OrderID)
}

func TestOverlapDedupesAcrossBuckets(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	// A wide order is present in every bucket across its range; the overlap
	// query must still return it exactly once.
	buy := buyOrder("b1", 1000, 1020, 1)
	require.NoError(t, store.Insert(buy))
	idx.InsertOrder(buy)

	buys := idx.BuyOrdersOverlapping(1, 1000, 1020)
	require.Len(t, buys, 1)
	assert.Equal(t, "b1", buys[0].OrderID)
}

func TestOverlapOrdersByCreatedAtThenID(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	b2 := buyOrder("b2", 1495, 1505, 5)
	b1 := buyOrder("b1", 1495, 1505, 5) // same createdAt, tie-break by order_id
	b0 := buyOrder("b0", 1495, 1505, 1)
	for _, o := range []*orderstore.Order{b2, b1, b0} {
		require.NoError(t, store.Insert(o))
		idx.InsertOrder(o)
	}

	buys := idx.BuyOrdersOverlapping(1, 1495, 1505)
	require.Len(t, buys, 3)
	assert.Equal(t, []string{"b0", "b1", "b2"}, []string{buys[0].OrderID, buys[1].OrderID, buys[2].OrderID})
}

func TestRemoveOrderPrunesEmptyBuckets(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	buy := buyOrder("b1", 1490, 1510, 1)
	require.NoError(t, store.Insert(buy))
	idx.InsertOrder(buy)
	require.Len(t, idx.IterBuckets(1), 20)

	idx.RemoveOrder(buy)
	assert.Empty(t, idx.IterBuckets(1))
}

func TestOverlapSkipsTerminalOrders(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	buy := buyOrder("b1", 1490, 1510, 1)
	require.NoError(t, store.Insert(buy))
	idx.InsertOrder(buy)

	require.NoError(t, store.Mutate("b1", func(o *orderstore.Order) error {
		o.Status = orderstore.StatusCancelled
		return nil
	}))

	// The index entry is stale until RemoveOrder is called (Cancel does
	// both), but overlap queries must never surface a non-live order.
	buys := idx.BuyOrdersOverlapping(1, 1490, 1510)
	assert.Empty(t, buys)
}

func TestIterBucketsAscendingTickOrder(t *testing.T) {
	store := orderstore.New()
	idx := tickindex.New(store)

	buy := buyOrder("b1", 1490, 1493, 1)
	require.NoError(t, store.Insert(buy))
	idx.InsertOrder(buy)

	buckets := idx.IterBuckets(1)
	require.Len(t, buckets, 3)
	assert.Equal(t, []uint64{1490, 1491, 1492}, []uint64{buckets[0].Tick, buckets[1].Tick, buckets[2].Tick})
}
