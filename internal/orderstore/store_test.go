package orderstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
)

func newOrder(id string) *orderstore.Order {
	return &orderstore.Order{
		OrderID:    id,
		Owner:      "alice",
		PairID:     1,
		Side:       orderstore.SideBuy,
		TickLower:  1490,
		TickUpper:  1510,
		LimitPrice: 150_000,
		Quantity:   1000,
		Status:     orderstore.StatusActive,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	s := orderstore.New()
	require.NoError(t, s.Insert(newOrder("o1")))

	got, err := s.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)

	err = s.Insert(newOrder("o1"))
	assert.ErrorIs(t, err, orderstore.ErrDuplicateOrder)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, orderstore.ErrUnknownOrder)
}

func TestStoreMutateDerivesStatus(t *testing.T) {
	s := orderstore.New()
	require.NoError(t, s.Insert(newOrder("o1")))

	t.Run("partial fill", func(t *testing.T) {
		err := s.Mutate("o1", func(o *orderstore.Order) error {
			o.Filled = 400
			return nil
		})
		require.NoError(t, err)

		o, err := s.Get("o1")
		require.NoError(t, err)
		assert.Equal(t, orderstore.StatusPartiallyFilled, o.Status)
		assert.True(t, o.IsLive())
	})

	t.Run("full fill", func(t *testing.T) {
		err := s.Mutate("o1", func(o *orderstore.Order) error {
			o.Filled = o.Quantity
			return nil
		})
		require.NoError(t, err)

		o, err := s.Get("o1")
		require.NoError(t, err)
		assert.Equal(t, orderstore.StatusFilled, o.Status)
		assert.False(t, o.IsLive())
	})
}

func TestStoreMutateCancelSticks(t *testing.T) {
	s := orderstore.New()
	require.NoError(t, s.Insert(newOrder("o1")))

	err := s.Mutate("o1", func(o *orderstore.Order) error {
		o.Status = orderstore.StatusCancelled
		return nil
	})
	require.NoError(t, err)

	o, err := s.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusCancelled, o.Status)
	assert.False(t, o.IsLive())

	// A cancelled order's status must not be re-derived from filled/quantity
	// on a later mutation (e.g. a stray ledger replay touching Filled).
	err = s.Mutate("o1", func(o *orderstore.Order) error {
		return nil
	})
	require.NoError(t, err)
	o, err = s.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusCancelled, o.Status)
}

func TestStoreRemove(t *testing.T) {
	s := orderstore.New()
	require.NoError(t, s.Insert(newOrder("o1")))

	removed, err := s.Remove("o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", removed.OrderID)
	assert.Equal(t, 0, s.Len())

	_, err = s.Remove("o1")
	assert.ErrorIs(t, err, orderstore.ErrUnknownOrder)
}

func TestOrderRemaining(t *testing.T) {
	o := newOrder("o1")
	o.Filled = 300
	assert.Equal(t, uint64(700), o.Remaining())
}
