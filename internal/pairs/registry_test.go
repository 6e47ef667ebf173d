package pairs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/tradeengine/internal/pairs"
)

func TestRegistryUpsert(t *testing.T) {
	t.Run("rejects zero tick_size", func(t *testing.T) {
		r := pairs.New()
		err := r.Upsert(1, 10, 20, 0, 50)
		assert.ErrorIs(t, err, pairs.ErrInvalidPair)
	})

	t.Run("rejects zero max_tick_range", func(t *testing.T) {
		r := pairs.New()
		err := r.Upsert(1, 10, 20, 100, 0)
		assert.ErrorIs(t, err, pairs.ErrInvalidPair)
	})

	t.Run("new pair starts active", func(t *testing.T) {
		r := pairs.New()
		require.NoError(t, r.Upsert(1, 10, 20, 100, 50))

		pair, err := r.RequireActive(1)
		require.NoError(t, err)
		assert.True(t, pair.Active)
		assert.Equal(t, uint64(100), pair.TickSize)
		assert.Equal(t, uint64(50), pair.MaxTickRange)
	})

	t.Run("re-applying preserves a prior deactivation", func(t *testing.T) {
		r := pairs.New()
		require.NoError(t, r.Upsert(1, 10, 20, 100, 50))
		require.NoError(t, r.SetActive(1, false))

		// Idempotent replay of the same pair_registered event must not
		// resurrect a pair an operator has since deactivated.
		require.NoError(t, r.Upsert(1, 10, 20, 100, 50))

		_, err := r.RequireActive(1)
		assert.ErrorIs(t, err, pairs.ErrPairInactive)
	})
}

func TestRegistrySetActive(t *testing.T) {
	t.Run("unknown pair fails", func(t *testing.T) {
		r := pairs.New()
		err := r.SetActive(99, false)
		assert.ErrorIs(t, err, pairs.ErrUnknownPair)
	})

	t.Run("toggles active flag", func(t *testing.T) {
		r := pairs.New()
		require.NoError(t, r.Upsert(1, 10, 20, 100, 50))
		require.NoError(t, r.SetActive(1, false))

		_, err := r.RequireActive(1)
		assert.ErrorIs(t, err, pairs.ErrPairInactive)

		require.NoError(t, r.SetActive(1, true))
		pair, err := r.RequireActive(1)
		require.NoError(t, err)
		assert.True(t, pair.Active)
	})
}

func TestRegistryRequireActive(t *testing.T) {
	t.Run("unregistered pair is PairNotFound", func(t *testing.T) {
		r := pairs.New()
		_, err := r.RequireActive(7)
		assert.ErrorIs(t, err, pairs.ErrPairNotFound)
	})
}
