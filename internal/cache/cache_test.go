package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	type reading struct{ Score float64 }
	require.NoError(t, m.Set(ctx, "k", reading{Score: 0.4}, time.Minute))

	var got reading
	require.NoError(t, m.Get(ctx, "k", &got))
	assert.Equal(t, 0.4, got.Score)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, m.Get(ctx, "k", &got), ErrMiss)
	assert.ErrorIs(t, m.Get(ctx, "absent", &got), ErrMiss)
}

func TestKeyIsStable(t *testing.T) {
	a := Key("oracle", "AAPL", map[string]any{"x": 1})
	b := Key("oracle", "AAPL", map[string]any{"x": 1})
	c := Key("oracle", "AAPL", map[string]any{"x": 2})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "autotrader:sentiment:AAPL", Key("sentiment", "AAPL", nil))
}
