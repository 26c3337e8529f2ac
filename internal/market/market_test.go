package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOCC(t *testing.T) {
	u, right, strike, exp, err := ParseOCC("AAPL240119C00190000")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", u)
	assert.Equal(t, Call, right)
	assert.Equal(t, 190.0, strike)
	assert.Equal(t, time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC), exp)

	occ := FormatOCC("spy", Put, 512.5, exp)
	assert.Equal(t, "SPY240119P00512500", occ)

	_, _, _, _, err = ParseOCC("SPY")
	assert.Error(t, err)
	_, _, _, _, err = ParseOCC("SPY240119X00512500")
	assert.Error(t, err)
}

func TestDaysToExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, 4, DaysToExpiry(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 0, DaysToExpiry(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 0, DaysToExpiry(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now))
}

func TestDTEBandIntersect(t *testing.T) {
	b, ok := DTEBand{Min: 0, Max: 7}.Intersect(DTEBand{Min: 2, Max: 45})
	assert.True(t, ok)
	assert.Equal(t, DTEBand{Min: 2, Max: 7}, b)

	_, ok = DTEBand{Min: 21, Max: 45}.Intersect(DTEBand{Min: 0, Max: 14})
	assert.False(t, ok)
}

func TestErrorUnwrapsToUnavailable(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewNetworkError("AAPL", "timeout", cause)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(NewEmptyError("AAPL", "none"), ErrUnavailable))
}

func TestSimGatewayOverrides(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	g := NewSimGateway(1)
	g.SetClock(func() time.Time { return now })

	g.SetQuote(Quote{Symbol: "aapl", Price: 200, Bid: 199.9, Ask: 200.1, Volume: 1000})
	q, err := g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 200.0, q.Price)

	g.SetBars("AAPL", []Bar{{Close: 1}, {Close: 2}, {Close: 3}})
	bars, err := g.GetBars(ctx, "AAPL", "5Min", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2.0, bars[0].Close)

	exp := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	far := time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)
	g.SetChain("AAPL", []OptionContract{
		{Symbol: FormatOCC("AAPL", Call, 200, exp), Underlying: "AAPL", Right: Call, Strike: 200, Expiration: exp, Ask: 3.5},
		{Symbol: FormatOCC("AAPL", Call, 200, far), Underlying: "AAPL", Right: Call, Strike: 200, Expiration: far, Ask: 9},
	})
	chain, err := g.GetOptionChain(ctx, "AAPL", DTEBand{Min: 0, Max: 7})
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, exp, chain[0].Expiration)

	g.SetError("AAPL", NewNetworkError("AAPL", "down", nil))
	_, err = g.GetQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, g.Calls("quote"))
}

func TestSimGatewaySynthesizedChain(t *testing.T) {
	ctx := context.Background()
	g := NewSimGateway(7)
	// a Monday, so the band below contains exactly one Friday
	g.SetClock(func() time.Time { return time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC) })
	g.AddSymbol("NVDA", 450, 0.03, 1000000)

	chain, err := g.GetOptionChain(ctx, "NVDA", DTEBand{Min: 0, Max: 6})
	require.NoError(t, err)
	require.Len(t, chain, 22)
	for _, c := range chain {
		assert.Greater(t, c.Ask, c.Bid)
		assert.Equal(t, 4, c.DTE(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)))
	}

	oq, err := g.GetOptionQuote(ctx, chain[0].Symbol)
	require.NoError(t, err)
	assert.Equal(t, chain[0].Symbol, oq.Symbol)

	bars, err := g.GetBars(ctx, "NVDA", "5Min", 20)
	require.NoError(t, err)
	assert.Len(t, bars, 20)
	assert.True(t, bars[0].Time.Before(bars[19].Time))

	bars, err = g.GetBars(ctx, "UNKNOWN", "5Min", 20)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestHTTPGatewayQuoteAndBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/stocks/AAPL/snapshot":
			_, _ = w.Write([]byte(`{"latestTrade":{"t":"2024-03-04T15:00:00Z","p":201.5},"latestQuote":{"bp":201.4,"ap":201.6},"dailyBar":{"v":123456},"prevDailyBar":{"c":198.0}}`))
		case "/v2/stocks/AAPL/bars":
			assert.Equal(t, "5Min", r.URL.Query().Get("timeframe"))
			_, _ = w.Write([]byte(`{"bars":[{"t":"2024-03-04T15:05:00Z","o":2,"h":2,"l":2,"c":2,"v":20},{"t":"2024-03-04T15:00:00Z","o":1,"h":1,"l":1,"c":1,"v":10}]}`))
		case "/v1beta1/options/snapshots/AAPL":
			_, _ = w.Write([]byte(`{"snapshots":{"AAPL240308C00200000":{"latestQuote":{"bp":3.4,"ap":3.6},"latestTrade":{"p":3.5},"greeks":{"delta":0.52},"impliedVolatility":0.31},"BAD":{}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g, err := NewHTTPGateway(HTTPConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", CacheTTLSeconds: 60})
	require.NoError(t, err)
	ctx := context.Background()

	q, err := g.GetQuote(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, 201.5, q.Price)
	assert.Equal(t, int64(123456), q.Volume)
	assert.Equal(t, 198.0, q.PrevClose)

	bars, err := g.GetBars(ctx, "AAPL", "5Min", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Close)

	chain, err := g.GetOptionChain(ctx, "AAPL", DTEBand{Min: 0, Max: 7})
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, Call, chain[0].Right)
	assert.Equal(t, 0.52, chain[0].Greeks.Delta)

	_, err = g.GetQuote(ctx, "MISSING")
	assert.ErrorIs(t, err, ErrUnavailable)
}
