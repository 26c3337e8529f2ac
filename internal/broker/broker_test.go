package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/outbox"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func newPaper(t *testing.T, cash float64, latencyMs int) (*Paper, *market.SimGateway, *outbox.Outbox, *time.Time) {
	t.Helper()
	g := market.NewSimGateway(1)
	g.SetQuote(market.Quote{Symbol: "AAPL", Price: 100, Bid: 99.9, Ask: 100.1})
	exp := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	g.SetChain("AAPL", []market.OptionContract{{
		Symbol: market.FormatOCC("AAPL", market.Call, 100, exp), Underlying: "AAPL",
		Right: market.Call, Strike: 100, Expiration: exp, Bid: 3.40, Ask: 3.50,
	}})

	ob, err := outbox.New(filepath.Join(t.TempDir(), "outbox.jsonl"), 90)
	require.NoError(t, err)
	sim := outbox.NewSeededFillSimulator(1, latencyMs, latencyMs, 0, 0)
	p := NewPaper(g, ob, sim, PaperConfig{StartingCash: cash})
	now := t0
	p.SetClock(func() time.Time { return now })
	return p, g, ob, &now
}

func TestPaperEquityRoundTrip(t *testing.T) {
	p, _, ob, _ := newPaper(t, 10000, 0)
	ctx := context.Background()

	buy, err := p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 10, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, buy.Status)
	assert.Equal(t, 100.1, buy.FilledAvgPrice)

	acct, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-1001, acct.Cash, 1e-9)

	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10, positions[0].Quantity)

	sell, err := p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Sell, Quantity: 10, IdempotencyKey: "k2"})
	require.NoError(t, err)
	assert.Equal(t, 99.9, sell.FilledAvgPrice)

	positions, _ = p.GetPositions(ctx)
	assert.Empty(t, positions)
	acct, _ = p.GetAccount(ctx)
	assert.InDelta(t, 10000-2, acct.Cash, 1e-9)

	fills, err := ob.Fills()
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestPaperOptionUsesMultiplier(t *testing.T) {
	p, _, _, _ := newPaper(t, 1000, 0)
	occ := market.FormatOCC("AAPL", market.Call, 100, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))

	o, err := p.SubmitOrder(context.Background(), OrderRequest{Symbol: occ, Asset: Option, Side: Buy, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3.50, o.FilledAvgPrice)
	acct, _ := p.GetAccount(context.Background())
	assert.InDelta(t, 300, acct.Cash, 1e-9)

	_, err = p.SubmitOrder(context.Background(), OrderRequest{Symbol: occ, Asset: Option, Side: Buy, Quantity: 1})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPaperRejections(t *testing.T) {
	p, g, _, _ := newPaper(t, 500, 0)
	ctx := context.Background()

	_, err := p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 10})
	assert.ErrorIs(t, err, ErrRejected, "insufficient cash")

	_, err = p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Sell, Quantity: 1})
	assert.ErrorIs(t, err, ErrRejected, "shorting disabled")

	g.SetError("AAPL", market.NewNetworkError("AAPL", "down", nil))
	_, err = p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 1})
	assert.ErrorIs(t, err, ErrRejected, "no price")

	_, err = p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 0})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPaperLimitOrders(t *testing.T) {
	g := market.NewSimGateway(1)
	g.SetQuote(market.Quote{Symbol: "AAPL", Price: 100, Bid: 99.9, Ask: 100.1})
	p := NewPaper(g, nil, outbox.NewSeededFillSimulator(1, 0, 0, 50, 50), PaperConfig{StartingCash: 10000})
	p.SetClock(func() time.Time { return t0 })
	ctx := context.Background()

	tests := []struct {
		name  string
		req   OrderRequest
		price float64
		err   bool
	}{
		{"market buy slips", OrderRequest{Side: Buy, Quantity: 1}, 100.1 * 1.005, false},
		{"slippage capped at limit", OrderRequest{Side: Buy, Quantity: 1, LimitPrice: 100.2}, 100.2, false},
		{"buy limit below ask", OrderRequest{Side: Buy, Quantity: 1, LimitPrice: 100}, 0, true},
		{"sell floored at limit", OrderRequest{Side: Sell, Quantity: 1, LimitPrice: 99.8}, 99.8, false},
		{"sell limit above bid", OrderRequest{Side: Sell, Quantity: 1, LimitPrice: 100}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Symbol, req.Asset = "AAPL", Equity
			o, err := p.SubmitOrder(ctx, req)
			if tt.err {
				assert.ErrorIs(t, err, ErrRejected)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.price, o.FilledAvgPrice, 1e-9)
		})
	}
}

func TestPaperDuplicateKey(t *testing.T) {
	p, _, _, _ := newPaper(t, 10000, 0)
	req := OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 1, IdempotencyKey: "same"}
	_, err := p.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = p.SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPaperLatencyAndCancel(t *testing.T) {
	p, _, _, now := newPaper(t, 10000, 500)
	ctx := context.Background()

	o, err := p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusNew, o.Status)

	acct, _ := p.GetAccount(ctx)
	assert.InDelta(t, 10000-100.1, acct.BuyingPower, 1e-9)

	*now = now.Add(time.Second)
	o, err = p.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Error(t, p.CancelOrder(ctx, o.ID))

	o2, err := p.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Asset: Equity, Side: Buy, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, p.CancelOrder(ctx, o2.ID))
	*now = now.Add(time.Second)
	o2, _ = p.GetOrderStatus(ctx, o2.ID)
	assert.Equal(t, StatusCanceled, o2.Status)

	_, err = p.GetOrderStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/orders":
			var body orderBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body.Symbol == "BAD" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"message":"asset not tradable"}`))
				return
			}
			assert.Equal(t, "3", body.Qty)
			assert.Equal(t, "market", body.Type)
			_, _ = w.Write([]byte(`{"id":"o-1","symbol":"AAPL","asset_class":"us_equity","side":"buy","qty":"3","filled_qty":"0","status":"accepted"}`))
		case r.URL.Path == "/v2/orders/o-1":
			_, _ = w.Write([]byte(`{"id":"o-1","symbol":"AAPL","side":"buy","qty":"3","filled_qty":"3","filled_avg_price":"190.25","status":"filled"}`))
		case r.URL.Path == "/v2/account":
			_, _ = w.Write([]byte(`{"cash":"1000.50","buying_power":"2001","equity":"5000"}`))
		case r.URL.Path == "/v2/positions":
			_, _ = w.Write([]byte(`[{"symbol":"AAPL","asset_class":"us_equity","qty":"-5","avg_entry_price":"180"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b, err := NewHTTPBroker(HTTPConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", RateLimitPerMinute: 6000})
	require.NoError(t, err)
	ctx := context.Background()

	o, err := b.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Side: Buy, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusNew, o.Status)

	o, err = b.GetOrderStatus(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 190.25, o.FilledAvgPrice)

	_, err = b.SubmitOrder(ctx, OrderRequest{Symbol: "BAD", Side: Buy, Quantity: 3})
	assert.ErrorIs(t, err, ErrRejected)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2001.0, acct.BuyingPower)

	pos, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, -5, pos[0].Quantity)

	_, err = b.GetOrderStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
