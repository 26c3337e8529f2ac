package market

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

// HTTPConfig configures the REST market-data gateway.
type HTTPConfig struct {
	BaseURL            string
	APIKey             string
	APISecret          string
	RateLimitPerMinute int
	CacheTTLSeconds    int
	TimeoutSeconds     int
}

// HTTPGateway speaks an Alpaca-style market data REST API.
type HTTPGateway struct {
	client      *resty.Client
	rateLimiter *rate.Limiter
	cacheTTL    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	quote     Quote
	fetchedAt time.Time
}

func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("market data API key is required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 200
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	client.SetHeader("APCA-API-KEY-ID", cfg.APIKey)
	client.SetHeader("APCA-API-SECRET-KEY", cfg.APISecret)
	client.SetHeader("Accept", "application/json")

	return &HTTPGateway{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 5),
		cacheTTL:    time.Duration(cfg.CacheTTLSeconds) * time.Second,
		cache:       make(map[string]cacheEntry),
	}, nil
}

type snapshotResponse struct {
	LatestTrade struct {
		T time.Time `json:"t"`
		P float64   `json:"p"`
	} `json:"latestTrade"`
	LatestQuote struct {
		T  time.Time `json:"t"`
		BP float64   `json:"bp"`
		AP float64   `json:"ap"`
	} `json:"latestQuote"`
	DailyBar struct {
		V int64 `json:"v"`
	} `json:"dailyBar"`
	PrevDailyBar struct {
		C float64 `json:"c"`
	} `json:"prevDailyBar"`
}

type barsResponse struct {
	Bars []Bar `json:"bars"`
}

type optionSnapshot struct {
	LatestQuote struct {
		T  time.Time `json:"t"`
		BP float64   `json:"bp"`
		AP float64   `json:"ap"`
	} `json:"latestQuote"`
	LatestTrade struct {
		P float64 `json:"p"`
	} `json:"latestTrade"`
	Greeks            Greeks  `json:"greeks"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

type optionSnapshotsResponse struct {
	Snapshots     map[string]optionSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

func (g *HTTPGateway) wait(ctx context.Context, symbol string) error {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		observ.IncCounter("market_rate_limited_total", map[string]string{"symbol": symbol})
		return NewNetworkError(symbol, "rate limiter wait aborted", err)
	}
	return nil
}

func (g *HTTPGateway) get(ctx context.Context, symbol, path string, query map[string]string, out any) error {
	if err := g.wait(ctx, symbol); err != nil {
		return err
	}
	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	observ.RecordDuration("market_request_latency", time.Since(start), map[string]string{"path": pathKind(path)})
	if err != nil {
		observ.IncCounter("market_request_errors_total", map[string]string{"kind": "network"})
		return NewNetworkError(symbol, "request failed", err)
	}
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusUnprocessableEntity {
		return NewBadSymbolError(symbol, resp.String())
	}
	if resp.IsError() {
		observ.IncCounter("market_request_errors_total", map[string]string{"kind": "provider"})
		return NewProviderError(symbol, fmt.Sprintf("status %d", resp.StatusCode()), fmt.Errorf("%s", resp.String()))
	}
	return nil
}

func pathKind(path string) string {
	switch {
	case len(path) > 9 && path[:9] == "/v1beta1/":
		return "options"
	default:
		return "stocks"
	}
}

// GetQuote returns the latest quote, served from cache inside the TTL.
func (g *HTTPGateway) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	g.mu.Lock()
	if e, ok := g.cache[symbol]; ok && time.Since(e.fetchedAt) <= g.cacheTTL {
		g.mu.Unlock()
		q := e.quote
		observ.IncCounter("market_quote_cache_hits_total", nil)
		return &q, nil
	}
	g.mu.Unlock()

	var snap snapshotResponse
	if err := g.get(ctx, symbol, "/v2/stocks/"+symbol+"/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	if snap.LatestTrade.P <= 0 && snap.LatestQuote.AP <= 0 {
		return nil, NewEmptyError(symbol, "snapshot has no price")
	}

	q := Quote{
		Symbol:    symbol,
		Price:     snap.LatestTrade.P,
		Bid:       snap.LatestQuote.BP,
		Ask:       snap.LatestQuote.AP,
		Volume:    snap.DailyBar.V,
		PrevClose: snap.PrevDailyBar.C,
		Timestamp: snap.LatestTrade.T,
	}
	if q.Price <= 0 {
		q.Price = q.Mid()
	}

	g.mu.Lock()
	g.cache[symbol] = cacheEntry{quote: q, fetchedAt: time.Now()}
	g.mu.Unlock()
	return &q, nil
}

// GetBars returns up to limit bars, oldest first. An empty result is not an error.
func (g *HTTPGateway) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	symbol = normalizeSymbol(symbol)
	var out barsResponse
	err := g.get(ctx, symbol, "/v2/stocks/"+symbol+"/bars", map[string]string{
		"timeframe": timeframe,
		"limit":     fmt.Sprint(limit),
		"sort":      "desc",
	}, &out)
	if err != nil {
		return nil, err
	}
	bars := out.Bars
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// GetOptionChain returns the contracts whose expiration falls inside band.
func (g *HTTPGateway) GetOptionChain(ctx context.Context, symbol string, band DTEBand) ([]OptionContract, error) {
	symbol = normalizeSymbol(symbol)
	now := time.Now()
	query := map[string]string{
		"expiration_date_gte": now.AddDate(0, 0, band.Min).Format("2006-01-02"),
		"expiration_date_lte": now.AddDate(0, 0, band.Max).Format("2006-01-02"),
		"limit":               "1000",
	}

	var contracts []OptionContract
	for page := 0; page < 10; page++ {
		var out optionSnapshotsResponse
		if err := g.get(ctx, symbol, "/v1beta1/options/snapshots/"+symbol, query, &out); err != nil {
			return nil, err
		}
		for occ, snap := range out.Snapshots {
			c, err := contractFromSnapshot(occ, snap)
			if err != nil {
				observ.Log("option_symbol_unparsed", map[string]any{"symbol": occ, "error": err})
				continue
			}
			contracts = append(contracts, c)
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			break
		}
		query["page_token"] = *out.NextPageToken
	}
	return contracts, nil
}

// GetOptionQuote refreshes a single contract's quote and greeks.
func (g *HTTPGateway) GetOptionQuote(ctx context.Context, contract string) (*OptionContract, error) {
	contract = normalizeSymbol(contract)
	var out optionSnapshotsResponse
	if err := g.get(ctx, contract, "/v1beta1/options/snapshots", map[string]string{"symbols": contract}, &out); err != nil {
		return nil, err
	}
	snap, ok := out.Snapshots[contract]
	if !ok {
		return nil, NewEmptyError(contract, "no snapshot for contract")
	}
	c, err := contractFromSnapshot(contract, snap)
	if err != nil {
		return nil, NewProviderError(contract, "unparseable contract", err)
	}
	return &c, nil
}

func contractFromSnapshot(occ string, snap optionSnapshot) (OptionContract, error) {
	underlying, right, strike, exp, err := ParseOCC(occ)
	if err != nil {
		return OptionContract{}, err
	}
	return OptionContract{
		Symbol:     occ,
		Underlying: underlying,
		Right:      right,
		Strike:     strike,
		Expiration: exp,
		Bid:        snap.LatestQuote.BP,
		Ask:        snap.LatestQuote.AP,
		Last:       snap.LatestTrade.P,
		IV:         snap.ImpliedVolatility,
		Greeks:     snap.Greeks,
		Timestamp:  snap.LatestQuote.T,
	}, nil
}
