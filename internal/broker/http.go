package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type HTTPConfig struct {
	BaseURL            string
	APIKey             string
	APISecret          string
	RateLimitPerMinute int
	Timeout            time.Duration
}

// HTTPBroker speaks an Alpaca-style trading REST API.
type HTTPBroker struct {
	client  *resty.Client
	limiter *rate.Limiter
}

func NewHTTPBroker(cfg HTTPConfig) (*HTTPBroker, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("broker API key and secret are required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("APCA-API-KEY-ID", cfg.APIKey)
	client.SetHeader("APCA-API-SECRET-KEY", cfg.APISecret)
	client.SetHeader("Accept", "application/json")
	return &HTTPBroker{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 5),
	}, nil
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	AssetClass     string     `json:"asset_class"`
	Side           string     `json:"side"`
	Qty            string     `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	AssetClass    string `json:"asset_class"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type accountResponse struct {
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
}

type apiError struct {
	Message string `json:"message"`
}

func (b *HTTPBroker) do(ctx context.Context, method, path string, body, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broker rate limit: %w", err)
	}
	var apiErr apiError
	req := b.client.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	start := time.Now()
	resp, err := req.Execute(method, path)
	observ.RecordDuration("broker_request_latency", time.Since(start), map[string]string{"method": method})
	if err != nil {
		observ.IncCounter("broker_request_errors_total", map[string]string{"kind": "network"})
		return fmt.Errorf("broker %s %s: %w", method, path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
	case resp.IsError():
		observ.IncCounter("broker_request_errors_total", map[string]string{"kind": "status"})
		return fmt.Errorf("broker %s %s: status %d: %s", method, path, resp.StatusCode(), apiErr.Message)
	}
	return nil
}

func (b *HTTPBroker) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Quantity),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		body.Type = "limit"
		body.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}
	var out orderResponse
	if err := b.do(ctx, resty.MethodPost, "/v2/orders", body, &out); err != nil {
		return Order{}, err
	}
	observ.IncCounter("broker_orders_total", map[string]string{"broker": "http", "status": out.Status})
	return out.toOrder(), nil
}

func (b *HTTPBroker) GetOrderStatus(ctx context.Context, id string) (Order, error) {
	var out orderResponse
	if err := b.do(ctx, resty.MethodGet, "/v2/orders/"+id, nil, &out); err != nil {
		return Order{}, err
	}
	return out.toOrder(), nil
}

func (b *HTTPBroker) CancelOrder(ctx context.Context, id string) error {
	return b.do(ctx, resty.MethodDelete, "/v2/orders/"+id, nil, nil)
}

func (b *HTTPBroker) GetPositions(ctx context.Context) ([]Position, error) {
	var out []positionResponse
	if err := b.do(ctx, resty.MethodGet, "/v2/positions", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(out))
	for _, p := range out {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		avg, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		positions = append(positions, Position{Symbol: p.Symbol, Asset: Asset(p.AssetClass), Quantity: int(qty), AvgPrice: avg})
	}
	return positions, nil
}

func (b *HTTPBroker) GetAccount(ctx context.Context) (Account, error) {
	var out accountResponse
	if err := b.do(ctx, resty.MethodGet, "/v2/account", nil, &out); err != nil {
		return Account{}, err
	}
	cash, _ := strconv.ParseFloat(out.Cash, 64)
	bp, _ := strconv.ParseFloat(out.BuyingPower, 64)
	eq, _ := strconv.ParseFloat(out.Equity, 64)
	return Account{Cash: cash, BuyingPower: bp, Equity: eq}, nil
}

func (r orderResponse) toOrder() Order {
	qty, _ := strconv.ParseFloat(r.Qty, 64)
	filled, _ := strconv.ParseFloat(r.FilledQty, 64)
	o := Order{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		Symbol:         r.Symbol,
		Asset:          Asset(r.AssetClass),
		Side:           Side(r.Side),
		Quantity:       int(qty),
		FilledQuantity: int(filled),
		SubmittedAt:    r.SubmittedAt,
		Status:         mapStatus(r.Status),
	}
	if r.FilledAvgPrice != nil {
		o.FilledAvgPrice, _ = strconv.ParseFloat(*r.FilledAvgPrice, 64)
	}
	if r.FilledAt != nil {
		o.FilledAt = *r.FilledAt
	}
	if o.Status == StatusRejected {
		o.RejectReason = r.Status
	}
	return o
}

func mapStatus(s string) Status {
	switch s {
	case "filled":
		return StatusFilled
	case "partially_filled":
		return StatusPartiallyFilled
	case "rejected", "expired", "suspended":
		return StatusRejected
	case "canceled", "done_for_day", "replaced":
		return StatusCanceled
	default:
		return StatusNew
	}
}
