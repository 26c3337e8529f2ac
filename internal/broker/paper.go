package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/outbox"
)

type PaperConfig struct {
	StartingCash float64
	AllowShort   bool
}

type paperOrder struct {
	order     Order
	fill      outbox.Fill
	visibleAt time.Time
}

type holding struct {
	asset    Asset
	qty      int
	avgPrice decimal.Decimal
}

// Paper fills market orders against the gateway's quotes through the fill
// simulator. Fills become visible after the simulated latency.
type Paper struct {
	gw  market.Gateway
	ob  *outbox.Outbox
	sim *outbox.FillSimulator
	cfg PaperConfig
	now func() time.Time

	mu       sync.Mutex
	cash     decimal.Decimal
	orders   map[string]*paperOrder
	holdings map[string]*holding
}

// NewPaper builds a paper broker. ob may be nil to skip the audit trail.
func NewPaper(gw market.Gateway, ob *outbox.Outbox, sim *outbox.FillSimulator, cfg PaperConfig) *Paper {
	if sim == nil {
		sim = outbox.NewFillSimulator(0, 0, 0, 0)
	}
	return &Paper{
		gw:       gw,
		ob:       ob,
		sim:      sim,
		cfg:      cfg,
		now:      time.Now,
		cash:     decimal.NewFromFloat(cfg.StartingCash),
		orders:   make(map[string]*paperOrder),
		holdings: make(map[string]*holding),
	}
}

func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity %d", ErrRejected, req.Quantity)
	}
	if p.ob != nil && req.IdempotencyKey != "" {
		dup, err := p.ob.HasRecentOrder(req.IdempotencyKey)
		if err != nil {
			return Order{}, fmt.Errorf("outbox: %w", err)
		}
		if dup {
			observ.IncCounter("broker_duplicate_orders_total", map[string]string{"broker": "paper"})
			return Order{}, fmt.Errorf("%w: key %s", ErrDuplicate, req.IdempotencyKey)
		}
	}

	price, err := p.marketPrice(ctx, req)
	if err != nil {
		return Order{}, fmt.Errorf("%w: no market price for %s: %v", ErrRejected, req.Symbol, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	now := p.now()

	if reason := marketable(req, price); reason != "" {
		observ.IncCounter("broker_orders_total", map[string]string{"broker": "paper", "status": string(StatusRejected)})
		return Order{}, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	if reason := p.check(req, price); reason != "" {
		observ.IncCounter("broker_orders_total", map[string]string{"broker": "paper", "status": string(StatusRejected)})
		return Order{}, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	o := Order{
		ID:            outbox.NewOrderID(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Asset:         req.Asset,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        StatusNew,
		SubmittedAt:   now,
	}
	rec := outbox.Order{
		ID:             o.ID,
		ClientOrderID:  req.ClientOrderID,
		PositionID:     req.PositionID,
		Symbol:         req.Symbol,
		Asset:          string(req.Asset),
		Side:           string(req.Side),
		Quantity:       req.Quantity,
		Intent:         req.Intent,
		LimitPrice:     req.LimitPrice,
		Timestamp:      now,
		Status:         string(StatusNew),
		IdempotencyKey: req.IdempotencyKey,
	}
	if p.ob != nil {
		if err := p.ob.WriteOrder(rec); err != nil {
			return Order{}, fmt.Errorf("outbox: %w", err)
		}
	}

	fill, latency := p.sim.SimulateFill(rec, price, now)
	fill.Price = clampToLimit(req, fill.Price)
	p.orders[o.ID] = &paperOrder{order: o, fill: fill, visibleAt: now.Add(latency)}
	p.settle()
	observ.IncCounter("broker_orders_total", map[string]string{"broker": "paper", "status": string(StatusNew)})
	return p.orders[o.ID].order, nil
}

func (p *Paper) marketPrice(ctx context.Context, req OrderRequest) (float64, error) {
	var bid, ask, last float64
	if req.Asset == Option {
		c, err := p.gw.GetOptionQuote(ctx, req.Symbol)
		if err != nil {
			return 0, err
		}
		bid, ask, last = c.Bid, c.Ask, c.Last
	} else {
		q, err := p.gw.GetQuote(ctx, req.Symbol)
		if err != nil {
			return 0, err
		}
		bid, ask, last = q.Bid, q.Ask, q.Price
	}
	price := last
	if req.Side == Buy && ask > 0 {
		price = ask
	}
	if req.Side == Sell && bid > 0 {
		price = bid
	}
	if price <= 0 {
		return 0, fmt.Errorf("zero price")
	}
	return price, nil
}

// marketable rejects a limit order the current quote would not fill. Paper
// limit orders never rest on a book.
func marketable(req OrderRequest, price float64) string {
	if req.LimitPrice <= 0 {
		return ""
	}
	if req.Side == Buy && price > req.LimitPrice {
		return fmt.Sprintf("limit %.2f below ask %.2f", req.LimitPrice, price)
	}
	if req.Side == Sell && price < req.LimitPrice {
		return fmt.Sprintf("limit %.2f above bid %.2f", req.LimitPrice, price)
	}
	return ""
}

// clampToLimit keeps simulated slippage inside the limit.
func clampToLimit(req OrderRequest, price float64) float64 {
	if req.LimitPrice <= 0 {
		return price
	}
	if req.Side == Buy && price > req.LimitPrice {
		return req.LimitPrice
	}
	if req.Side == Sell && price < req.LimitPrice {
		return req.LimitPrice
	}
	return price
}

// check runs under p.mu.
func (p *Paper) check(req OrderRequest, price float64) string {
	held := 0
	if h, ok := p.holdings[req.Symbol]; ok {
		held = h.qty
	}
	if req.Side == Buy {
		cost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(req.Quantity * multiplier(req.Asset))))
		if cost.GreaterThan(p.cash.Sub(p.pendingBuys())) {
			return fmt.Sprintf("insufficient cash: need %s have %s", cost.StringFixed(2), p.cash.StringFixed(2))
		}
		return ""
	}
	if held >= req.Quantity {
		return ""
	}
	if req.Asset == Option {
		return "cannot sell options not held"
	}
	if !p.cfg.AllowShort {
		return "short selling disabled"
	}
	return ""
}

func (p *Paper) pendingBuys() decimal.Decimal {
	total := decimal.Zero
	for _, po := range p.orders {
		if po.order.Status == StatusNew && po.order.Side == Buy {
			total = total.Add(decimal.NewFromFloat(po.fill.Price).Mul(decimal.NewFromInt(int64(po.fill.Quantity * multiplier(po.order.Asset)))))
		}
	}
	return total
}

// settle applies every fill whose latency has elapsed. Runs under p.mu.
func (p *Paper) settle() {
	now := p.now()
	for _, po := range p.orders {
		if po.order.Status != StatusNew || now.Before(po.visibleAt) {
			continue
		}
		p.apply(po)
		po.order.Status = StatusFilled
		po.order.FilledQuantity = po.fill.Quantity
		po.order.FilledAvgPrice = po.fill.Price
		po.order.FilledAt = po.fill.Timestamp
		if p.ob != nil {
			if err := p.ob.WriteFill(po.fill); err != nil {
				observ.Log("outbox_write_failed", map[string]any{"order_id": po.order.ID, "error": err})
			}
		}
		observ.IncCounter("broker_fills_total", map[string]string{"broker": "paper", "side": string(po.order.Side)})
	}
}

func (p *Paper) apply(po *paperOrder) {
	o := po.order
	qty := po.fill.Quantity
	price := decimal.NewFromFloat(po.fill.Price)
	notional := price.Mul(decimal.NewFromInt(int64(qty * multiplier(o.Asset))))

	h, ok := p.holdings[o.Symbol]
	if !ok {
		h = &holding{asset: o.Asset}
		p.holdings[o.Symbol] = h
	}
	signed := qty
	if o.Side == Sell {
		signed = -qty
		p.cash = p.cash.Add(notional)
	} else {
		p.cash = p.cash.Sub(notional)
	}

	next := h.qty + signed
	switch {
	case h.qty == 0 || (h.qty > 0) == (signed > 0):
		// opening or adding: weighted average price
		total := h.avgPrice.Mul(decimal.NewFromInt(int64(abs(h.qty)))).Add(price.Mul(decimal.NewFromInt(int64(qty))))
		h.avgPrice = total.Div(decimal.NewFromInt(int64(abs(next))))
	case next != 0 && (next > 0) != (h.qty > 0):
		// flipped through zero
		h.avgPrice = price
	}
	h.qty = next
	if h.qty == 0 {
		delete(p.holdings, o.Symbol)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (p *Paper) GetOrderStatus(_ context.Context, id string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	po, ok := p.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return po.order, nil
}

func (p *Paper) CancelOrder(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	po, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if po.order.Terminal() {
		return fmt.Errorf("order %s already %s", id, po.order.Status)
	}
	po.order.Status = StatusCanceled
	return nil
}

func (p *Paper) GetPositions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	out := make([]Position, 0, len(p.holdings))
	for sym, h := range p.holdings {
		avg, _ := h.avgPrice.Float64()
		out = append(out, Position{Symbol: sym, Asset: h.asset, Quantity: h.qty, AvgPrice: avg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetAccount values holdings at cost.
func (p *Paper) GetAccount(_ context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	equity := p.cash
	for _, h := range p.holdings {
		equity = equity.Add(h.avgPrice.Mul(decimal.NewFromInt(int64(h.qty * multiplier(h.asset)))))
	}
	cash, _ := p.cash.Float64()
	bp, _ := p.cash.Sub(p.pendingBuys()).Float64()
	eq, _ := equity.Float64()
	return Account{Cash: cash, BuyingPower: bp, Equity: eq}, nil
}
