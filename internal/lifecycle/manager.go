// Package lifecycle owns every position and is the only place their state changes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/outbox"
	"github.com/Rajchodisetti/autotrader/internal/risk"
	"github.com/Rajchodisetti/autotrader/internal/selector"
)

var (
	ErrOrderFailed       = errors.New("order failed")
	ErrExitInFlight      = errors.New("exit already in flight")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("position not found")
)

// Recorder receives every closed position, e.g. a trade journal.
type Recorder interface {
	RecordTrade(ctx context.Context, p Position) error
}

type Config struct {
	FillTimeout time.Duration
	FillPoll    time.Duration
	CallTimeout time.Duration
}

type EntryRequest struct {
	Symbol     string
	Decision   selector.Decision
	Quantity   int
	LimitPrice float64 // per share; 0 sends a market order
	TradeType  confidence.TradeType
	Profile    confidence.Profile
	Confidence float64
}

type entry struct {
	mu          sync.Mutex
	pos         Position
	exitAttempt int
}

type Manager struct {
	broker   broker.Broker
	risk     *risk.State
	recorder Recorder
	cfg      Config
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager builds a manager. recorder may be nil.
func NewManager(b broker.Broker, rs *risk.State, recorder Recorder, cfg Config) *Manager {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.FillPoll <= 0 {
		cfg.FillPoll = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Manager{
		broker:   b,
		risk:     rs,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Enter reserves a risk slot, submits the entry order and waits for its fill.
// Any failure leaves an ENTRY_FAILED record and releases the slot.
func (m *Manager) Enter(ctx context.Context, req EntryRequest) (Position, error) {
	d := req.Decision
	if d.Kind == selector.Skip {
		return Position{}, fmt.Errorf("%w: cannot enter a SKIP decision", ErrInvalidTransition)
	}
	if d.Kind.IsOption() && d.Contract == nil {
		return Position{}, fmt.Errorf("%w: option decision without contract", ErrInvalidTransition)
	}
	if req.Quantity <= 0 {
		return Position{}, fmt.Errorf("%w: quantity %d", ErrInvalidTransition, req.Quantity)
	}

	id := NewID()
	if err := m.risk.Reserve(id); err != nil {
		return Position{}, err
	}

	p := Position{
		ID:         id,
		Symbol:     req.Symbol,
		Instrument: req.Symbol,
		Kind:       d.Kind,
		Bullish:    d.Bullish,
		EntrySide:  broker.Buy,
		Quantity:   req.Quantity,
		TradeType:  req.TradeType,
		Profile:    req.Profile,
		Confidence: req.Confidence,
		State:      PendingEntry,
		CreatedAt:  m.now(),
	}
	if d.Kind == selector.Stock && !d.Bullish {
		p.EntrySide = broker.Sell
	}
	if d.Contract != nil {
		c := *d.Contract
		p.Contract = &c
		p.Instrument = c.Symbol
		p.Expiration = c.Expiration
	}

	e := &entry{pos: p}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()
	observ.IncCounter("positions_total", map[string]string{"state": string(PendingEntry)})

	order, err := m.submitAndAwait(ctx, broker.OrderRequest{
		ClientOrderID:  outbox.NewOrderID(),
		PositionID:     id,
		Symbol:         p.Instrument,
		Asset:          p.Asset(),
		Side:           p.EntrySide,
		Quantity:       p.Quantity,
		LimitPrice:     req.LimitPrice,
		Intent:         "OPEN",
		IdempotencyKey: outbox.IdempotencyKey(id, "OPEN", 0),
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if order.ID != "" {
		e.pos.EntryOrderID = order.ID
	}
	if err != nil {
		e.pos.State = EntryFailed
		e.pos.FailReason = err.Error()
		if rerr := m.risk.Release(id); rerr != nil {
			observ.Log("risk_release_failed", map[string]any{"position_id": id, "error": rerr})
		}
		observ.IncCounter("positions_total", map[string]string{"state": string(EntryFailed)})
		observ.Log("entry_failed", map[string]any{"position_id": id, "symbol": p.Symbol, "instrument": p.Instrument, "error": err})
		return e.pos, fmt.Errorf("%w: entry %s: %v", ErrOrderFailed, p.Instrument, err)
	}

	e.pos.Quantity = order.FilledQuantity
	e.pos.EntryPrice = order.FilledAvgPrice
	e.pos.CostBasis = order.FilledAvgPrice * float64(order.FilledQuantity*e.pos.Multiplier())
	e.pos.EnteredAt = order.FilledAt
	if e.pos.EnteredAt.IsZero() {
		e.pos.EnteredAt = m.now()
	}
	e.pos.levels()
	e.pos.State = Open
	if ceiling := m.risk.Limits().MaxPositionSize; e.pos.CostBasis > ceiling {
		observ.IncCounter("entry_over_cap_total", nil)
		observ.Log("entry_over_cap", map[string]any{"position_id": id, "cost_basis": e.pos.CostBasis, "max_position_size": ceiling})
	}

	observ.IncCounter("positions_total", map[string]string{"state": string(Open)})
	observ.Log("entry_filled", map[string]any{
		"position_id": id,
		"symbol":      p.Symbol,
		"instrument":  e.pos.Instrument,
		"kind":        e.pos.Kind,
		"side":        e.pos.EntrySide,
		"quantity":    e.pos.Quantity,
		"price":       e.pos.EntryPrice,
		"cost_basis":  e.pos.CostBasis,
		"trade_type":  e.pos.TradeType,
		"target":      e.pos.Target,
		"stop":        e.pos.Stop,
	})
	return e.pos, nil
}

// BeginExit is the guarded OPEN -> EXIT_PENDING transition. Only one caller
// can win; the rest see ErrExitInFlight while the exit is pending.
func (m *Manager) BeginExit(id, reason string) error {
	e, ok := m.entry(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.pos.State {
	case Open:
		e.pos.State = ExitPending
		e.pos.ExitReason = reason
		e.exitAttempt++
		return nil
	case ExitPending:
		observ.IncCounter("exit_duplicate_triggers_total", map[string]string{"reason": reason})
		return ErrExitInFlight
	default:
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.pos.State)
	}
}

// Exit closes the position. A failed exit order rolls the position back to OPEN.
func (m *Manager) Exit(ctx context.Context, id, reason string) (Position, error) {
	if err := m.BeginExit(id, reason); err != nil {
		return Position{}, err
	}
	e, _ := m.entry(id)

	e.mu.Lock()
	p := e.pos
	attempt := e.exitAttempt
	e.mu.Unlock()

	order, err := m.submitAndAwait(ctx, broker.OrderRequest{
		ClientOrderID:  outbox.NewOrderID(),
		PositionID:     id,
		Symbol:         p.Instrument,
		Asset:          p.Asset(),
		Side:           p.exitSide(),
		Quantity:       p.Quantity,
		Intent:         "CLOSE",
		IdempotencyKey: outbox.IdempotencyKey(id, "CLOSE", attempt),
	})

	e.mu.Lock()
	if err != nil {
		e.pos.State = Open
		e.pos.ExitReason = ""
		out := e.pos
		e.mu.Unlock()
		observ.IncCounter("exit_rollbacks_total", map[string]string{"reason": reason})
		observ.Log("exit_failed", map[string]any{"position_id": id, "symbol": p.Symbol, "reason": reason, "error": err})
		return out, fmt.Errorf("%w: exit %s: %v", ErrOrderFailed, p.Instrument, err)
	}

	if order.FilledQuantity > 0 && order.FilledQuantity < e.pos.Quantity {
		// partial exit: book what filled and keep the rest open for the next cycle
		pl := RealizedPL(e.pos, order.FilledAvgPrice, order.FilledQuantity)
		e.pos.Quantity -= order.FilledQuantity
		e.pos.CostBasis = e.pos.EntryPrice * float64(e.pos.Quantity*e.pos.Multiplier())
		e.pos.State = Open
		e.pos.ExitReason = ""
		out := e.pos
		e.mu.Unlock()
		m.risk.RecordRealized(pl)
		observ.Log("exit_partial", map[string]any{"position_id": id, "filled": order.FilledQuantity, "remaining": out.Quantity, "realized_pl": pl.StringFixed(2)})
		return out, fmt.Errorf("%w: exit %s filled %d of %d", ErrOrderFailed, p.Instrument, order.FilledQuantity, p.Quantity)
	}

	e.pos.ExitOrderID = order.ID
	e.pos.ExitPrice = order.FilledAvgPrice
	e.pos.ClosedAt = order.FilledAt
	if e.pos.ClosedAt.IsZero() {
		e.pos.ClosedAt = m.now()
	}
	pl := RealizedPL(e.pos, order.FilledAvgPrice, order.FilledQuantity)
	e.pos.RealizedPL, _ = pl.Float64()
	e.pos.State = Closed
	closed := e.pos
	e.mu.Unlock()

	if err := m.risk.Close(id, pl); err != nil {
		observ.Log("risk_close_failed", map[string]any{"position_id": id, "error": err})
	}
	observ.IncCounter("positions_total", map[string]string{"state": string(Closed)})
	observ.IncCounter("exits_total", map[string]string{"reason": reason})
	observ.Log("exit_filled", map[string]any{
		"position_id": id,
		"symbol":      closed.Symbol,
		"instrument":  closed.Instrument,
		"reason":      reason,
		"entry_price": closed.EntryPrice,
		"exit_price":  closed.ExitPrice,
		"realized_pl": closed.RealizedPL,
	})

	if m.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
		if err := m.recorder.RecordTrade(rctx, closed); err != nil {
			observ.Log("journal_write_failed", map[string]any{"position_id": id, "error": err})
		}
		cancel()
	}
	return closed, nil
}

// RealizedPL prices an exit of qty units at price against the position's entry.
func RealizedPL(p Position, price float64, qty int) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Short() {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(int64(qty * p.Multiplier()))).Round(2)
}

func (m *Manager) submitAndAwait(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	order, err := m.broker.SubmitOrder(sctx, req)
	cancel()
	if err != nil {
		return broker.Order{}, err
	}
	if order.Status == broker.StatusFilled {
		return order, nil
	}
	return m.awaitFill(ctx, order)
}

// awaitFill polls until the order is terminal or the fill timeout passes. On
// timeout the order is cancelled; a partial fill still counts.
func (m *Manager) awaitFill(ctx context.Context, order broker.Order) (broker.Order, error) {
	deadline := time.NewTimer(m.cfg.FillTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(m.cfg.FillPoll)
	defer tick.Stop()

	for {
		switch order.Status {
		case broker.StatusFilled:
			return order, nil
		case broker.StatusRejected, broker.StatusCanceled:
			return order, fmt.Errorf("%w: order %s %s %s", broker.ErrRejected, order.ID, order.Status, order.RejectReason)
		}

		select {
		case <-ctx.Done():
			return m.cancelRemainder(order, ctx.Err())
		case <-deadline.C:
			return m.cancelRemainder(order, fmt.Errorf("fill timeout after %s", m.cfg.FillTimeout))
		case <-tick.C:
			qctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			latest, err := m.broker.GetOrderStatus(qctx, order.ID)
			cancel()
			if err != nil {
				observ.Log("order_status_failed", map[string]any{"order_id": order.ID, "error": err})
				continue
			}
			order = latest
		}
	}
}

func (m *Manager) cancelRemainder(order broker.Order, cause error) (broker.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()
	if err := m.broker.CancelOrder(ctx, order.ID); err != nil {
		observ.Log("order_cancel_failed", map[string]any{"order_id": order.ID, "error": err})
	}
	latest, err := m.broker.GetOrderStatus(ctx, order.ID)
	if err == nil {
		order = latest
	}
	if order.Status == broker.StatusFilled || order.FilledQuantity > 0 {
		return order, nil
	}
	return order, cause
}

func (m *Manager) entry(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *Manager) Get(id string) (Position, bool) {
	e, ok := m.entry(id)
	if !ok {
		return Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// Snapshot returns the most recent live position in symbol.
func (m *Manager) Snapshot(symbol string) (Position, bool) {
	var found Position
	ok := false
	for _, p := range m.All() {
		if p.Symbol == symbol && !p.State.Terminal() {
			found, ok = p, true
		}
	}
	return found, ok
}

// Open lists OPEN positions, oldest entry first.
func (m *Manager) Open() []Position {
	var out []Position
	for _, p := range m.All() {
		if p.State == Open {
			out = append(out, p)
		}
	}
	return out
}

// All lists every tracked position ordered by id (creation order).
func (m *Manager) All() []Position {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PruneTerminal drops CLOSED and ENTRY_FAILED records and returns how many were removed.
func (m *Manager) PruneTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		e.mu.Lock()
		terminal := e.pos.State.Terminal()
		e.mu.Unlock()
		if terminal {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
