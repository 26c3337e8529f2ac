// Package monitor evaluates open positions against their exit rules.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type Reason string

// Listed in priority order.
const (
	DTEExpiry       Reason = "DTE_EXPIRY"
	StopLoss        Reason = "STOP_LOSS"
	ProfitTarget    Reason = "PROFIT_TARGET"
	MaxHold         Reason = "MAX_HOLD"
	SignificantMove Reason = "SIGNIFICANT_MOVE"
)

// Forced triggers exit without a second opinion.
func (r Reason) Forced() bool { return r == DTEExpiry }

// Actionable triggers request an exit; the rest are alerts.
func (r Reason) Actionable() bool { return r != SignificantMove && r != "" }

// pctEpsilon keeps a move of exactly stop_pct or target_pct from missing on float noise.
const pctEpsilon = 1e-9

type Trigger struct {
	Reason Reason  `json:"reason"`
	Value  float64 `json:"value"` // pct, days or minutes depending on reason
	Detail string  `json:"detail"`
}

type Config struct {
	CloseDTE    int
	MovePct     float64
	Concurrency int
	CallTimeout time.Duration
}

// Evaluation is the outcome for one position. Primary is the highest-priority
// actionable trigger, nil when nothing asks for an exit.
type Evaluation struct {
	Position      lifecycle.Position `json:"position"`
	Mark          float64            `json:"mark"`
	UnrealizedPct float64            `json:"unrealized_pct"`
	Triggers      []Trigger          `json:"triggers"`
	Primary       *Trigger           `json:"primary,omitempty"`
	Err           error              `json:"-"`
}

// Evaluate applies the exit rules to p at mark. Every match is reported;
// SIGNIFICANT_MOVE only when nothing actionable fired.
func Evaluate(p lifecycle.Position, mark float64, now time.Time, cfg Config) Evaluation {
	ev := Evaluation{Position: p, Mark: mark}
	if mark <= 0 || p.EntryPrice <= 0 {
		ev.Err = fmt.Errorf("no usable mark for %s", p.Instrument)
		return ev
	}
	pct := p.UnrealizedPct(mark)
	ev.UnrealizedPct = pct

	if p.IsOption() {
		if dte := p.DTE(now); dte <= cfg.CloseDTE {
			ev.Triggers = append(ev.Triggers, Trigger{Reason: DTEExpiry, Value: float64(dte), Detail: fmt.Sprintf("dte %d <= %d", dte, cfg.CloseDTE)})
		}
	}
	if p.Profile.StopPct > 0 && -pct >= p.Profile.StopPct-pctEpsilon {
		ev.Triggers = append(ev.Triggers, Trigger{Reason: StopLoss, Value: pct, Detail: fmt.Sprintf("loss %.2f%% >= %.2f%%", -pct, p.Profile.StopPct)})
	}
	if p.Profile.TargetPct > 0 && pct >= p.Profile.TargetPct-pctEpsilon {
		ev.Triggers = append(ev.Triggers, Trigger{Reason: ProfitTarget, Value: pct, Detail: fmt.Sprintf("gain %.2f%% >= %.2f%%", pct, p.Profile.TargetPct)})
	}
	if p.Profile.MaxHold > 0 && !p.EnteredAt.IsZero() {
		if held := now.Sub(p.EnteredAt); held >= p.Profile.MaxHold {
			ev.Triggers = append(ev.Triggers, Trigger{Reason: MaxHold, Value: held.Minutes(), Detail: fmt.Sprintf("held %s >= %s", held.Round(time.Second), p.Profile.MaxHold)})
		}
	}
	if len(ev.Triggers) == 0 && cfg.MovePct > 0 && math.Abs(pct) >= cfg.MovePct-pctEpsilon {
		ev.Triggers = append(ev.Triggers, Trigger{Reason: SignificantMove, Value: pct, Detail: fmt.Sprintf("moved %.2f%%", pct)})
	}

	for i := range ev.Triggers {
		if ev.Triggers[i].Reason.Actionable() {
			t := ev.Triggers[i]
			ev.Primary = &t
			break
		}
	}
	return ev
}

// PositionSource is the read side of the lifecycle manager.
type PositionSource interface {
	Open() []lifecycle.Position
}

type Monitor struct {
	positions PositionSource
	gw        market.Gateway
	cfg       Config
	now       func() time.Time
}

func New(positions PositionSource, gw market.Gateway, cfg Config) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Monitor{positions: positions, gw: gw, cfg: cfg, now: time.Now}
}

func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Run evaluates every OPEN position. A position whose mark cannot be fetched
// comes back with Err set; DTE expiry is still checked for it.
func (m *Monitor) Run(ctx context.Context) []Evaluation {
	start := time.Now()
	open := m.positions.Open()
	out := make([]Evaluation, len(open))

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, m.cfg.Concurrency)
	)
	for i, p := range open {
		select {
		case <-ctx.Done():
			out[i] = Evaluation{Position: p, Err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, p lifecycle.Position) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = m.evaluateOne(ctx, p)
		}(i, p)
	}
	wg.Wait()

	alerts := 0
	for _, ev := range out {
		for _, t := range ev.Triggers {
			alerts++
			observ.IncCounter("monitor_triggers_total", map[string]string{"reason": string(t.Reason)})
			observ.Log("exit_trigger", map[string]any{
				"position_id":    ev.Position.ID,
				"symbol":         ev.Position.Symbol,
				"reason":         t.Reason,
				"detail":         t.Detail,
				"mark":           ev.Mark,
				"unrealized_pct": ev.UnrealizedPct,
			})
		}
	}
	observ.RecordDuration("monitor_cycle_latency", time.Since(start), nil)
	observ.SetGauge("monitor_open_positions", float64(len(open)), nil)
	observ.Log("monitor_cycle_complete", map[string]any{"positions": len(open), "alerts": alerts})
	return out
}

func (m *Monitor) evaluateOne(ctx context.Context, p lifecycle.Position) Evaluation {
	now := m.now()
	mark, err := m.mark(ctx, p)
	if err != nil {
		observ.IncCounter("monitor_mark_errors_total", map[string]string{"symbol": p.Symbol})
		observ.Log("monitor_mark_failed", map[string]any{"position_id": p.ID, "instrument": p.Instrument, "error": err})
		ev := Evaluation{Position: p, Err: err}
		// expiry does not depend on price
		if p.IsOption() {
			if dte := p.DTE(now); dte <= m.cfg.CloseDTE {
				t := Trigger{Reason: DTEExpiry, Value: float64(dte), Detail: fmt.Sprintf("dte %d <= %d", dte, m.cfg.CloseDTE)}
				ev.Triggers = []Trigger{t}
				ev.Primary = &t
			}
		}
		return ev
	}
	return Evaluate(p, mark, now, m.cfg)
}

func (m *Monitor) mark(ctx context.Context, p lifecycle.Position) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if p.IsOption() {
		c, err := m.gw.GetOptionQuote(cctx, p.Instrument)
		if err != nil {
			return 0, err
		}
		if mk := c.Mark(); mk > 0 {
			return mk, nil
		}
		return 0, market.NewEmptyError(p.Instrument, "no option mark")
	}
	q, err := m.gw.GetQuote(cctx, p.Instrument)
	if err != nil {
		return 0, err
	}
	if q.Price > 0 {
		return q.Price, nil
	}
	if mid := q.Mid(); mid > 0 {
		return mid, nil
	}
	return 0, market.NewEmptyError(p.Instrument, "no quote price")
}
