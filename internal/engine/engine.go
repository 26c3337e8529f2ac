// Package engine drives the pipeline: scan and enter on one cadence,
// monitor and exit on another.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/alerts"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/monitor"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/risk"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
	"github.com/Rajchodisetti/autotrader/internal/selector"
)

const EmergencyReason = "EMERGENCY"

// OpportunitySource yields one cycle's ranked opportunities.
type OpportunitySource interface {
	Scan(ctx context.Context) scanner.Report
}

type Config struct {
	ScanInterval      time.Duration
	MonitorInterval   time.Duration
	Location          *time.Location
	StartPaused       bool
	AssessConcurrency int
	ExitConcurrency   int
	Reconcile         bool
}

// Deps are the pipeline stages, built by Build or by hand in tests.
type Deps struct {
	Scanner    OpportunitySource
	Confidence *confidence.Engine
	Selector   *selector.Selector
	Governor   *risk.Governor
	Lifecycle  *lifecycle.Manager
	Monitor    *monitor.Monitor
	Notifier   Notifier // optional
}

type Engine struct {
	scanner    OpportunitySource
	confidence *confidence.Engine
	selector   *selector.Selector
	governor   *risk.Governor
	risk       *risk.State
	lifecycle  *lifecycle.Manager
	monitor    *monitor.Monitor
	notifier   Notifier
	cfg        Config
	now        func() time.Time

	paused         atomic.Bool
	breakerAlerted atomic.Bool

	// one cycle of each kind at a time; the control API can trigger extra ones
	scanMu    sync.Mutex
	monitorMu sync.Mutex
}

func New(d Deps, cfg Config) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AssessConcurrency <= 0 {
		cfg.AssessConcurrency = 1
	}
	if cfg.ExitConcurrency <= 0 {
		cfg.ExitConcurrency = 1
	}
	e := &Engine{
		scanner:    d.Scanner,
		confidence: d.Confidence,
		selector:   d.Selector,
		governor:   d.Governor,
		risk:       d.Governor.State(),
		lifecycle:  d.Lifecycle,
		monitor:    d.Monitor,
		notifier:   d.Notifier,
		cfg:        cfg,
		now:        time.Now,
	}
	if e.notifier == nil {
		e.notifier = alerts.Nop{}
	}
	e.paused.Store(cfg.StartPaused)
	return e
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ScanAndDecide runs one entry cycle. Opportunities are assessed in parallel;
// selection, risk validation and entry run one at a time so each sees the
// slots taken by the previous one.
func (e *Engine) ScanAndDecide(ctx context.Context) []EntryDecision {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if e.Paused() {
		observ.Log("scan_skipped", map[string]any{"reason": "paused"})
		return nil
	}
	start := time.Now()
	rep := e.scanner.Scan(ctx)

	var (
		decisions  []EntryDecision
		candidates []scanner.Opportunity
	)
	for _, opp := range rep.Opportunities {
		if held, ok := e.lifecycle.Snapshot(opp.Symbol); ok {
			d := EntryDecision{Symbol: opp.Symbol, Score: opp.Score}
			decisions = append(decisions, d.block("no_open_position", ActionSkipped, "already holding "+held.Instrument))
			continue
		}
		candidates = append(candidates, opp)
	}

	for _, a := range e.assess(ctx, candidates) {
		if ctx.Err() != nil || e.Paused() {
			d := EntryDecision{Symbol: a.Opportunity.Symbol, Score: a.Opportunity.Score}
			decisions = append(decisions, d.block("running", ActionSkipped, "cycle interrupted"))
			continue
		}
		decisions = append(decisions, e.decide(ctx, a))
	}

	entered := 0
	for _, d := range decisions {
		observ.IncCounter("entry_decisions_total", map[string]string{"action": string(d.Action)})
		if d.Action == ActionEntered {
			entered++
		}
		e.notifyEntry(d)
	}
	observ.RecordDuration("scan_and_decide_latency", time.Since(start), nil)
	observ.Log("scan_cycle_complete", map[string]any{
		"scanned":       rep.Scanned,
		"failed":        len(rep.Failed),
		"opportunities": len(rep.Opportunities),
		"entered":       entered,
		"open":          e.risk.OpenCount(),
	})
	return decisions
}

func (e *Engine) assess(ctx context.Context, opps []scanner.Opportunity) []confidence.Assessment {
	out := make([]confidence.Assessment, len(opps))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.AssessConcurrency)
	)
	for i, opp := range opps {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, opp scanner.Opportunity) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = e.confidence.Evaluate(ctx, opp)
		}(i, opp)
	}
	wg.Wait()
	return out
}

func (e *Engine) decide(ctx context.Context, a confidence.Assessment) EntryDecision {
	opp := a.Opportunity
	d := EntryDecision{
		Symbol:         opp.Symbol,
		TradeType:      a.TradeType,
		Score:          opp.Score,
		Confidence:     a.Confidence,
		Recommendation: a.Recommendation,
		RiskTier:       a.RiskTier,
	}
	d.pass("no_open_position")

	if a.OracleFailed {
		return d.block("oracle", ActionSkipped, a.Rationale)
	}
	d.pass("oracle")

	choice := e.selector.Select(ctx, a)
	d.Kind = choice.Kind
	if choice.Kind == selector.Skip {
		reason := fmt.Sprintf("%s at confidence %.1f", a.Recommendation, a.Confidence)
		if choice.FallbackReason != "" {
			reason = choice.FallbackReason
		}
		return d.block("instrument", ActionSkipped, reason)
	}
	d.pass("instrument")

	short := choice.Kind == selector.Stock && !choice.Bullish
	prop := risk.Proposal{
		Symbol:     opp.Symbol,
		Short:      short,
		UnitPrice:  opp.EntryPrice(short),
		Confidence: a.Confidence,
		RiskTier:   a.RiskTier,
	}
	d.Instrument = opp.Symbol
	if choice.Contract != nil {
		prop.Option = true
		prop.UnitPrice = choice.Contract.Premium()
		prop.DTE = choice.Contract.DTE(e.now())
		d.Instrument = choice.Contract.Symbol
	}
	approval := e.governor.Validate(ctx, prop)
	d.Code = approval.Code
	if !approval.Approved {
		return d.block("risk", ActionRejected, approval.Reason)
	}
	d.pass("risk")

	pos, err := e.lifecycle.Enter(ctx, lifecycle.EntryRequest{
		Symbol:     opp.Symbol,
		Decision:   choice,
		Quantity:   approval.Quantity,
		LimitPrice: approval.LimitPrice,
		TradeType:  a.TradeType,
		Profile:    a.Profile,
		Confidence: a.Confidence,
	})
	if err != nil {
		if errors.Is(err, risk.ErrMaxPositions) || errors.Is(err, risk.ErrCircuitBreaker) {
			return d.block("risk", ActionRejected, err.Error())
		}
		return d.block("order", ActionFailed, err.Error())
	}
	d.pass("order")
	d.Action = ActionEntered
	d.PositionID = pos.ID
	d.Quantity = pos.Quantity
	d.Price = pos.EntryPrice
	d.CostBasis = pos.CostBasis
	d.Reason = approval.Reason
	return d
}

// MonitorAndExit runs one monitor cycle. DTE expiry exits without asking the
// oracle; every other actionable trigger needs its confirmation.
func (e *Engine) MonitorAndExit(ctx context.Context) []ExitDecision {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	start := time.Now()
	evs := e.monitor.Run(ctx)

	var work []monitor.Evaluation
	var decisions []ExitDecision
	for _, ev := range evs {
		switch {
		case ev.Primary != nil:
			work = append(work, ev)
		case len(ev.Triggers) > 0:
			d := baseExit(ev)
			d.Action = ActionAlert
			d.Reason = ev.Triggers[0].Detail
			decisions = append(decisions, d)
		case ev.Err != nil:
			d := baseExit(ev)
			d.Action = ActionFailed
			d.Reason = ev.Err.Error()
			decisions = append(decisions, d)
		}
	}

	results := make([]ExitDecision, len(work))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.ExitConcurrency)
	)
	for i, ev := range work {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, ev monitor.Evaluation) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.exitOne(ctx, ev)
		}(i, ev)
	}
	wg.Wait()
	decisions = append(decisions, results...)

	if e.cfg.Reconcile {
		if _, err := e.lifecycle.Reconcile(ctx); err != nil {
			observ.Log("reconcile_failed", map[string]any{"error": err})
		}
	}

	for _, d := range decisions {
		observ.IncCounter("exit_decisions_total", map[string]string{"action": string(d.Action)})
		e.notifyExit(d)
	}
	e.checkBreaker()
	observ.RecordDuration("monitor_and_exit_latency", time.Since(start), nil)
	return decisions
}

func baseExit(ev monitor.Evaluation) ExitDecision {
	d := ExitDecision{
		PositionID:    ev.Position.ID,
		Symbol:        ev.Position.Symbol,
		Instrument:    ev.Position.Instrument,
		Mark:          ev.Mark,
		UnrealizedPct: ev.UnrealizedPct,
	}
	for _, t := range ev.Triggers {
		d.Alerts = append(d.Alerts, string(t.Reason))
	}
	return d
}

func (e *Engine) exitOne(ctx context.Context, ev monitor.Evaluation) ExitDecision {
	p := ev.Position
	d := baseExit(ev)
	d.Trigger = ev.Primary.Reason
	d.Forced = ev.Primary.Reason.Forced()

	if !d.Forced {
		c := e.confidence.ConfirmExit(ctx, confidence.ExitQuery{
			Symbol:        p.Symbol,
			TradeType:     p.TradeType,
			Bullish:       p.Bullish,
			Instrument:    string(p.Kind),
			EntryPrice:    p.EntryPrice,
			Mark:          ev.Mark,
			UnrealizedPct: ev.UnrealizedPct,
			EnteredAt:     p.EnteredAt,
			Trigger:       string(ev.Primary.Reason),
			Now:           e.now(),
		})
		v := c.Verdict
		d.Verdict = &v
		if !c.Exit {
			d.Action = ActionHeld
			d.Reason = c.Reason
			observ.Log("exit_held", map[string]any{"position_id": p.ID, "trigger": d.Trigger, "reason": c.Reason, "confidence": v.Confidence})
			return d
		}
		d.Reason = c.Reason
	} else {
		d.Reason = ev.Primary.Detail
	}

	return e.exit(ctx, d, string(ev.Primary.Reason))
}

// exit runs to completion even when ctx is cancelled mid-way; the fill timeout bounds it.
func (e *Engine) exit(ctx context.Context, d ExitDecision, reason string) ExitDecision {
	closed, err := e.lifecycle.Exit(context.WithoutCancel(ctx), d.PositionID, reason)
	switch {
	case err == nil:
		d.Action = ActionExited
		d.ExitPrice = closed.ExitPrice
		d.RealizedPL = closed.RealizedPL
	case errors.Is(err, lifecycle.ErrExitInFlight), errors.Is(err, lifecycle.ErrInvalidTransition):
		d.Action = ActionInFlight
		d.Reason = err.Error()
	default:
		d.Action = ActionFailed
		d.Reason = err.Error()
	}
	return d
}

// PositionSnapshot returns a copy of the live position in symbol.
func (e *Engine) PositionSnapshot(symbol string) (*lifecycle.Position, bool) {
	p, ok := e.lifecycle.Snapshot(symbol)
	if !ok {
		return nil, false
	}
	return &p, true
}

func (e *Engine) Positions() []lifecycle.Position { return e.lifecycle.All() }

func (e *Engine) Risk() risk.Snapshot { return e.risk.Snapshot() }

func (e *Engine) Limits() risk.Limits { return e.risk.Limits() }

func (e *Engine) SetLimits(l risk.Limits) error { return e.risk.SetLimits(l) }

// Pause stops new entries. Exits keep running.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		observ.SetGauge("engine_paused", 1, nil)
		observ.Log("engine_paused", nil)
	}
}

func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		observ.SetGauge("engine_paused", 0, nil)
		observ.Log("engine_resumed", nil)
	}
}

func (e *Engine) Paused() bool { return e.paused.Load() }

// EmergencyStop pauses entries and force-exits every OPEN position without
// confirmation. An entry cycle already in flight finishes first, so a pending
// entry that fills is closed too.
func (e *Engine) EmergencyStop(ctx context.Context) []ExitDecision {
	e.Pause()
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	open := e.lifecycle.Open()
	observ.Log("emergency_stop", map[string]any{"open_positions": len(open)})
	e.notifier.Send(alerts.Alert{
		Key:      "emergency_stop",
		Title:    fmt.Sprintf("Emergency stop: closing %d positions", len(open)),
		Severity: alerts.Critical,
		At:       e.now(),
	})

	out := make([]ExitDecision, len(open))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.ExitConcurrency)
	)
	for i, p := range open {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, p lifecycle.Position) {
			defer wg.Done()
			defer func() { <-sem }()
			d := ExitDecision{
				PositionID: p.ID,
				Symbol:     p.Symbol,
				Instrument: p.Instrument,
				Forced:     true,
				Reason:     "emergency stop",
			}
			out[i] = e.exit(ctx, d, EmergencyReason)
		}(i, p)
	}
	wg.Wait()
	for _, d := range out {
		e.notifyExit(d)
	}
	e.checkBreaker()
	return out
}

// ResetDay starts a new trading day and drops finished positions from memory.
func (e *Engine) ResetDay() {
	e.risk.ResetDay(e.now().In(e.cfg.Location))
	e.breakerAlerted.Store(false)
	pruned := e.lifecycle.PruneTerminal()
	observ.Log("day_reset", map[string]any{"trading_day": e.risk.TradingDay(), "pruned_positions": pruned})
}

// rollDay resets the day when the calendar date in the engine's timezone has moved on.
func (e *Engine) rollDay() bool {
	day := e.now().In(e.cfg.Location).Format("2006-01-02")
	if day == e.risk.TradingDay() {
		return false
	}
	e.ResetDay()
	return true
}
