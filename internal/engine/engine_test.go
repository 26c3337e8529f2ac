package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/autotrader/internal/alerts"
	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/config"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/monitor"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
	"github.com/Rajchodisetti/autotrader/internal/outbox"
	"github.com/Rajchodisetti/autotrader/internal/risk"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
	"github.com/Rajchodisetti/autotrader/internal/selector"
	"github.com/Rajchodisetti/autotrader/internal/sentiment"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeScanner struct{ opps []scanner.Opportunity }

func (f fakeScanner) Scan(context.Context) scanner.Report {
	return scanner.Report{Opportunities: f.opps, Scanned: len(f.opps), Failed: map[string]error{}}
}

type fakeOracle struct {
	mu      sync.Mutex
	entry   map[string]oracle.Verdict
	exit    oracle.Verdict
	err     error
	entries int
	exits   int
}

func (f *fakeOracle) Analyze(_ context.Context, req oracle.Request) (oracle.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Mode == oracle.ModeExit {
		f.exits++
		return f.exit, f.err
	}
	f.entries++
	if f.err != nil {
		return oracle.Verdict{}, f.err
	}
	if v, ok := f.entry[req.Symbol]; ok {
		return v, nil
	}
	return oracle.HoldVerdict("no view"), nil
}

func (f *fakeOracle) setExit(v oracle.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exit = v
}

func (f *fakeOracle) calls() (entries, exits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, f.exits
}

type fixedSentiment map[string]float64

func (s fixedSentiment) GetSentiment(_ context.Context, symbol string) sentiment.Reading {
	return sentiment.Reading{Symbol: symbol, Score: s[symbol]}
}

var (
	start  = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	expiry = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
)

func nvdaCall(bid, ask float64) market.OptionContract {
	return market.OptionContract{
		Symbol: market.FormatOCC("NVDA", market.Call, 900, expiry), Underlying: "NVDA",
		Right: market.Call, Strike: 900, Expiration: expiry, Bid: bid, Ask: ask,
	}
}

func nvdaScalp() scanner.Opportunity {
	return scanner.Opportunity{Symbol: "NVDA", Price: 900, ChangePct: 1.5, VolumeRatio: 3, Momentum: 2.2, Volatility: 2.5, Score: 85}
}

func aaplDayTrade() scanner.Opportunity {
	return scanner.Opportunity{Symbol: "AAPL", Price: 100, ChangePct: 0.8, VolumeRatio: 1.6, Momentum: 0.5, Volatility: 0.8, Score: 72}
}

type harness struct {
	clock  *testClock
	gw     *market.SimGateway
	paper  *broker.Paper
	ob     *outbox.Outbox
	oracle *fakeOracle
	scan   *fakeScanner
	risk   *risk.State
	lc     *lifecycle.Manager
	notes  *recorder
	eng    *Engine
}

type recorder struct {
	mu  sync.Mutex
	got []alerts.Alert
}

func (r *recorder) Send(a alerts.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
}

func (r *recorder) titles(sev alerts.Severity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.got {
		if a.Severity == sev {
			out = append(out, a.Title)
		}
	}
	return out
}

// fillModel sets the paper broker's simulated latency and slippage.
type fillModel struct {
	latencyMs   int
	slippageBps int
}

func newHarness(t *testing.T, opps ...scanner.Opportunity) *harness {
	t.Helper()
	return newHarnessWith(t, fillModel{}, opps...)
}

func newHarnessWith(t *testing.T, fm fillModel, opps ...scanner.Opportunity) *harness {
	t.Helper()
	clock := &testClock{t: start}

	g := market.NewSimGateway(1)
	g.SetClock(clock.Now)
	g.SetQuote(market.Quote{Symbol: "AAPL", Price: 100, Bid: 100, Ask: 100})
	g.SetChain("NVDA", []market.OptionContract{nvdaCall(3.40, 3.50)})

	ob, err := outbox.New(filepath.Join(t.TempDir(), "outbox.jsonl"), 90)
	require.NoError(t, err)
	paper := broker.NewPaper(g, ob, outbox.NewSeededFillSimulator(1, fm.latencyMs, fm.latencyMs, fm.slippageBps, fm.slippageBps), broker.PaperConfig{StartingCash: 10000})
	paper.SetClock(clock.Now)

	rs := risk.NewState(risk.Limits{MaxPositionSize: 1000, MaxDailyLoss: 500, MaxOpenPositions: 3, MaxPremium: 500, MaxContracts: 10, MaxDTE: 45, CloseDTE: 1})
	rs.SetClock(clock.Now)
	lc := lifecycle.NewManager(paper, rs, nil, lifecycle.Config{FillTimeout: time.Second, FillPoll: 5 * time.Millisecond, CallTimeout: time.Second})
	lc.SetClock(clock.Now)

	orc := &fakeOracle{entry: map[string]oracle.Verdict{
		"NVDA": {Recommendation: oracle.Buy, Confidence: 70, RiskTier: oracle.RiskLow},
		"AAPL": {Recommendation: oracle.Buy, Confidence: 65, RiskTier: oracle.RiskMedium},
	}}
	sel := selector.New(g, selector.DefaultConfig())
	sel.SetClock(clock.Now)
	mon := monitor.New(lc, g, monitor.Config{CloseDTE: 1, MovePct: 5})
	mon.SetClock(clock.Now)

	scan := &fakeScanner{opps: opps}
	notes := &recorder{}
	eng := New(Deps{
		Scanner:    scan,
		Confidence: confidence.New(orc, fixedSentiment{"NVDA": 0.6}, confidence.DefaultConfig()),
		Selector:   sel,
		Governor:   risk.NewGovernor(rs, paper, risk.DefaultSizing()),
		Lifecycle:  lc,
		Monitor:    mon,
		Notifier:   notes,
	}, Config{Location: time.UTC, AssessConcurrency: 2, ExitConcurrency: 2})
	eng.SetClock(clock.Now)
	eng.ResetDay()

	return &harness{clock: clock, gw: g, paper: paper, ob: ob, oracle: orc, scan: scan, risk: rs, lc: lc, notes: notes, eng: eng}
}

func (h *harness) enterNVDA(t *testing.T) EntryDecision {
	t.Helper()
	ds := h.eng.ScanAndDecide(context.Background())
	require.Len(t, ds, 1)
	require.Equal(t, ActionEntered, ds[0].Action, ds[0].Reason)
	return ds[0]
}

func TestScanAndDecideScalpCall(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	d := h.enterNVDA(t)

	assert.Equal(t, confidence.Scalp, d.TradeType)
	assert.Equal(t, 80.0, d.Confidence)
	assert.Equal(t, selector.Call, d.Kind)
	assert.Equal(t, nvdaCall(0, 0).Symbol, d.Instrument)
	assert.Equal(t, 2, d.Quantity)
	assert.Equal(t, 3.50, d.Price)
	assert.InDelta(t, 700, d.CostBasis, 1e-9)
	assert.Equal(t, risk.CodeApproved, d.Code)
	assert.Equal(t, []string{"no_open_position", "oracle", "instrument", "risk", "order"}, d.GatesPassed)
	assert.Empty(t, d.GatesBlocked)

	p, ok := h.eng.PositionSnapshot("NVDA")
	require.True(t, ok)
	assert.Equal(t, d.PositionID, p.ID)
	assert.InDelta(t, 3.5*1.015, p.Target, 1e-9)
	assert.InDelta(t, 3.5*0.99, p.Stop, 1e-9)
	assert.Equal(t, start.Add(30*time.Minute), p.HoldBy)
	assert.Equal(t, 1, h.eng.Risk().OpenPositions)
}

func TestScanAndDecideStockAndSkip(t *testing.T) {
	h := newHarness(t, nvdaScalp(), aaplDayTrade(), scanner.Opportunity{Symbol: "TSLA", Price: 200, Score: 65, VolumeRatio: 1.1})
	ds := h.eng.ScanAndDecide(context.Background())
	require.Len(t, ds, 3)

	assert.Equal(t, ActionEntered, ds[0].Action)
	assert.Equal(t, selector.Call, ds[0].Kind)

	// 1000 x (0.5 + 0.5 x 5/40) x 0.75 = 421.875 -> 4 shares at $100
	assert.Equal(t, ActionEntered, ds[1].Action, ds[1].Reason)
	assert.Equal(t, confidence.DayTrade, ds[1].TradeType)
	assert.Equal(t, selector.Stock, ds[1].Kind)
	assert.Equal(t, "AAPL", ds[1].Instrument)
	assert.Equal(t, 4, ds[1].Quantity)

	assert.Equal(t, ActionSkipped, ds[2].Action)
	assert.Equal(t, []string{"instrument"}, ds[2].GatesBlocked)
	assert.Equal(t, oracle.Hold, ds[2].Recommendation)
	assert.Equal(t, 2, h.risk.OpenCount())
}

func TestScanAndDecideCostStaysWithinCap(t *testing.T) {
	aapl := aaplDayTrade()
	aapl.Bid, aapl.Ask = 100.9, 101
	h := newHarnessWith(t, fillModel{slippageBps: 50}, aapl)
	h.gw.SetQuote(market.Quote{Symbol: "AAPL", Price: 100, Bid: 100.9, Ask: 101})
	h.oracle.mu.Lock()
	h.oracle.entry["AAPL"] = oracle.Verdict{Recommendation: oracle.Buy, Confidence: 100, RiskTier: oracle.RiskLow}
	h.oracle.mu.Unlock()

	ds := h.eng.ScanAndDecide(context.Background())
	require.Len(t, ds, 1)
	d := ds[0]
	require.Equal(t, ActionEntered, d.Action, d.Reason)
	assert.Equal(t, selector.Stock, d.Kind)
	// sized on the ask plus allowance, not the last trade: 1000 / 101.10 -> 9 shares
	assert.Equal(t, 9, d.Quantity)
	assert.Greater(t, d.Price, 101.0)
	assert.LessOrEqual(t, d.Price, 101.11)
	assert.LessOrEqual(t, d.CostBasis, h.risk.Limits().MaxPositionSize)

	p, ok := h.eng.PositionSnapshot("AAPL")
	require.True(t, ok)
	assert.LessOrEqual(t, p.CostBasis, 1000.0)
}

func TestScanAndDecideGates(t *testing.T) {
	t.Run("paused", func(t *testing.T) {
		h := newHarness(t, nvdaScalp())
		h.eng.Pause()
		assert.Nil(t, h.eng.ScanAndDecide(context.Background()))
		entries, _ := h.oracle.calls()
		assert.Zero(t, entries)

		h.eng.Resume()
		assert.False(t, h.eng.Paused())
		h.enterNVDA(t)
	})

	t.Run("already held", func(t *testing.T) {
		h := newHarness(t, nvdaScalp())
		h.enterNVDA(t)
		ds := h.eng.ScanAndDecide(context.Background())
		require.Len(t, ds, 1)
		assert.Equal(t, ActionSkipped, ds[0].Action)
		assert.Equal(t, []string{"no_open_position"}, ds[0].GatesBlocked)
		entries, _ := h.oracle.calls()
		assert.Equal(t, 1, entries)
	})

	t.Run("oracle failure", func(t *testing.T) {
		h := newHarness(t, nvdaScalp())
		h.oracle.err = errors.New("timeout")
		ds := h.eng.ScanAndDecide(context.Background())
		require.Len(t, ds, 1)
		assert.Equal(t, ActionSkipped, ds[0].Action)
		assert.Equal(t, []string{"oracle"}, ds[0].GatesBlocked)
		assert.Zero(t, h.risk.OpenCount())
	})

	t.Run("circuit breaker", func(t *testing.T) {
		h := newHarness(t, nvdaScalp())
		h.risk.Breaker().Trip(start, "test", nil)
		ds := h.eng.ScanAndDecide(context.Background())
		require.Len(t, ds, 1)
		assert.Equal(t, ActionRejected, ds[0].Action)
		assert.Equal(t, risk.CodeCircuitBreaker, ds[0].Code)
		assert.Equal(t, []string{"risk"}, ds[0].GatesBlocked)
	})

	t.Run("max open positions", func(t *testing.T) {
		h := newHarness(t, nvdaScalp(), aaplDayTrade())
		lim := h.eng.Limits()
		lim.MaxOpenPositions = 1
		require.NoError(t, h.eng.SetLimits(lim))

		ds := h.eng.ScanAndDecide(context.Background())
		require.Len(t, ds, 2)
		assert.Equal(t, ActionEntered, ds[0].Action)
		assert.Equal(t, ActionRejected, ds[1].Action)
		assert.Equal(t, risk.CodeMaxOpenPositions, ds[1].Code)
		assert.Equal(t, 1, h.risk.OpenCount())
	})
}

func TestMonitorAndExit(t *testing.T) {
	tests := []struct {
		name    string
		verdict oracle.Verdict
		want    Action
	}{
		{"weak hold exits", oracle.Verdict{Recommendation: oracle.Hold, Confidence: 40, RiskTier: oracle.RiskMedium}, ActionExited},
		{"opposing verdict exits", oracle.Verdict{Recommendation: oracle.Sell, Confidence: 90, RiskTier: oracle.RiskLow}, ActionExited},
		{"confident hold keeps position", oracle.Verdict{Recommendation: oracle.Hold, Confidence: 80, RiskTier: oracle.RiskLow}, ActionHeld},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nvdaScalp())
			entered := h.enterNVDA(t)
			h.oracle.setExit(tt.verdict)

			// mark (3.40 + 3.53) / 2 = 3.465 sits exactly on the 1% stop
			h.gw.SetOptionQuote(nvdaCall(3.40, 3.53))
			ds := h.eng.MonitorAndExit(context.Background())
			require.Len(t, ds, 1)
			d := ds[0]

			assert.Equal(t, tt.want, d.Action, d.Reason)
			assert.Equal(t, entered.PositionID, d.PositionID)
			assert.Equal(t, monitor.StopLoss, d.Trigger)
			assert.False(t, d.Forced)
			require.NotNil(t, d.Verdict)
			assert.Equal(t, tt.verdict.Recommendation, d.Verdict.Recommendation)
			assert.InDelta(t, 3.465, d.Mark, 1e-9)

			p, ok := h.lc.Get(entered.PositionID)
			require.True(t, ok)
			if tt.want == ActionExited {
				assert.Equal(t, 3.40, d.ExitPrice)
				assert.InDelta(t, -20, d.RealizedPL, 1e-9)
				assert.Equal(t, lifecycle.Closed, p.State)
				assert.Zero(t, h.risk.OpenCount())
				assert.True(t, h.risk.DailyRealizedPL().Equal(decimal.NewFromInt(-20)))
			} else {
				assert.Equal(t, lifecycle.Open, p.State)
				assert.Equal(t, 1, h.risk.OpenCount())
			}
		})
	}
}

func TestMonitorAndExitForcesDTEWithoutOracle(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	entered := h.enterNVDA(t)
	h.oracle.setExit(oracle.Verdict{Recommendation: oracle.Hold, Confidence: 95, RiskTier: oracle.RiskLow})

	h.clock.Set(time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC))
	ds := h.eng.MonitorAndExit(context.Background())
	require.Len(t, ds, 1)

	d := ds[0]
	assert.Equal(t, ActionExited, d.Action, d.Reason)
	assert.Equal(t, monitor.DTEExpiry, d.Trigger)
	assert.True(t, d.Forced)
	assert.Nil(t, d.Verdict)
	assert.Contains(t, d.Alerts, string(monitor.MaxHold))
	_, exits := h.oracle.calls()
	assert.Zero(t, exits)

	p, _ := h.lc.Get(entered.PositionID)
	assert.Equal(t, string(monitor.DTEExpiry), p.ExitReason)
}

func TestMonitorAndExitQuietPosition(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	h.enterNVDA(t)
	h.gw.SetOptionQuote(nvdaCall(3.45, 3.55))
	assert.Empty(t, h.eng.MonitorAndExit(context.Background()))
	_, exits := h.oracle.calls()
	assert.Zero(t, exits)
}

func TestMonitorAndExitReportsMarkFailure(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	entered := h.enterNVDA(t)
	h.gw.SetError(entered.Instrument, errors.New("feed down"))

	ds := h.eng.MonitorAndExit(context.Background())
	require.Len(t, ds, 1)
	assert.Equal(t, ActionFailed, ds[0].Action)
	assert.Equal(t, 1, h.risk.OpenCount())
}

func TestEmergencyStop(t *testing.T) {
	h := newHarness(t, nvdaScalp(), aaplDayTrade())
	ds := h.eng.ScanAndDecide(context.Background())
	require.Len(t, ds, 2)
	h.oracle.setExit(oracle.Verdict{Recommendation: oracle.Hold, Confidence: 99, RiskTier: oracle.RiskLow})

	out := h.eng.EmergencyStop(context.Background())
	require.Len(t, out, 2)
	for _, d := range out {
		assert.Equal(t, ActionExited, d.Action, d.Reason)
		assert.True(t, d.Forced)
		p, _ := h.lc.Get(d.PositionID)
		assert.Equal(t, EmergencyReason, p.ExitReason)
	}
	assert.True(t, h.eng.Paused())
	assert.Zero(t, h.risk.OpenCount())
	assert.Nil(t, h.eng.ScanAndDecide(context.Background()))

	_, exits := h.oracle.calls()
	assert.Zero(t, exits)
}

func TestEmergencyStopWaitsForPendingEntry(t *testing.T) {
	h := newHarnessWith(t, fillModel{latencyMs: 500}, aaplDayTrade())
	ctx := context.Background()

	scanned := make(chan []EntryDecision, 1)
	go func() { scanned <- h.eng.ScanAndDecide(ctx) }()

	// the entry order is resting at the broker; the fake clock keeps it unfilled
	require.Eventually(t, func() bool {
		acct, err := h.paper.GetAccount(ctx)
		return err == nil && acct.BuyingPower < 10000
	}, time.Second, 2*time.Millisecond)

	stopped := make(chan []ExitDecision, 1)
	go func() { stopped <- h.eng.EmergencyStop(ctx) }()
	require.Eventually(t, h.eng.Paused, time.Second, time.Millisecond)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
				h.clock.Set(h.clock.Now().Add(100 * time.Millisecond))
			}
		}
	}()

	ds := <-scanned
	require.Len(t, ds, 1)
	assert.Equal(t, ActionEntered, ds[0].Action, ds[0].Reason)

	out := <-stopped
	require.Len(t, out, 1)
	assert.Equal(t, ActionExited, out[0].Action, out[0].Reason)
	assert.True(t, out[0].Forced)
	assert.Empty(t, h.lc.Open())
	assert.Zero(t, h.risk.OpenCount())
	assert.Nil(t, h.eng.ScanAndDecide(ctx))
}

func TestRollDay(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	h.enterNVDA(t)
	h.oracle.setExit(oracle.Verdict{Recommendation: oracle.Sell, Confidence: 90})
	h.gw.SetOptionQuote(nvdaCall(3.40, 3.53))
	h.eng.MonitorAndExit(context.Background())
	require.False(t, h.risk.DailyRealizedPL().IsZero())

	assert.False(t, h.eng.rollDay())
	assert.Equal(t, "2024-03-05", h.risk.TradingDay())

	h.clock.Set(start.Add(24 * time.Hour))
	assert.True(t, h.eng.rollDay())
	assert.Equal(t, "2024-03-06", h.risk.TradingDay())
	assert.True(t, h.risk.DailyRealizedPL().IsZero())
	assert.Empty(t, h.eng.Positions())
}

func TestRollDayUsesEngineTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	h := newHarness(t)
	h.eng.cfg.Location = ny

	// 02:00 UTC on the 6th is still the evening of the 5th in New York
	h.clock.Set(time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC))
	assert.False(t, h.eng.rollDay())
	h.clock.Set(time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC))
	assert.True(t, h.eng.rollDay())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, aaplDayTrade())
	h.eng.cfg.ScanInterval = time.Hour
	h.eng.cfg.MonitorInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()

	require.Eventually(t, func() bool { return h.risk.OpenCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConverters(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, risk.Limits{
		MaxPositionSize: 1000, MaxDailyLoss: 500, MaxOpenPositions: 5,
		MaxPremium: 500, MaxContracts: 10, MinDTE: 0, MaxDTE: 45, CloseDTE: 1,
	}, Limits(cfg))

	sz := SizingConfig(cfg)
	assert.Equal(t, 1.0, sz.TierFactors[oracle.RiskLow])
	assert.Equal(t, 0.75, sz.TierFactors[oracle.RiskMedium])
	assert.Equal(t, 60.0, sz.StockFloor)
	assert.Equal(t, 10.0, sz.SlippageBps)

	cc := ConfidenceConfig(cfg)
	assert.Equal(t, market.DTEBand{Min: 0, Max: 7}, cc.Profiles[confidence.Scalp].DTE)
	assert.Equal(t, 30*time.Minute, cc.Profiles[confidence.Scalp].MaxHold)
	assert.True(t, cc.ExitOnOracleFailure)

	sc := SelectorConfig(cfg)
	assert.True(t, sc.OptionsEnabled)
	assert.Equal(t, market.DTEBand{Min: 0, Max: 45}, sc.DTE)

	assert.Equal(t, 1, MonitorConfig(cfg).CloseDTE)
	assert.True(t, EngineConfig(cfg).Reconcile)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Engine.Timezone = "UTC"
	cfg.Broker.OutboxPath = filepath.Join(dir, "data", "outbox.jsonl")
	cfg.Journal.Driver = "sqlite"
	cfg.Journal.Path = filepath.Join(dir, "data", "journal.db")

	rt, err := Build(cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Engine)
	assert.NotNil(t, rt.Journal)
	assert.IsType(t, &broker.Paper{}, rt.Broker)
	assert.IsType(t, &market.SimGateway{}, rt.Gateway)
	assert.NoError(t, rt.Close())

	bad := cfg
	bad.Market.Provider = "carrier-pigeon"
	_, err = Build(bad)
	assert.Error(t, err)

	live := cfg
	live.Broker.Provider = "http"
	live.Broker.BaseURL = "https://api.broker.example"
	_, err = Build(live)
	assert.ErrorContains(t, err, "live endpoint")
}

func TestNotifications(t *testing.T) {
	h := newHarness(t, nvdaScalp())
	h.enterNVDA(t)
	require.Len(t, h.notes.titles(alerts.Info), 1)
	assert.Contains(t, h.notes.titles(alerts.Info)[0], "Entered")

	lim := h.eng.Limits()
	lim.MaxDailyLoss = 10
	require.NoError(t, h.eng.SetLimits(lim))

	h.oracle.setExit(oracle.Verdict{Recommendation: oracle.Sell, Confidence: 90})
	h.gw.SetOptionQuote(nvdaCall(3.40, 3.53))
	out := h.eng.MonitorAndExit(context.Background())
	require.Len(t, out, 1)
	require.Equal(t, ActionExited, out[0].Action)

	warn := h.notes.titles(alerts.Warning)
	require.Len(t, warn, 1)
	assert.Contains(t, warn[0], "STOP_LOSS")
	assert.Equal(t, []string{"Circuit breaker tripped, entries blocked"}, h.notes.titles(alerts.Critical))

	// already alerted for this trip
	h.eng.MonitorAndExit(context.Background())
	assert.Len(t, h.notes.titles(alerts.Critical), 1)
}
