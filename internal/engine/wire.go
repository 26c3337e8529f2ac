package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/alerts"
	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/cache"
	"github.com/Rajchodisetti/autotrader/internal/config"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/journal"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/monitor"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
	"github.com/Rajchodisetti/autotrader/internal/outbox"
	"github.com/Rajchodisetti/autotrader/internal/risk"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
	"github.com/Rajchodisetti/autotrader/internal/selector"
	"github.com/Rajchodisetti/autotrader/internal/sentiment"
)

// Runtime is a fully wired engine plus the resources behind it.
type Runtime struct {
	Engine  *Engine
	Gateway market.Gateway
	Broker  broker.Broker
	Journal journal.Journal // nil when disabled
	Outbox  *outbox.Outbox
	Cache   cache.Cache

	closers []func() error
}

func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires every component from cfg.
func Build(cfg config.Root) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	gw, err := buildGateway(cfg.Market)
	if err != nil {
		return fail(err)
	}
	rt.Gateway = gw

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		rt.Cache = rc
		rt.closers = append(rt.closers, rc.Close)
	} else {
		rt.Cache = cache.NewMemory()
	}

	var orc oracle.Oracle
	if cfg.Oracle.APIKey != "" {
		orc = oracle.NewClient(OracleConfig(cfg), rt.Cache)
	} else {
		observ.Log("oracle_unconfigured", map[string]any{"effect": "every verdict degrades to HOLD"})
	}
	var news sentiment.HeadlineFetcher
	if cfg.Sentiment.NewsFeedURL != "" {
		news = sentiment.NewNewsFeed(cfg.Sentiment.NewsFeedURL, cfg.Engine.CallTimeout)
	}
	sent := sentiment.NewAnalyzer(news, gw, rt.Cache, SentimentConfig(cfg))

	if dir := filepath.Dir(cfg.Broker.OutboxPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(err)
		}
	}
	ob, err := outbox.New(cfg.Broker.OutboxPath, cfg.Broker.DedupeWindowSecs)
	if err != nil {
		return fail(fmt.Errorf("outbox: %w", err))
	}
	rt.Outbox = ob

	brk, err := buildBroker(cfg, gw, ob)
	if err != nil {
		return fail(err)
	}
	rt.Broker = brk

	if cfg.Journal.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Journal.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(err)
			}
		}
	}
	j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.Path, cfg.Journal.DSN)
	if err != nil {
		return fail(err)
	}
	var rec lifecycle.Recorder
	if j != nil {
		rt.Journal = j
		rec = j
		rt.closers = append(rt.closers, j.Close)
	}

	limits := Limits(cfg)
	if err := limits.Validate(); err != nil {
		return fail(fmt.Errorf("risk limits: %w", err))
	}
	state := risk.NewState(limits)
	lc := lifecycle.NewManager(brk, state, rec, LifecycleConfig(cfg))

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return fail(fmt.Errorf("timezone %q: %w", cfg.Engine.Timezone, err))
	}
	ecfg := EngineConfig(cfg)
	ecfg.Location = loc

	var notifier Notifier
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		sl := alerts.NewSlack(alerts.SlackConfig{
			WebhookURL:       cfg.Slack.WebhookURL,
			Channel:          cfg.Slack.Channel,
			TradingMode:      cfg.TradingMode,
			RatePerMin:       cfg.Slack.RatePerMin,
			RatePerKeyPerMin: cfg.Slack.RatePerKeyPerMin,
			DedupeWindow:     cfg.Slack.DedupeWindow,
			Timeout:          cfg.Engine.CallTimeout,
		})
		notifier = sl
		rt.closers = append(rt.closers, sl.Close)
	}

	rt.Engine = New(Deps{
		Scanner:    scanner.New(gw, ScannerConfig(cfg)),
		Confidence: confidence.New(orc, sent, ConfidenceConfig(cfg)),
		Selector:   selector.New(gw, SelectorConfig(cfg)),
		Governor:   risk.NewGovernor(state, brk, SizingConfig(cfg)),
		Lifecycle:  lc,
		Monitor:    monitor.New(lc, gw, MonitorConfig(cfg)),
		Notifier:   notifier,
	}, ecfg)

	observ.Log("engine_wired", map[string]any{
		"trading_mode": cfg.TradingMode,
		"market":       cfg.Market.Provider,
		"broker":       cfg.Broker.Provider,
		"journal":      cfg.Journal.Driver,
		"redis":        cfg.Redis.Addr != "",
		"oracle":       orc != nil,
		"slack":        notifier != nil,
	})
	return rt, nil
}

func buildGateway(m config.Market) (market.Gateway, error) {
	switch m.Provider {
	case "sim":
		return market.NewDefaultSimGateway(), nil
	case "http":
		gw, err := market.NewHTTPGateway(market.HTTPConfig{
			BaseURL:            m.BaseURL,
			APIKey:             m.APIKey,
			APISecret:          m.APISecret,
			RateLimitPerMinute: m.RateLimitPerMinute,
			CacheTTLSeconds:    m.CacheTTLSeconds,
			TimeoutSeconds:     m.TimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown market provider %q", m.Provider)
	}
}

func buildBroker(cfg config.Root, gw market.Gateway, ob *outbox.Outbox) (broker.Broker, error) {
	b := cfg.Broker
	switch b.Provider {
	case "paper":
		sim := outbox.NewFillSimulator(b.LatencyMsMin, b.LatencyMsMax, b.SlippageBpsMin, b.SlippageBpsMax)
		return broker.NewPaper(gw, ob, sim, broker.PaperConfig{StartingCash: b.StartingCash, AllowShort: cfg.Selector.AllowShort}), nil
	case "http":
		if cfg.TradingMode != "live" && b.BaseURL != "" && !isPaperURL(b.BaseURL) {
			return nil, fmt.Errorf("broker %s is a live endpoint but trading_mode is %q", b.BaseURL, cfg.TradingMode)
		}
		hb, err := broker.NewHTTPBroker(broker.HTTPConfig{
			BaseURL:   b.BaseURL,
			APIKey:    b.APIKey,
			APISecret: b.APISecret,
			Timeout:   cfg.Engine.CallTimeout,
		})
		if err != nil {
			return nil, err
		}
		return hb, nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", b.Provider)
	}
}

func isPaperURL(u string) bool {
	return strings.Contains(u, "paper") || strings.Contains(u, "localhost") || strings.Contains(u, "127.0.0.1")
}

func ScannerConfig(c config.Root) scanner.Config {
	s := c.Scanner
	return scanner.Config{
		Symbols:       s.Symbols,
		Timeframe:     s.Timeframe,
		BarWindow:     s.BarWindow,
		MinScore:      s.MinScore,
		MaxCandidates: s.MaxCandidates,
		Concurrency:   s.Concurrency,
		CallTimeout:   c.Engine.CallTimeout,
		Params: scanner.Params{
			Weights: scanner.Weights{
				Change:     s.Weights.Change,
				Volume:     s.Weights.Volume,
				Momentum:   s.Weights.Momentum,
				Volatility: s.Weights.Volatility,
			},
			MAPeriod: s.MAPeriod,
		},
	}
}

func profile(p config.Profile) confidence.Profile {
	return confidence.Profile{
		TargetPct: p.TargetPct,
		StopPct:   p.StopPct,
		MaxHold:   p.MaxHold,
		DTE:       market.DTEBand{Min: p.MinDTE, Max: p.MaxDTE},
	}
}

func ConfidenceConfig(c config.Root) confidence.Config {
	cc := c.Confidence
	bands := make([]confidence.Band, 0, len(cc.SentimentBands))
	for _, b := range cc.SentimentBands {
		bands = append(bands, confidence.Band{Threshold: b.Threshold, Delta: b.Delta})
	}
	exitOnFailure := true
	if cc.ExitOnOracleFailure != nil {
		exitOnFailure = *cc.ExitOnOracleFailure
	}
	return confidence.Config{
		Thresholds: confidence.Thresholds{
			ScalpScoreFloor:    cc.Classifier.ScalpScoreFloor,
			ScalpVolFloor:      cc.Classifier.ScalpVolFloor,
			ScalpMomentumFloor: cc.Classifier.ScalpMomentumFloor,
			DayScoreFloor:      cc.Classifier.DayScoreFloor,
			DayVolumeFloor:     cc.Classifier.DayVolumeFloor,
		},
		Profiles: confidence.Profiles{
			confidence.Scalp:    profile(cc.Profiles.Scalp),
			confidence.DayTrade: profile(cc.Profiles.DayTrade),
			confidence.Swing:    profile(cc.Profiles.Swing),
		},
		Bands:               bands,
		OracleTimeout:       c.Oracle.Timeout,
		ExitConfirmFloor:    cc.ExitConfirmFloor,
		ExitOnOracleFailure: exitOnFailure,
	}
}

func SelectorConfig(c config.Root) selector.Config {
	s := c.Selector
	enabled := true
	if s.OptionsEnabled != nil {
		enabled = *s.OptionsEnabled
	}
	return selector.Config{
		OptionsEnabled: enabled,
		OptionsFloor:   s.OptionsFloor,
		StockFloor:     s.StockFloor,
		Moneyness:      selector.Moneyness(s.Moneyness),
		StrikesOut:     s.StrikesOut,
		AllowShort:     s.AllowShort,
		DTE:            market.DTEBand{Min: c.Risk.MinDTE, Max: c.Risk.MaxDTE},
		CallTimeout:    c.Engine.CallTimeout,
	}
}

func Limits(c config.Root) risk.Limits {
	r := c.Risk
	return risk.Limits{
		MaxPositionSize:  r.MaxPositionSize,
		MaxDailyLoss:     r.MaxDailyLoss,
		MaxOpenPositions: r.MaxOpenPositions,
		MaxPremium:       r.MaxPremium,
		MaxContracts:     r.MaxContracts,
		MinDTE:           r.MinDTE,
		MaxDTE:           r.MaxDTE,
		CloseDTE:         r.CloseDTE,
	}
}

func SizingConfig(c config.Root) risk.SizingConfig {
	tiers := make(map[oracle.RiskTier]float64, len(c.Risk.RiskTierFactors))
	for k, v := range c.Risk.RiskTierFactors {
		tiers[oracle.ParseRiskTier(k)] = v
	}
	return risk.SizingConfig{
		StockFloor:      c.Selector.StockFloor,
		MinSizeFraction: c.Risk.MinSizeFraction,
		TierFactors:     tiers,
		SlippageBps:     c.Risk.EntrySlippageBps,
		CallTimeout:     c.Engine.CallTimeout,
	}
}

func MonitorConfig(c config.Root) monitor.Config {
	return monitor.Config{
		CloseDTE:    c.Risk.CloseDTE,
		MovePct:     c.Monitor.MovePct,
		Concurrency: c.Monitor.Concurrency,
		CallTimeout: c.Engine.CallTimeout,
	}
}

func LifecycleConfig(c config.Root) lifecycle.Config {
	return lifecycle.Config{
		FillTimeout: c.Engine.FillTimeout,
		FillPoll:    c.Engine.FillPoll,
		CallTimeout: c.Engine.CallTimeout,
	}
}

func OracleConfig(c config.Root) oracle.Config {
	o := c.Oracle
	return oracle.Config{
		Endpoint:           o.Endpoint,
		APIKey:             o.APIKey,
		Model:              o.Model,
		Temperature:        o.Temperature,
		Timeout:            o.Timeout,
		RateLimitPerMinute: o.RateLimitPerMinute,
		CacheTTL:           o.CacheTTL,
	}
}

func SentimentConfig(c config.Root) sentiment.Config {
	s := c.Sentiment
	return sentiment.Config{
		BreadthSymbols: s.BreadthSymbols,
		NewsWeight:     s.NewsWeight,
		BreadthWeight:  s.BreadthWeight,
		CacheTTL:       s.CacheTTL,
		MaxHeadlines:   s.MaxHeadlines,
	}
}

func EngineConfig(c config.Root) Config {
	return Config{
		ScanInterval:      c.Engine.ScanInterval,
		MonitorInterval:   c.Engine.MonitorInterval,
		StartPaused:       c.Engine.StartPaused,
		AssessConcurrency: c.Scanner.Concurrency,
		ExitConcurrency:   c.Monitor.Concurrency,
		Reconcile:         true,
	}
}
