package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ScannerWeights struct {
	Change     float64 `yaml:"change"`
	Volume     float64 `yaml:"volume"`
	Momentum   float64 `yaml:"momentum"`
	Volatility float64 `yaml:"volatility"`
}

type Scanner struct {
	Symbols       []string       `yaml:"symbols"`
	Timeframe     string         `yaml:"timeframe"`
	BarWindow     int            `yaml:"bar_window"`
	MAPeriod      int            `yaml:"ma_period"`
	MinScore      float64        `yaml:"min_score"`
	MaxCandidates int            `yaml:"max_candidates"`
	Concurrency   int            `yaml:"concurrency"`
	Weights       ScannerWeights `yaml:"weights"`
}

type Classifier struct {
	ScalpScoreFloor    float64 `yaml:"scalp_score_floor"`
	ScalpVolFloor      float64 `yaml:"scalp_vol_floor"`
	ScalpMomentumFloor float64 `yaml:"scalp_momentum_floor"`
	DayScoreFloor      float64 `yaml:"day_score_floor"`
	DayVolumeFloor     float64 `yaml:"day_volume_floor"`
}

// SentimentBand maps a sentiment threshold to a confidence delta. Positive
// thresholds match s >= threshold, negative thresholds match s <= threshold.
type SentimentBand struct {
	Threshold float64 `yaml:"threshold"`
	Delta     float64 `yaml:"delta"`
}

type Profile struct {
	TargetPct float64       `yaml:"target_pct"`
	StopPct   float64       `yaml:"stop_pct"`
	MaxHold   time.Duration `yaml:"max_hold"` // 0 = unbounded
	MinDTE    int           `yaml:"min_dte"`
	MaxDTE    int           `yaml:"max_dte"`
}

type Profiles struct {
	Scalp    Profile `yaml:"scalp"`
	DayTrade Profile `yaml:"day_trade"`
	Swing    Profile `yaml:"swing"`
}

type Confidence struct {
	Classifier          Classifier      `yaml:"classifier"`
	SentimentBands      []SentimentBand `yaml:"sentiment_bands"`
	Profiles            Profiles        `yaml:"profiles"`
	ExitConfirmFloor    float64         `yaml:"exit_confirm_floor"`
	ExitOnOracleFailure *bool           `yaml:"exit_on_oracle_failure"`
}

type Selector struct {
	OptionsEnabled *bool   `yaml:"options_enabled"`
	OptionsFloor   float64 `yaml:"options_floor"`
	StockFloor     float64 `yaml:"stock_floor"`
	Moneyness      string  `yaml:"moneyness"` // atm | itm | otm
	StrikesOut     int     `yaml:"strikes_out"`
	AllowShort     bool    `yaml:"allow_short"`
}

type Risk struct {
	MaxPositionSize  float64            `yaml:"max_position_size"`
	MaxDailyLoss     float64            `yaml:"max_daily_loss"`
	MaxOpenPositions int                `yaml:"max_open_positions"`
	MaxPremium       float64            `yaml:"max_premium"` // per contract, premium x 100
	MaxContracts     int                `yaml:"max_contracts"`
	MinDTE           int                `yaml:"min_dte"`
	MaxDTE           int                `yaml:"max_dte"`
	CloseDTE         int                `yaml:"close_dte"`
	MinSizeFraction  float64            `yaml:"min_size_fraction"`
	EntrySlippageBps float64            `yaml:"entry_slippage_bps"` // entry limit = quote widened by this
	RiskTierFactors  map[string]float64 `yaml:"risk_tier_factors"`
}

type Monitor struct {
	MovePct     float64 `yaml:"move_pct"`
	Concurrency int     `yaml:"concurrency"`
}

type Engine struct {
	ScanInterval    time.Duration `yaml:"scan_interval"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	FillTimeout     time.Duration `yaml:"fill_timeout"`
	FillPoll        time.Duration `yaml:"fill_poll"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	Timezone        string        `yaml:"timezone"`
	StartPaused     bool          `yaml:"start_paused"`
}

type Market struct {
	Provider           string `yaml:"provider"` // sim | http
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"-"`
	APISecret          string `yaml:"-"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

type Oracle struct {
	Endpoint           string        `yaml:"endpoint"`
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"-"`
	Timeout            time.Duration `yaml:"timeout"`
	Temperature        float64       `yaml:"temperature"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

type Sentiment struct {
	NewsFeedURL    string        `yaml:"news_feed_url"` // %s is replaced with the symbol
	BreadthSymbols []string      `yaml:"breadth_symbols"`
	NewsWeight     float64       `yaml:"news_weight"`
	BreadthWeight  float64       `yaml:"breadth_weight"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxHeadlines   int           `yaml:"max_headlines"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

type Broker struct {
	Provider         string  `yaml:"provider"` // paper | http
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"-"`
	APISecret        string  `yaml:"-"`
	StartingCash     float64 `yaml:"starting_cash"`
	OutboxPath       string  `yaml:"outbox_path"`
	DedupeWindowSecs int     `yaml:"dedupe_window_seconds"`
	LatencyMsMin     int     `yaml:"latency_ms_min"`
	LatencyMsMax     int     `yaml:"latency_ms_max"`
	SlippageBpsMin   int     `yaml:"slippage_bps_min"`
	SlippageBpsMax   int     `yaml:"slippage_bps_max"`
}

type Journal struct {
	Driver string `yaml:"driver"` // sqlite | postgres | none
	Path   string `yaml:"path"`
	DSN    string `yaml:"-"`
}

type Slack struct {
	Enabled          bool          `yaml:"enabled"`
	WebhookURL       string        `yaml:"-"`
	Channel          string        `yaml:"channel"`
	RatePerMin       int           `yaml:"rate_limit_per_min"`
	RatePerKeyPerMin int           `yaml:"rate_limit_per_symbol_per_min"`
	DedupeWindow     time.Duration `yaml:"dedupe_window"`
}

// Control is the operator API served next to /metrics. Requests are
// HMAC-signed with Secret; an empty secret disables the mutating endpoints.
type Control struct {
	URL    string `yaml:"url"` // where CLI subcommands reach a running engine
	Secret string `yaml:"-"`
}

type Root struct {
	TradingMode string     `yaml:"trading_mode"` // paper | live
	Scanner     Scanner    `yaml:"scanner"`
	Confidence  Confidence `yaml:"confidence"`
	Selector    Selector   `yaml:"selector"`
	Risk        Risk       `yaml:"risk"`
	Monitor     Monitor    `yaml:"monitor"`
	Engine      Engine     `yaml:"engine"`
	Market      Market     `yaml:"market"`
	Oracle      Oracle     `yaml:"oracle"`
	Sentiment   Sentiment  `yaml:"sentiment"`
	Redis       Redis      `yaml:"redis"`
	Broker      Broker     `yaml:"broker"`
	Journal     Journal    `yaml:"journal"`
	Control     Control    `yaml:"control"`
	Slack       Slack      `yaml:"slack"`
	MetricsAddr string     `yaml:"metrics_addr"`
}

// Load reads the yaml file at path, fills defaults and overlays secrets from the
// environment (and a .env file when present).
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyDefaults(&c)

	_ = godotenv.Load()
	applyEnv(&c)

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns the configuration used when no file is supplied.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func boolPtr(b bool) *bool { return &b }

func applyDefaults(c *Root) {
	if c.TradingMode == "" {
		c.TradingMode = "paper"
	}

	// Scanner
	if len(c.Scanner.Symbols) == 0 {
		c.Scanner.Symbols = []string{"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "AMD", "TSLA", "META", "AMZN", "GOOGL"}
	}
	if c.Scanner.Timeframe == "" {
		c.Scanner.Timeframe = "5Min"
	}
	if c.Scanner.BarWindow == 0 {
		c.Scanner.BarWindow = 20
	}
	if c.Scanner.MAPeriod == 0 {
		c.Scanner.MAPeriod = 5
	}
	if c.Scanner.MinScore == 0 {
		c.Scanner.MinScore = 60
	}
	if c.Scanner.MaxCandidates == 0 {
		c.Scanner.MaxCandidates = 5
	}
	if c.Scanner.Concurrency == 0 {
		c.Scanner.Concurrency = 4
	}
	if c.Scanner.Weights == (ScannerWeights{}) {
		c.Scanner.Weights = ScannerWeights{Change: 0.35, Volume: 0.30, Momentum: 0.20, Volatility: 0.15}
	}

	// Confidence
	cl := &c.Confidence.Classifier
	if cl.ScalpScoreFloor == 0 {
		cl.ScalpScoreFloor = 80
	}
	if cl.ScalpVolFloor == 0 {
		cl.ScalpVolFloor = 2.0
	}
	if cl.ScalpMomentumFloor == 0 {
		cl.ScalpMomentumFloor = 2.0
	}
	if cl.DayScoreFloor == 0 {
		cl.DayScoreFloor = 70
	}
	if cl.DayVolumeFloor == 0 {
		cl.DayVolumeFloor = 1.5
	}
	if len(c.Confidence.SentimentBands) == 0 {
		c.Confidence.SentimentBands = []SentimentBand{
			{Threshold: 0.5, Delta: 10},
			{Threshold: 0.3, Delta: 5},
			{Threshold: -0.5, Delta: -10},
			{Threshold: -0.3, Delta: -5},
		}
	}
	p := &c.Confidence.Profiles
	if p.Scalp == (Profile{}) {
		p.Scalp = Profile{TargetPct: 1.5, StopPct: 1.0, MaxHold: 30 * time.Minute, MinDTE: 0, MaxDTE: 7}
	}
	if p.DayTrade == (Profile{}) {
		p.DayTrade = Profile{TargetPct: 3.0, StopPct: 1.5, MaxHold: 390 * time.Minute, MinDTE: 7, MaxDTE: 21}
	}
	if p.Swing == (Profile{}) {
		p.Swing = Profile{TargetPct: 8.0, StopPct: 4.0, MinDTE: 21, MaxDTE: 45}
	}
	if c.Confidence.ExitConfirmFloor == 0 {
		c.Confidence.ExitConfirmFloor = 60
	}
	if c.Confidence.ExitOnOracleFailure == nil {
		c.Confidence.ExitOnOracleFailure = boolPtr(true)
	}

	// Selector
	if c.Selector.OptionsEnabled == nil {
		c.Selector.OptionsEnabled = boolPtr(true)
	}
	if c.Selector.OptionsFloor == 0 {
		c.Selector.OptionsFloor = 75
	}
	if c.Selector.StockFloor == 0 {
		c.Selector.StockFloor = 60
	}
	if c.Selector.Moneyness == "" {
		c.Selector.Moneyness = "atm"
	}

	// Risk
	r := &c.Risk
	if r.MaxPositionSize == 0 {
		r.MaxPositionSize = 1000
	}
	if r.MaxDailyLoss == 0 {
		r.MaxDailyLoss = 500
	}
	if r.MaxOpenPositions == 0 {
		r.MaxOpenPositions = 5
	}
	if r.MaxPremium == 0 {
		r.MaxPremium = 500
	}
	if r.MaxContracts == 0 {
		r.MaxContracts = 10
	}
	if r.MaxDTE == 0 {
		r.MaxDTE = 45
	}
	if r.CloseDTE == 0 {
		r.CloseDTE = 1
	}
	if r.MinSizeFraction == 0 {
		r.MinSizeFraction = 0.5
	}
	if r.EntrySlippageBps == 0 {
		r.EntrySlippageBps = 10
	}
	if len(r.RiskTierFactors) == 0 {
		r.RiskTierFactors = map[string]float64{"LOW": 1.0, "MEDIUM": 0.75, "HIGH": 0.5}
	}

	// Monitor
	if c.Monitor.MovePct == 0 {
		c.Monitor.MovePct = 5.0
	}
	if c.Monitor.Concurrency == 0 {
		c.Monitor.Concurrency = 4
	}

	// Engine
	e := &c.Engine
	if e.ScanInterval == 0 {
		e.ScanInterval = 5 * time.Minute
	}
	if e.MonitorInterval == 0 {
		e.MonitorInterval = 30 * time.Second
	}
	if e.FillTimeout == 0 {
		e.FillTimeout = 30 * time.Second
	}
	if e.FillPoll == 0 {
		e.FillPoll = 500 * time.Millisecond
	}
	if e.CallTimeout == 0 {
		e.CallTimeout = 10 * time.Second
	}
	if e.Timezone == "" {
		e.Timezone = "America/New_York"
	}

	// Market data
	if c.Market.Provider == "" {
		c.Market.Provider = "sim"
	}
	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://data.alpaca.markets"
	}
	if c.Market.RateLimitPerMinute == 0 {
		c.Market.RateLimitPerMinute = 200
	}
	if c.Market.CacheTTLSeconds == 0 {
		c.Market.CacheTTLSeconds = 5
	}
	if c.Market.TimeoutSeconds == 0 {
		c.Market.TimeoutSeconds = 5
	}

	// Oracle
	if c.Oracle.Endpoint == "" {
		c.Oracle.Endpoint = "https://api.openai.com/v1"
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = "gpt-4o-mini"
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 20 * time.Second
	}
	if c.Oracle.Temperature == 0 {
		c.Oracle.Temperature = 0.2
	}
	if c.Oracle.RateLimitPerMinute == 0 {
		c.Oracle.RateLimitPerMinute = 30
	}
	if c.Oracle.CacheTTL == 0 {
		c.Oracle.CacheTTL = 2 * time.Minute
	}

	// Sentiment
	if c.Sentiment.NewsFeedURL == "" {
		c.Sentiment.NewsFeedURL = "https://feeds.finance.yahoo.com/rss/2.0/headline?s=%s&region=US&lang=en-US"
	}
	if len(c.Sentiment.BreadthSymbols) == 0 {
		c.Sentiment.BreadthSymbols = []string{"SPY", "QQQ", "IWM"}
	}
	if c.Sentiment.NewsWeight == 0 && c.Sentiment.BreadthWeight == 0 {
		c.Sentiment.NewsWeight = 0.7
		c.Sentiment.BreadthWeight = 0.3
	}
	if c.Sentiment.CacheTTL == 0 {
		c.Sentiment.CacheTTL = 5 * time.Minute
	}
	if c.Sentiment.MaxHeadlines == 0 {
		c.Sentiment.MaxHeadlines = 20
	}

	// Broker
	b := &c.Broker
	if b.Provider == "" {
		b.Provider = "paper"
	}
	if b.BaseURL == "" {
		b.BaseURL = "https://paper-api.alpaca.markets"
	}
	if b.StartingCash == 0 {
		b.StartingCash = 25000
	}
	if b.OutboxPath == "" {
		b.OutboxPath = "data/outbox.jsonl"
	}
	if b.DedupeWindowSecs == 0 {
		b.DedupeWindowSecs = 90
	}
	if b.LatencyMsMin == 0 {
		b.LatencyMsMin = 100
	}
	if b.LatencyMsMax == 0 {
		b.LatencyMsMax = 2000
	}
	if b.SlippageBpsMin == 0 {
		b.SlippageBpsMin = 1
	}
	if b.SlippageBpsMax == 0 {
		b.SlippageBpsMax = 5
	}

	// Journal
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.sqlite"
	}

	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9102"
	}
	if c.Slack.RatePerMin == 0 {
		c.Slack.RatePerMin = 20
	}
	if c.Slack.RatePerKeyPerMin == 0 {
		c.Slack.RatePerKeyPerMin = 6
	}
	if c.Slack.DedupeWindow == 0 {
		c.Slack.DedupeWindow = time.Minute
	}
	if c.Control.URL == "" {
		c.Control.URL = "http://127.0.0.1:9102"
	}
}

func applyEnv(c *Root) {
	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv("MARKET_API_SECRET"); v != "" {
		c.Market.APISecret = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		c.Broker.APISecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JOURNAL_DSN"); v != "" {
		c.Journal.DSN = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Slack.WebhookURL = v
	}
	if v := os.Getenv("CONTROL_SECRET"); v != "" {
		c.Control.Secret = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.TradingMode = v
	}
}

// Validate rejects limit combinations the pipeline cannot honour.
func (c Root) Validate() error {
	if c.TradingMode != "paper" && c.TradingMode != "live" {
		return fmt.Errorf("trading_mode must be paper or live, got %q", c.TradingMode)
	}
	if c.Selector.StockFloor > c.Selector.OptionsFloor {
		return fmt.Errorf("selector.stock_floor (%.1f) above options_floor (%.1f)", c.Selector.StockFloor, c.Selector.OptionsFloor)
	}
	if c.Risk.MinDTE > c.Risk.MaxDTE {
		return fmt.Errorf("risk.min_dte (%d) above max_dte (%d)", c.Risk.MinDTE, c.Risk.MaxDTE)
	}
	if c.Risk.CloseDTE >= c.Risk.MaxDTE {
		return fmt.Errorf("risk.close_dte (%d) must be below max_dte (%d)", c.Risk.CloseDTE, c.Risk.MaxDTE)
	}
	if c.Risk.MaxOpenPositions <= 0 || c.Risk.MaxPositionSize <= 0 || c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk limits must be positive")
	}
	switch c.Selector.Moneyness {
	case "atm", "itm", "otm":
	default:
		return fmt.Errorf("selector.moneyness must be atm, itm or otm, got %q", c.Selector.Moneyness)
	}
	if c.TradingMode == "live" && c.Broker.Provider == "paper" {
		return fmt.Errorf("live trading requires broker.provider=http")
	}
	return nil
}
