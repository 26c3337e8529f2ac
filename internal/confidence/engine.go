package confidence

import (
	"context"
	"fmt"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
	"github.com/Rajchodisetti/autotrader/internal/sentiment"
)

type Config struct {
	Thresholds          Thresholds
	Profiles            Profiles
	Bands               []Band
	OracleTimeout       time.Duration
	ExitConfirmFloor    float64
	ExitOnOracleFailure bool
}

func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		Profiles:            DefaultProfiles(),
		Bands:               DefaultBands(),
		OracleTimeout:       20 * time.Second,
		ExitConfirmFloor:    60,
		ExitOnOracleFailure: true,
	}
}

// Assessment is the engine's output for one opportunity.
type Assessment struct {
	Opportunity    scanner.Opportunity
	TradeType      TradeType
	Profile        Profile
	RawConfidence  float64
	Confidence     float64
	Recommendation oracle.Recommendation
	RiskTier       oracle.RiskTier
	Rationale      string
	Sentiment      sentiment.Reading
	SentimentDelta float64
	OracleFailed   bool
}

type Engine struct {
	oracle    oracle.Oracle
	sentiment sentiment.Source
	cfg       Config
}

// New builds an engine. A nil sentiment source reads as neutral.
func New(o oracle.Oracle, s sentiment.Source, cfg Config) *Engine {
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 20 * time.Second
	}
	return &Engine{oracle: o, sentiment: s, cfg: cfg}
}

func (e *Engine) Profile(t TradeType) Profile {
	return e.cfg.Profiles[t]
}

// Evaluate never fails: oracle trouble degrades the assessment to HOLD with zero confidence.
func (e *Engine) Evaluate(ctx context.Context, opp scanner.Opportunity) Assessment {
	tt := Classify(opp, e.cfg.Thresholds)
	prof := e.cfg.Profiles[tt]
	a := Assessment{Opportunity: opp, TradeType: tt, Profile: prof}

	verdict, err := e.consult(ctx, oracle.Request{
		Mode:        oracle.ModeEntry,
		Symbol:      opp.Symbol,
		TradeType:   string(tt),
		Horizon:     prof.Horizon(),
		Price:       opp.Price,
		ChangePct:   opp.ChangePct,
		VolumeRatio: opp.VolumeRatio,
		Momentum:    opp.Momentum,
		Volatility:  opp.Volatility,
		Score:       opp.Score,
	})
	if err != nil {
		observ.Log("oracle_degraded", map[string]any{"symbol": opp.Symbol, "mode": "entry", "error": err})
		observ.IncCounter("confidence_oracle_failures_total", map[string]string{"mode": "entry"})
		verdict = oracle.HoldVerdict("oracle unavailable: " + err.Error())
		a.OracleFailed = true
	}

	a.Recommendation = verdict.Recommendation
	a.RiskTier = verdict.RiskTier
	a.RawConfidence = clamp(verdict.Confidence)

	if a.OracleFailed {
		a.Sentiment = sentiment.Neutral(opp.Symbol, "skipped")
	} else if e.sentiment != nil {
		a.Sentiment = e.sentiment.GetSentiment(ctx, opp.Symbol)
	} else {
		a.Sentiment = sentiment.Neutral(opp.Symbol, "no sentiment source")
	}

	// HOLD stays at its raw confidence; sentiment only moves actionable verdicts
	if a.Recommendation != oracle.Hold {
		a.SentimentDelta = SentimentDelta(a.Sentiment.Score, e.cfg.Bands)
	}
	a.Confidence = clamp(a.RawConfidence + a.SentimentDelta)
	a.Rationale = verdict.Rationale

	observ.Observe("confidence_adjusted", a.Confidence, map[string]string{"trade_type": string(tt)})
	observ.Log("confidence_evaluated", map[string]any{
		"symbol":          opp.Symbol,
		"trade_type":      tt,
		"recommendation":  a.Recommendation,
		"raw_confidence":  a.RawConfidence,
		"sentiment":       a.Sentiment.Score,
		"sentiment_delta": a.SentimentDelta,
		"confidence":      a.Confidence,
		"risk_tier":       a.RiskTier,
	})
	return a
}

func (e *Engine) consult(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	if e.oracle == nil {
		return oracle.Verdict{}, fmt.Errorf("no oracle configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()
	return e.oracle.Analyze(ctx, req)
}
