package confidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/autotrader/internal/oracle"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
	"github.com/Rajchodisetti/autotrader/internal/sentiment"
)

type fakeOracle struct {
	verdict oracle.Verdict
	err     error
	delay   time.Duration
	last    oracle.Request
}

func (f *fakeOracle) Analyze(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	f.last = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return oracle.Verdict{}, ctx.Err()
		}
	}
	return f.verdict, f.err
}

type fixedSentiment float64

func (s fixedSentiment) GetSentiment(_ context.Context, symbol string) sentiment.Reading {
	return sentiment.Reading{Symbol: symbol, Score: float64(s)}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		opp  scanner.Opportunity
		want TradeType
	}{
		{"scalp", scanner.Opportunity{Score: 85, Volatility: 2.5, Momentum: 2.2}, Scalp},
		{"falling momentum is not scalp", scanner.Opportunity{Score: 85, Volatility: 2.5, Momentum: -2.2}, Swing},
		{"falling momentum with volume is day trade", scanner.Opportunity{Score: 85, Volatility: 2.5, Momentum: -2.2, VolumeRatio: 2}, DayTrade},
		{"scalp floors inclusive", scanner.Opportunity{Score: 80, Volatility: 2.0, Momentum: 2.0}, Scalp},
		{"high score but calm is day trade", scanner.Opportunity{Score: 85, Volatility: 1.0, Momentum: 2.2, VolumeRatio: 2}, DayTrade},
		{"day trade", scanner.Opportunity{Score: 72, VolumeRatio: 1.5}, DayTrade},
		{"low volume swing", scanner.Opportunity{Score: 72, VolumeRatio: 1.2}, Swing},
		{"zero value swing", scanner.Opportunity{}, Swing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.opp, th))
		})
	}
}

func TestSentimentDelta(t *testing.T) {
	bands := DefaultBands()
	cases := []struct {
		s    float64
		want float64
	}{
		{0.6, 10}, {0.5, 10}, {0.49, 5}, {0.3, 5}, {0.29, 0}, {0, 0},
		{-0.29, 0}, {-0.3, -5}, {-0.5, -10}, {-0.9, -10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SentimentDelta(c.s, bands), "s=%v", c.s)
	}
}

func TestEvaluateScalpExample(t *testing.T) {
	o := &fakeOracle{verdict: oracle.Verdict{Recommendation: oracle.Buy, Confidence: 70, RiskTier: oracle.RiskLow}}
	e := New(o, fixedSentiment(0.6), DefaultConfig())

	a := e.Evaluate(context.Background(), scanner.Opportunity{Symbol: "NVDA", Score: 85, Volatility: 2.5, Momentum: 2.2})
	assert.Equal(t, Scalp, a.TradeType)
	assert.Equal(t, 80.0, a.Confidence)
	assert.Equal(t, 70.0, a.RawConfidence)
	assert.Equal(t, 10.0, a.SentimentDelta)
	assert.Equal(t, oracle.Buy, a.Recommendation)
	assert.Equal(t, 30*time.Minute, a.Profile.MaxHold)
	assert.Equal(t, "SCALP", o.last.TradeType)
	assert.Equal(t, oracle.ModeEntry, o.last.Mode)
}

func TestEvaluateHoldIgnoresSentiment(t *testing.T) {
	o := &fakeOracle{verdict: oracle.Verdict{Recommendation: oracle.Hold, Confidence: 50}}
	a := New(o, fixedSentiment(0.9), DefaultConfig()).Evaluate(context.Background(), scanner.Opportunity{Symbol: "X"})
	assert.Equal(t, oracle.Hold, a.Recommendation)
	assert.Equal(t, 50.0, a.Confidence)
	assert.Zero(t, a.SentimentDelta)
	assert.Equal(t, 0.9, a.Sentiment.Score)
}

func TestEvaluateClampsConfidence(t *testing.T) {
	o := &fakeOracle{verdict: oracle.Verdict{Recommendation: oracle.Buy, Confidence: 95}}
	a := New(o, fixedSentiment(0.9), DefaultConfig()).Evaluate(context.Background(), scanner.Opportunity{Symbol: "X"})
	assert.Equal(t, 100.0, a.Confidence)

	o = &fakeOracle{verdict: oracle.Verdict{Recommendation: oracle.Sell, Confidence: 4}}
	a = New(o, fixedSentiment(-0.9), DefaultConfig()).Evaluate(context.Background(), scanner.Opportunity{Symbol: "X"})
	assert.Equal(t, 0.0, a.Confidence)
}

func TestEvaluateOracleFailureIsHold(t *testing.T) {
	tests := []struct {
		name string
		o    *fakeOracle
	}{
		{"error", &fakeOracle{err: errors.New("boom")}},
		{"malformed", &fakeOracle{err: oracle.ErrMalformed}},
		{"timeout", &fakeOracle{delay: time.Second, verdict: oracle.Verdict{Recommendation: oracle.Buy, Confidence: 90}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.OracleTimeout = 20 * time.Millisecond
			a := New(tt.o, fixedSentiment(0.9), cfg).Evaluate(context.Background(), scanner.Opportunity{Symbol: "X", Score: 90})
			assert.True(t, a.OracleFailed)
			assert.Equal(t, oracle.Hold, a.Recommendation)
			assert.Equal(t, 0.0, a.Confidence)
		})
	}
}

func TestConfirmExit(t *testing.T) {
	base := ExitQuery{Symbol: "NVDA", TradeType: Scalp, Bullish: true, Instrument: "CALL", Trigger: "STOP_LOSS"}
	tests := []struct {
		name    string
		bullish bool
		verdict oracle.Verdict
		want    bool
	}{
		{"sell closes bullish", true, oracle.Verdict{Recommendation: oracle.Sell, Confidence: 30}, true},
		{"buy closes bearish", false, oracle.Verdict{Recommendation: oracle.Buy, Confidence: 30}, true},
		{"confident hold keeps", true, oracle.Verdict{Recommendation: oracle.Hold, Confidence: 75}, false},
		{"confident same direction keeps", true, oracle.Verdict{Recommendation: oracle.Buy, Confidence: 60}, false},
		{"unsure hold lets trigger stand", true, oracle.Verdict{Recommendation: oracle.Hold, Confidence: 40}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{verdict: tt.verdict}
			q := base
			q.Bullish = tt.bullish
			c := New(o, nil, DefaultConfig()).ConfirmExit(context.Background(), q)
			assert.Equal(t, tt.want, c.Exit, c.Reason)
			assert.Equal(t, oracle.ModeExit, o.last.Mode)
		})
	}
}

func TestConfirmExitOracleFailure(t *testing.T) {
	cfg := DefaultConfig()
	o := &fakeOracle{err: errors.New("down")}

	c := New(o, nil, cfg).ConfirmExit(context.Background(), ExitQuery{Symbol: "X", Bullish: true})
	require.True(t, c.OracleFailed)
	assert.True(t, c.Exit)

	cfg.ExitOnOracleFailure = false
	c = New(o, nil, cfg).ConfirmExit(context.Background(), ExitQuery{Symbol: "X", Bullish: true})
	assert.False(t, c.Exit)
}
