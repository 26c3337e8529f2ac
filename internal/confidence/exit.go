package confidence

import (
	"context"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
)

// ExitQuery describes a held position whose monitor trigger asks for an exit.
type ExitQuery struct {
	Symbol        string
	TradeType     TradeType
	Bullish       bool   // long stock or a call; short stock and puts are bearish
	Instrument    string // STOCK, CALL or PUT
	EntryPrice    float64
	Mark          float64
	UnrealizedPct float64
	EnteredAt     time.Time
	Trigger       string
	Now           time.Time
}

type ExitConfirmation struct {
	Exit         bool
	Verdict      oracle.Verdict
	OracleFailed bool
	Reason       string
}

// ConfirmExit asks the oracle whether to close. The position exits when the
// verdict opposes its direction. A hold (or same-direction) verdict keeps the
// position open only when its confidence reaches the confirmation floor; below
// it the trigger stands. An unreachable oracle falls back to the configured default.
func (e *Engine) ConfirmExit(ctx context.Context, q ExitQuery) ExitConfirmation {
	side := "bullish"
	if !q.Bullish {
		side = "bearish"
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}

	v, err := e.consult(ctx, oracle.Request{
		Mode:          oracle.ModeExit,
		Symbol:        q.Symbol,
		TradeType:     string(q.TradeType),
		Side:          side,
		Instrument:    q.Instrument,
		EntryPrice:    q.EntryPrice,
		Mark:          q.Mark,
		UnrealizedPct: q.UnrealizedPct,
		Trigger:       q.Trigger,
		HeldFor:       now.Sub(q.EnteredAt),
	})
	if err != nil {
		observ.Log("oracle_degraded", map[string]any{"symbol": q.Symbol, "mode": "exit", "error": err})
		observ.IncCounter("confidence_oracle_failures_total", map[string]string{"mode": "exit"})
		reason := "oracle unavailable, holding"
		if e.cfg.ExitOnOracleFailure {
			reason = "oracle unavailable, exiting on trigger"
		}
		return ExitConfirmation{
			Exit:         e.cfg.ExitOnOracleFailure,
			Verdict:      oracle.HoldVerdict(err.Error()),
			OracleFailed: true,
			Reason:       reason,
		}
	}

	opposing := oracle.Sell
	if !q.Bullish {
		opposing = oracle.Buy
	}

	c := ExitConfirmation{Verdict: v}
	switch {
	case v.Recommendation == opposing:
		c.Exit = true
		c.Reason = "oracle recommends " + string(v.Recommendation)
	case v.Confidence < e.cfg.ExitConfirmFloor:
		c.Exit = true
		c.Reason = "oracle not confident enough to override trigger"
	default:
		c.Reason = "oracle says hold"
	}
	observ.IncCounter("exit_confirmations_total", map[string]string{"trigger": q.Trigger, "exit": boolLabel(c.Exit)})
	return c
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
