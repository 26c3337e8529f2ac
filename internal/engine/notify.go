package engine

import (
	"fmt"

	"github.com/Rajchodisetti/autotrader/internal/alerts"
)

// Notifier receives operator alerts. Send must not block.
type Notifier interface {
	Send(alerts.Alert)
}

func (e *Engine) notifyEntry(d EntryDecision) {
	switch d.Action {
	case ActionEntered:
		e.notifier.Send(alerts.Alert{
			Key:      d.Symbol,
			Title:    fmt.Sprintf("Entered %s %s", d.Kind, d.Instrument),
			Severity: alerts.Info,
			At:       e.now(),
			Fields: []alerts.Field{
				{Title: "Trade type", Value: string(d.TradeType)},
				{Title: "Confidence", Value: fmt.Sprintf("%.1f (%s, %s risk)", d.Confidence, d.Recommendation, d.RiskTier)},
				{Title: "Size", Value: fmt.Sprintf("%d @ $%.2f = $%.2f", d.Quantity, d.Price, d.CostBasis)},
			},
		})
	case ActionFailed:
		e.notifier.Send(alerts.Alert{
			Key:      d.Symbol,
			Title:    "Entry failed: " + d.Symbol,
			Severity: alerts.Warning,
			At:       e.now(),
			Fields:   []alerts.Field{{Title: "Reason", Value: d.Reason}},
		})
	}
}

func (e *Engine) notifyExit(d ExitDecision) {
	switch d.Action {
	case ActionExited:
		sev := alerts.Info
		if d.RealizedPL < 0 {
			sev = alerts.Warning
		}
		trigger := string(d.Trigger)
		if trigger == "" {
			trigger = EmergencyReason
		}
		e.notifier.Send(alerts.Alert{
			Key:      d.Symbol,
			Title:    fmt.Sprintf("Exited %s (%s)", d.Instrument, trigger),
			Severity: sev,
			At:       e.now(),
			Fields: []alerts.Field{
				{Title: "Exit price", Value: fmt.Sprintf("$%.2f", d.ExitPrice)},
				{Title: "Realized P/L", Value: fmt.Sprintf("$%.2f", d.RealizedPL)},
				{Title: "Reason", Value: d.Reason},
			},
		})
	case ActionFailed:
		e.notifier.Send(alerts.Alert{
			Key:      d.Symbol,
			Title:    "Exit failed: " + d.Instrument,
			Severity: alerts.Critical,
			At:       e.now(),
			Fields:   []alerts.Field{{Title: "Reason", Value: d.Reason}},
		})
	}
}

// checkBreaker alerts once per trip; ResetDay re-arms it.
func (e *Engine) checkBreaker() {
	br := e.risk.Breaker()
	if !br.Tripped() || !e.breakerAlerted.CompareAndSwap(false, true) {
		return
	}
	snap := e.risk.Snapshot()
	e.notifier.Send(alerts.Alert{
		Key:      "circuit_breaker",
		Title:    "Circuit breaker tripped, entries blocked",
		Severity: alerts.Critical,
		At:       e.now(),
		Fields: []alerts.Field{
			{Title: "Reason", Value: br.Reason()},
			{Title: "Daily realized P/L", Value: fmt.Sprintf("$%.2f", snap.DailyRealizedPL)},
		},
	})
}
