package engine

import (
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/monitor"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
	"github.com/Rajchodisetti/autotrader/internal/risk"
	"github.com/Rajchodisetti/autotrader/internal/selector"
)

type Action string

const (
	ActionEntered  Action = "ENTERED"
	ActionSkipped  Action = "SKIPPED"
	ActionRejected Action = "REJECTED"
	ActionFailed   Action = "FAILED"
	ActionExited   Action = "EXITED"
	ActionHeld     Action = "HELD"
	ActionAlert    Action = "ALERT"
	ActionInFlight Action = "IN_FLIGHT"
)

// EntryDecision records what the pipeline did with one scanned opportunity
// and which gates it passed on the way.
type EntryDecision struct {
	Symbol         string                `json:"symbol"`
	Action         Action                `json:"action"`
	TradeType      confidence.TradeType  `json:"trade_type,omitempty"`
	Score          float64               `json:"score"`
	Confidence     float64               `json:"confidence"`
	Recommendation oracle.Recommendation `json:"recommendation,omitempty"`
	RiskTier       oracle.RiskTier       `json:"risk_tier,omitempty"`
	Kind           selector.Kind         `json:"kind,omitempty"`
	Instrument     string                `json:"instrument,omitempty"`
	Quantity       int                   `json:"quantity,omitempty"`
	Price          float64               `json:"price,omitempty"`
	CostBasis      float64               `json:"cost_basis,omitempty"`
	PositionID     string                `json:"position_id,omitempty"`
	Code           risk.Code             `json:"code,omitempty"`
	Reason         string                `json:"reason"`
	GatesPassed    []string              `json:"gates_passed"`
	GatesBlocked   []string              `json:"gates_blocked"`
}

func (d *EntryDecision) pass(gate string) { d.GatesPassed = append(d.GatesPassed, gate) }

func (d *EntryDecision) block(gate string, a Action, reason string) EntryDecision {
	d.GatesBlocked = append(d.GatesBlocked, gate)
	d.Action = a
	d.Reason = reason
	return *d
}

// ExitDecision records the outcome for one position in a monitor cycle.
type ExitDecision struct {
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Instrument    string          `json:"instrument"`
	Action        Action          `json:"action"`
	Trigger       monitor.Reason  `json:"trigger,omitempty"`
	Alerts        []string        `json:"alerts,omitempty"`
	Forced        bool            `json:"forced"`
	Mark          float64         `json:"mark"`
	UnrealizedPct float64         `json:"unrealized_pct"`
	Verdict       *oracle.Verdict `json:"verdict,omitempty"`
	ExitPrice     float64         `json:"exit_price,omitempty"`
	RealizedPL    float64         `json:"realized_pl,omitempty"`
	Reason        string          `json:"reason"`
}
