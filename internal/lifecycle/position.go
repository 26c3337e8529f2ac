package lifecycle

import (
	"time"

	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/selector"
)

type State string

const (
	PendingEntry State = "PENDING_ENTRY"
	Open         State = "OPEN"
	ExitPending  State = "EXIT_PENDING"
	Closed       State = "CLOSED"
	EntryFailed  State = "ENTRY_FAILED"
)

func (s State) Terminal() bool { return s == Closed || s == EntryFailed }

// Position is owned by the Manager; callers only ever see copies.
type Position struct {
	ID         string                 `json:"id"`
	Symbol     string                 `json:"symbol"`     // underlying
	Instrument string                 `json:"instrument"` // ticker or OCC symbol
	Kind       selector.Kind          `json:"kind"`
	Bullish    bool                   `json:"bullish"`
	EntrySide  broker.Side            `json:"entry_side"`
	Quantity   int                    `json:"quantity"`
	EntryPrice float64                `json:"entry_price"`
	CostBasis  float64                `json:"cost_basis"`
	EnteredAt  time.Time              `json:"entered_at"`
	TradeType  confidence.TradeType   `json:"trade_type"`
	Profile    confidence.Profile     `json:"profile"`
	Confidence float64                `json:"confidence"`
	Target     float64                `json:"target_price"`
	Stop       float64                `json:"stop_price"`
	HoldBy     time.Time              `json:"hold_by,omitempty"`
	Expiration time.Time              `json:"expiration,omitempty"`
	Contract   *market.OptionContract `json:"contract,omitempty"`
	State      State                  `json:"state"`

	EntryOrderID string    `json:"entry_order_id,omitempty"`
	ExitOrderID  string    `json:"exit_order_id,omitempty"`
	ExitReason   string    `json:"exit_reason,omitempty"`
	ExitPrice    float64   `json:"exit_price,omitempty"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`
	RealizedPL   float64   `json:"realized_pl"`
	CreatedAt    time.Time `json:"created_at"`
	FailReason   string    `json:"fail_reason,omitempty"`
}

func (p Position) IsOption() bool { return p.Kind.IsOption() }

func (p Position) Multiplier() int {
	if p.IsOption() {
		return market.ContractMultiplier
	}
	return 1
}

// Short reports a short stock position. Options are always held long.
func (p Position) Short() bool { return p.EntrySide == broker.Sell }

func (p Position) Asset() broker.Asset {
	if p.IsOption() {
		return broker.Option
	}
	return broker.Equity
}

// DTE is zero for stock.
func (p Position) DTE(now time.Time) int {
	if !p.IsOption() || p.Expiration.IsZero() {
		return 0
	}
	return market.DaysToExpiry(p.Expiration, now)
}

// UnrealizedPct is the holder's gain in percent of entry price at mark.
func (p Position) UnrealizedPct(mark float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	pct := (mark - p.EntryPrice) / p.EntryPrice * 100
	if p.Short() {
		pct = -pct
	}
	return pct
}

func (p Position) exitSide() broker.Side {
	if p.Short() {
		return broker.Buy
	}
	return broker.Sell
}

// levels derives target, stop and hold-by from the profile at the fill.
func (p *Position) levels() {
	t := p.Profile.TargetPct / 100
	s := p.Profile.StopPct / 100
	if p.Short() {
		p.Target = p.EntryPrice * (1 - t)
		p.Stop = p.EntryPrice * (1 + s)
	} else {
		p.Target = p.EntryPrice * (1 + t)
		p.Stop = p.EntryPrice * (1 - s)
	}
	if p.Profile.MaxHold > 0 {
		p.HoldBy = p.EnteredAt.Add(p.Profile.MaxHold)
	}
}
