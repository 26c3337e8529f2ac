package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
)

// Code identifies why a proposal was rejected.
type Code string

const (
	CodeApproved           Code = "approved"
	CodeCircuitBreaker     Code = "circuit_breaker"
	CodeMaxOpenPositions   Code = "max_open_positions"
	CodeInvalidPrice       Code = "invalid_price"
	CodePositionSize       Code = "max_position_size"
	CodeBuyingPower        Code = "buying_power"
	CodeAccountUnavailable Code = "account_unavailable"
	CodePremium            Code = "max_premium"
	CodeDTE                Code = "dte_out_of_band"
)

// Proposal is a sized-nothing-yet entry request. UnitPrice is the quoted share
// price for stock or the per-share premium for an option, taken from the side
// of the quote the entry trades against.
type Proposal struct {
	Symbol     string
	Option     bool
	Short      bool
	UnitPrice  float64
	DTE        int
	Confidence float64
	RiskTier   oracle.RiskTier
}

// Approval.LimitPrice is the per-share limit the entry order must carry. Every
// fill at or inside it keeps the cost basis within CostBasis.
type Approval struct {
	Approved   bool    `json:"approved"`
	Code       Code    `json:"code"`
	Reason     string  `json:"reason"`
	Quantity   int     `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	CostBasis  float64 `json:"cost_basis"`
	Budget     float64 `json:"budget"`
}

func reject(code Code, format string, args ...any) Approval {
	return Approval{Code: code, Reason: fmt.Sprintf(format, args...)}
}

type AccountSource interface {
	GetAccount(ctx context.Context) (broker.Account, error)
}

type SizingConfig struct {
	StockFloor      float64
	MinSizeFraction float64
	TierFactors     map[oracle.RiskTier]float64
	SlippageBps     float64 // allowance between the quote and the entry limit
	CallTimeout     time.Duration
}

func DefaultSizing() SizingConfig {
	return SizingConfig{
		StockFloor:      60,
		MinSizeFraction: 0.5,
		TierFactors:     map[oracle.RiskTier]float64{oracle.RiskLow: 1.0, oracle.RiskMedium: 0.75, oracle.RiskHigh: 0.5},
		SlippageBps:     10,
		CallTimeout:     10 * time.Second,
	}
}

// Governor validates and sizes entries. It never places orders.
type Governor struct {
	state    *State
	accounts AccountSource
	sizing   SizingConfig
}

func NewGovernor(state *State, accounts AccountSource, sizing SizingConfig) *Governor {
	if sizing.CallTimeout <= 0 {
		sizing.CallTimeout = 10 * time.Second
	}
	return &Governor{state: state, accounts: accounts, sizing: sizing}
}

func (g *Governor) State() *State { return g.state }

// Validate checks p against the current limits and sizes it. Rejections carry
// a specific code; only the first failing gate is reported.
func (g *Governor) Validate(ctx context.Context, p Proposal) Approval {
	a := g.validate(ctx, p)
	if a.Approved {
		a.Code = CodeApproved
		observ.IncCounter("risk_approvals_total", nil)
	} else {
		observ.IncCounter("risk_rejections_total", map[string]string{"code": string(a.Code)})
		observ.Log("entry_rejected", map[string]any{"symbol": p.Symbol, "code": a.Code, "reason": a.Reason})
	}
	return a
}

func (g *Governor) validate(ctx context.Context, p Proposal) Approval {
	snap := g.state.Snapshot()
	lim := snap.Limits

	if snap.CircuitBreakerTripped {
		return reject(CodeCircuitBreaker, "circuit breaker tripped: %s", g.state.Breaker().Reason())
	}
	if snap.OpenPositions >= lim.MaxOpenPositions {
		return reject(CodeMaxOpenPositions, "%d of %d positions open", snap.OpenPositions, lim.MaxOpenPositions)
	}
	if p.UnitPrice <= 0 || math.IsNaN(p.UnitPrice) {
		return reject(CodeInvalidPrice, "unit price %.4f", p.UnitPrice)
	}

	limit := LimitPrice(p.UnitPrice, g.sizing.SlippageBps, p.Short)
	unitCost := math.Max(p.UnitPrice, limit)
	if p.Option {
		unitCost *= market.ContractMultiplier
		if unitCost > lim.MaxPremium {
			return reject(CodePremium, "premium $%.2f per contract above $%.2f cap", unitCost, lim.MaxPremium)
		}
		if p.DTE < lim.MinDTE || p.DTE > lim.MaxDTE {
			return reject(CodeDTE, "DTE %d outside %d-%d", p.DTE, lim.MinDTE, lim.MaxDTE)
		}
		if p.DTE <= lim.CloseDTE {
			return reject(CodeDTE, "DTE %d at or below close_dte %d", p.DTE, lim.CloseDTE)
		}
	}
	if unitCost > lim.MaxPositionSize {
		return reject(CodePositionSize, "one unit costs $%.2f, above max position size $%.2f", unitCost, lim.MaxPositionSize)
	}

	// option quantity is capped at max_contracts, never rejected for it
	budget := g.Budget(p.Confidence, p.RiskTier, lim.MaxPositionSize)
	qty := int(math.Floor(budget / unitCost))
	if qty < 1 {
		qty = 1
	}
	if p.Option && qty > lim.MaxContracts {
		qty = lim.MaxContracts
	}
	cost := float64(qty) * unitCost
	if cost > lim.MaxPositionSize {
		return reject(CodePositionSize, "cost basis $%.2f above max position size $%.2f", cost, lim.MaxPositionSize)
	}

	if g.accounts == nil {
		return reject(CodeAccountUnavailable, "no account source")
	}
	cctx, cancel := context.WithTimeout(ctx, g.sizing.CallTimeout)
	defer cancel()
	acct, err := g.accounts.GetAccount(cctx)
	if err != nil {
		return reject(CodeAccountUnavailable, "account unavailable: %v", err)
	}
	if acct.BuyingPower < cost {
		return reject(CodeBuyingPower, "buying power $%.2f below cost $%.2f", acct.BuyingPower, cost)
	}

	return Approval{
		Approved:   true,
		Reason:     fmt.Sprintf("%d x $%.2f within limits", qty, unitCost),
		Quantity:   qty,
		LimitPrice: limit,
		CostBasis:  cost,
		Budget:     budget,
	}
}

// LimitPrice widens a quoted price by the slippage allowance and rounds it to
// the cent: down for buys, up for short sales. A buy limit is never below the
// quote, so the order stays marketable.
func LimitPrice(quoted, slippageBps float64, short bool) float64 {
	if short {
		limit := math.Ceil(quoted*(1-slippageBps/10000)*100) / 100
		if limit > quoted {
			limit = math.Floor(quoted*100) / 100
		}
		return limit
	}
	limit := math.Floor(quoted*(1+slippageBps/10000)*100) / 100
	if limit < quoted {
		limit = math.Ceil(quoted*100) / 100
	}
	return limit
}

// Budget is max position size scaled by confidence and risk tier. Confidence
// maps linearly from min_size_fraction at the stock floor to 1.0 at 100.
func (g *Governor) Budget(confidence float64, tier oracle.RiskTier, maxSize float64) float64 {
	floor := g.sizing.StockFloor
	c := math.Max(floor, math.Min(confidence, 100))
	confFactor := 1.0
	if floor < 100 {
		confFactor = g.sizing.MinSizeFraction + (1-g.sizing.MinSizeFraction)*(c-floor)/(100-floor)
	}
	riskFactor, ok := g.sizing.TierFactors[tier]
	if !ok {
		riskFactor = g.sizing.TierFactors[oracle.RiskHigh]
		if riskFactor == 0 {
			riskFactor = 0.5
		}
	}
	return maxSize * confFactor * riskFactor
}
