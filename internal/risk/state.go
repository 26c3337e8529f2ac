// Package risk holds the trading-day risk state and the governor that
// validates and sizes every entry against it.
package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

var (
	ErrCircuitBreaker = errors.New("circuit breaker tripped")
	ErrMaxPositions   = errors.New("max open positions reached")
	ErrInvariant      = errors.New("risk invariant violation")
)

type Limits struct {
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxPremium       float64 `json:"max_premium" yaml:"max_premium"` // per contract, premium x 100
	MaxContracts     int     `json:"max_contracts" yaml:"max_contracts"`
	MinDTE           int     `json:"min_dte" yaml:"min_dte"`
	MaxDTE           int     `json:"max_dte" yaml:"max_dte"`
	CloseDTE         int     `json:"close_dte" yaml:"close_dte"`
}

func (l Limits) Validate() error {
	switch {
	case l.MaxPositionSize <= 0:
		return fmt.Errorf("max_position_size must be positive")
	case l.MaxDailyLoss <= 0:
		return fmt.Errorf("max_daily_loss must be positive")
	case l.MaxOpenPositions <= 0:
		return fmt.Errorf("max_open_positions must be positive")
	case l.MaxPremium <= 0 || l.MaxContracts <= 0:
		return fmt.Errorf("option limits must be positive")
	case l.MinDTE < 0 || l.MinDTE > l.MaxDTE:
		return fmt.Errorf("dte band %d-%d invalid", l.MinDTE, l.MaxDTE)
	case l.CloseDTE < 0 || l.CloseDTE >= l.MaxDTE:
		return fmt.Errorf("close_dte %d must be within [0, max_dte)", l.CloseDTE)
	}
	return nil
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	TradingDay            string  `json:"trading_day"`
	DailyRealizedPL       float64 `json:"daily_realized_pl"`
	CircuitBreakerTripped bool    `json:"circuit_breaker_tripped"`
	OpenPositions         int     `json:"open_positions"`
	Limits                Limits  `json:"limits"`
}

// State is the process-wide risk state for one trading day. Open slots
// survive the daily reset; realized P/L and the breaker do not.
type State struct {
	mu         sync.Mutex
	limits     Limits
	tradingDay string
	dailyPL    decimal.Decimal
	open       map[string]bool
	breaker    *CircuitBreaker
	now        func() time.Time
}

func NewState(limits Limits) *State {
	s := &State{
		limits:  limits,
		open:    make(map[string]bool),
		breaker: NewCircuitBreaker(),
		now:     time.Now,
	}
	s.tradingDay = s.now().Format("2006-01-02")
	return s
}

func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *State) Breaker() *CircuitBreaker { return s.breaker }

func (s *State) Limits() Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// SetLimits replaces the limits. Lowering max_open_positions below the current
// count blocks new entries but never force-closes anything.
func (s *State) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.limits = l
	s.mu.Unlock()
	observ.Log("risk_limits_updated", map[string]any{"limits": l})
	return nil
}

// ResetDay starts a new trading day: realized P/L returns to zero and the
// circuit breaker is cleared.
func (s *State) ResetDay(now time.Time) {
	s.mu.Lock()
	prev := s.tradingDay
	day := now.Format("2006-01-02")
	s.tradingDay = day
	s.dailyPL = decimal.Zero
	s.mu.Unlock()

	s.breaker.Reset(now, "daily_reset")
	observ.SetGauge("risk_daily_realized_pl", 0, nil)
	observ.Log("risk_day_reset", map[string]any{"previous_day": prev, "trading_day": day})
}

func (s *State) TradingDay() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradingDay
}

func (s *State) ResetCircuitBreaker(reason string) {
	s.breaker.Reset(s.clock(), reason)
}

func (s *State) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Reserve claims an open-position slot for id. The breaker and count are
// checked and the count incremented atomically.
func (s *State) Reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breaker.Tripped() {
		return ErrCircuitBreaker
	}
	if s.open[id] {
		return fmt.Errorf("%w: slot %s already reserved", ErrInvariant, id)
	}
	if len(s.open) >= s.limits.MaxOpenPositions {
		return ErrMaxPositions
	}
	s.open[id] = true
	observ.SetGauge("risk_open_positions", float64(len(s.open)), nil)
	return nil
}

// Release returns a slot whose entry never filled.
func (s *State) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open[id] {
		return fmt.Errorf("%w: release of unknown slot %s", ErrInvariant, id)
	}
	delete(s.open, id)
	observ.SetGauge("risk_open_positions", float64(len(s.open)), nil)
	return nil
}

// Close frees the slot of an exited position and books its realized P/L.
func (s *State) Close(id string, pl decimal.Decimal) error {
	s.mu.Lock()
	if !s.open[id] {
		s.mu.Unlock()
		return fmt.Errorf("%w: close of unknown slot %s", ErrInvariant, id)
	}
	delete(s.open, id)
	observ.SetGauge("risk_open_positions", float64(len(s.open)), nil)
	s.mu.Unlock()

	s.RecordRealized(pl)
	return nil
}

// RecordRealized adds pl to the day's P/L and trips the breaker once the
// loss reaches max_daily_loss.
func (s *State) RecordRealized(pl decimal.Decimal) {
	s.mu.Lock()
	s.dailyPL = s.dailyPL.Add(pl)
	total := s.dailyPL
	maxLoss := s.limits.MaxDailyLoss
	now := s.now()
	s.mu.Unlock()

	f, _ := total.Float64()
	observ.SetGauge("risk_daily_realized_pl", f, nil)
	if total.LessThanOrEqual(decimal.NewFromFloat(-maxLoss)) {
		s.breaker.Trip(now, "max_daily_loss", map[string]any{"daily_realized_pl": total.StringFixed(2), "max_daily_loss": maxLoss})
	}
}

func (s *State) DailyRealizedPL() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPL
}

func (s *State) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, _ := s.dailyPL.Float64()
	return Snapshot{
		TradingDay:            s.tradingDay,
		DailyRealizedPL:       pl,
		CircuitBreakerTripped: s.breaker.Tripped(),
		OpenPositions:         len(s.open),
		Limits:                s.limits,
	}
}
