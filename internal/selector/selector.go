// Package selector chooses the instrument (stock, call or put) for an assessed trade.
package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/oracle"
)

type Kind string

const (
	Stock Kind = "STOCK"
	Call  Kind = "CALL"
	Put   Kind = "PUT"
	Skip  Kind = "SKIP"
)

func (k Kind) IsOption() bool { return k == Call || k == Put }

type Moneyness string

const (
	ATM Moneyness = "atm"
	ITM Moneyness = "itm"
	OTM Moneyness = "otm"
)

type Decision struct {
	Kind           Kind
	Bullish        bool
	Contract       *market.OptionContract
	FallbackReason string
}

type Config struct {
	OptionsEnabled bool
	OptionsFloor   float64
	StockFloor     float64
	Moneyness      Moneyness
	StrikesOut     int
	AllowShort     bool
	DTE            market.DTEBand // risk-level bounds applied on top of the trade type's band
	CallTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		OptionsEnabled: true,
		OptionsFloor:   75,
		StockFloor:     60,
		Moneyness:      ATM,
		DTE:            market.DTEBand{Min: 0, Max: 45},
		CallTimeout:    10 * time.Second,
	}
}

// Decide maps confidence and recommendation to an instrument kind before any
// market lookups.
func Decide(conf float64, rec oracle.Recommendation, cfg Config) Kind {
	if rec == oracle.Hold || conf < cfg.StockFloor {
		return Skip
	}
	if conf >= cfg.OptionsFloor && cfg.OptionsEnabled {
		if rec == oracle.Buy {
			return Call
		}
		return Put
	}
	if rec == oracle.Sell && !cfg.AllowShort {
		return Skip
	}
	return Stock
}

type Selector struct {
	gw  market.Gateway
	cfg Config
	now func() time.Time
}

func New(gw market.Gateway, cfg Config) *Selector {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Selector{gw: gw, cfg: cfg, now: time.Now}
}

// SetClock overrides the clock used for DTE arithmetic.
func (s *Selector) SetClock(now func() time.Time) { s.now = now }

// Select returns the instrument for an assessment. Option lookups that come
// up empty fall back to stock.
func (s *Selector) Select(ctx context.Context, a confidence.Assessment) Decision {
	kind := Decide(a.Confidence, a.Recommendation, s.cfg)
	bullish := a.Recommendation == oracle.Buy
	d := Decision{Kind: kind, Bullish: bullish}
	if !kind.IsOption() {
		observ.IncCounter("selector_decisions_total", map[string]string{"kind": string(kind)})
		return d
	}

	contract, err := s.pickContract(ctx, a, kind)
	if err != nil {
		d = s.fallback(a, err.Error())
		observ.Log("selector_fallback", map[string]any{
			"symbol": a.Opportunity.Symbol, "wanted": kind, "got": d.Kind, "reason": d.FallbackReason,
		})
		observ.IncCounter("selector_decisions_total", map[string]string{"kind": string(d.Kind), "fallback": "true"})
		return d
	}
	d.Contract = contract
	observ.IncCounter("selector_decisions_total", map[string]string{"kind": string(kind)})
	return d
}

func (s *Selector) fallback(a confidence.Assessment, reason string) Decision {
	d := Decision{Kind: Stock, Bullish: a.Recommendation == oracle.Buy, FallbackReason: reason}
	if !d.Bullish && !s.cfg.AllowShort {
		d.Kind = Skip
		d.FallbackReason = reason + "; short stock disabled"
	}
	return d
}

func (s *Selector) pickContract(ctx context.Context, a confidence.Assessment, kind Kind) (*market.OptionContract, error) {
	band, ok := a.Profile.DTE.Intersect(s.cfg.DTE)
	if !ok {
		return nil, fmt.Errorf("trade type DTE band %v outside risk band %v", a.Profile.DTE, s.cfg.DTE)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	chain, err := s.gw.GetOptionChain(cctx, a.Opportunity.Symbol, band)
	if err != nil {
		return nil, fmt.Errorf("option chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty option chain for DTE %d-%d", band.Min, band.Max)
	}

	right := market.Call
	if kind == Put {
		right = market.Put
	}
	now := s.now()
	var candidates []market.OptionContract
	for _, c := range chain {
		if c.Right != right || c.Ask <= 0 || !band.Contains(c.DTE(now)) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no %s contracts with a live ask in DTE %d-%d", kind, band.Min, band.Max)
	}

	spot := a.Opportunity.Price
	strike := targetStrike(candidates, spot, kind, s.cfg.Moneyness, s.cfg.StrikesOut)
	best := pickBest(candidates, strike, now)

	live, err := s.gw.GetOptionQuote(cctx, best.Symbol)
	if err != nil || live == nil || live.Ask <= 0 {
		observ.Log("option_quote_refresh_failed", map[string]any{"contract": best.Symbol, "error": err})
		return &best, nil
	}
	return live, nil
}

func targetStrike(cs []market.OptionContract, spot float64, kind Kind, m Moneyness, out int) float64 {
	seen := map[float64]bool{}
	var strikes []float64
	for _, c := range cs {
		if !seen[c.Strike] {
			seen[c.Strike] = true
			strikes = append(strikes, c.Strike)
		}
	}
	sort.Float64s(strikes)

	atm := 0
	for i, k := range strikes {
		if math.Abs(k-spot) < math.Abs(strikes[atm]-spot) {
			atm = i
		}
	}
	if out <= 0 {
		out = 1
	}
	// calls go in the money below spot, puts above
	step := 0
	switch m {
	case ITM:
		step = -out
	case OTM:
		step = out
	}
	if kind == Put {
		step = -step
	}
	idx := atm + step
	if idx < 0 {
		idx = 0
	}
	if idx >= len(strikes) {
		idx = len(strikes) - 1
	}
	return strikes[idx]
}

func pickBest(cs []market.OptionContract, strike float64, now time.Time) market.OptionContract {
	var at []market.OptionContract
	for _, c := range cs {
		if c.Strike == strike {
			at = append(at, c)
		}
	}
	sort.SliceStable(at, func(i, j int) bool {
		di, dj := at[i].DTE(now), at[j].DTE(now)
		if di != dj {
			return di < dj
		}
		return at[i].Spread() < at[j].Spread()
	})
	return at[0]
}
