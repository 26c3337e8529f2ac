package market

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// SimGateway serves simulated market data for paper trading and tests. Symbols
// registered with AddSymbol follow a random walk; Set* overrides pin exact data.
type SimGateway struct {
	mu     sync.Mutex
	random *rand.Rand
	now    func() time.Time

	base         map[string]*baseQuote
	quotes       map[string]Quote
	bars         map[string][]Bar
	chains       map[string][]OptionContract
	optionQuotes map[string]OptionContract
	errs         map[string]error
	calls        map[string]int
}

type baseQuote struct {
	Price      float64
	Volatility float64 // daily volatility as decimal (0.02 = 2%)
	Volume     int64
}

func NewSimGateway(seed int64) *SimGateway {
	return &SimGateway{
		random:       rand.New(rand.NewSource(seed)),
		now:          time.Now,
		base:         make(map[string]*baseQuote),
		quotes:       make(map[string]Quote),
		bars:         make(map[string][]Bar),
		chains:       make(map[string][]OptionContract),
		optionQuotes: make(map[string]OptionContract),
		errs:         make(map[string]error),
		calls:        make(map[string]int),
	}
}

// NewDefaultSimGateway seeds a handful of liquid names for paper runs.
func NewDefaultSimGateway() *SimGateway {
	g := NewSimGateway(time.Now().UnixNano())
	g.AddSymbol("SPY", 545.20, 0.012, 60000000)
	g.AddSymbol("QQQ", 470.10, 0.015, 40000000)
	g.AddSymbol("IWM", 205.40, 0.018, 25000000)
	g.AddSymbol("AAPL", 206.80, 0.025, 15000000)
	g.AddSymbol("MSFT", 415.75, 0.022, 12000000)
	g.AddSymbol("NVDA", 450.00, 0.035, 10000000)
	g.AddSymbol("AMD", 160.30, 0.035, 9000000)
	g.AddSymbol("TSLA", 248.50, 0.045, 20000000)
	g.AddSymbol("META", 505.90, 0.028, 8000000)
	g.AddSymbol("AMZN", 185.60, 0.026, 11000000)
	g.AddSymbol("GOOGL", 172.50, 0.028, 8000000)
	return g
}

func (s *SimGateway) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SimGateway) AddSymbol(symbol string, price, volatility float64, volume int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base[normalizeSymbol(symbol)] = &baseQuote{Price: price, Volatility: volatility, Volume: volume}
}

func (s *SimGateway) SetQuote(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.Symbol = normalizeSymbol(q.Symbol)
	if q.Timestamp.IsZero() {
		q.Timestamp = s.now()
	}
	s.quotes[q.Symbol] = q
}

func (s *SimGateway) SetBars(symbol string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[normalizeSymbol(symbol)] = append([]Bar(nil), bars...)
}

func (s *SimGateway) SetChain(underlying string, chain []OptionContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[normalizeSymbol(underlying)] = append([]OptionContract(nil), chain...)
	for _, c := range chain {
		s.optionQuotes[c.Symbol] = c
	}
}

// SetOptionQuote overrides the live quote for one contract (e.g. to move its mark).
func (s *SimGateway) SetOptionQuote(c OptionContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optionQuotes[c.Symbol] = c
}

// SetError makes every call for key (a symbol or contract) fail with err; nil clears it.
func (s *SimGateway) SetError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, normalizeSymbol(key))
		return
	}
	s.errs[normalizeSymbol(key)] = err
}

// Calls reports how many requests were made for op ("quote", "bars", "chain", "option").
func (s *SimGateway) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *SimGateway) begin(ctx context.Context, op, key string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return NewNetworkError(key, "context done", err)
	}
	if err, ok := s.errs[key]; ok {
		return err
	}
	return nil
}

func (s *SimGateway) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = normalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "quote", symbol); err != nil {
		return nil, err
	}
	if q, ok := s.quotes[symbol]; ok {
		return &q, nil
	}
	base, ok := s.base[symbol]
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not supported by sim gateway")
	}

	prev := base.Price
	base.Price = roundToTick(base.Price * (1 + s.priceMovement(base.Volatility)))
	spread := base.Price * (0.0001 + s.random.Float64()*0.0004)
	volume := int64(float64(base.Volume) * (0.7 + s.random.Float64()*0.6))
	return &Quote{
		Symbol:    symbol,
		Price:     base.Price,
		Bid:       roundToTick(base.Price - spread/2),
		Ask:       roundToTick(base.Price + spread/2),
		Volume:    volume,
		PrevClose: prev,
		Timestamp: s.now(),
	}, nil
}

func (s *SimGateway) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	symbol = normalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "bars", symbol); err != nil {
		return nil, err
	}
	if bars, ok := s.bars[symbol]; ok {
		if limit > 0 && len(bars) > limit {
			bars = bars[len(bars)-limit:]
		}
		return append([]Bar(nil), bars...), nil
	}
	base, ok := s.base[symbol]
	if !ok {
		return nil, nil
	}

	step := timeframeDuration(timeframe)
	bars := make([]Bar, limit)
	price := base.Price
	end := s.now().Truncate(step)
	for i := limit - 1; i >= 0; i-- {
		open := price / (1 + s.priceMovement(base.Volatility))
		high := math.Max(open, price) * (1 + s.random.Float64()*0.002)
		low := math.Min(open, price) * (1 - s.random.Float64()*0.002)
		bars[i] = Bar{
			Time:   end.Add(-time.Duration(limit-1-i) * step),
			Open:   roundToTick(open),
			High:   roundToTick(high),
			Low:    roundToTick(low),
			Close:  roundToTick(price),
			Volume: int64(float64(base.Volume) / 78 * (0.5 + s.random.Float64())),
		}
		price = open
	}
	return bars, nil
}

func (s *SimGateway) GetOptionChain(ctx context.Context, symbol string, band DTEBand) ([]OptionContract, error) {
	symbol = normalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "chain", symbol); err != nil {
		return nil, err
	}
	now := s.now()
	if chain, ok := s.chains[symbol]; ok {
		var out []OptionContract
		for _, c := range chain {
			if band.Contains(c.DTE(now)) {
				out = append(out, c)
			}
		}
		return out, nil
	}
	base, ok := s.base[symbol]
	if !ok {
		return nil, nil
	}
	chain := s.synthesizeChain(symbol, base, band, now)
	for _, c := range chain {
		s.optionQuotes[c.Symbol] = c
	}
	return chain, nil
}

func (s *SimGateway) GetOptionQuote(ctx context.Context, contract string) (*OptionContract, error) {
	contract = normalizeSymbol(contract)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "option", contract); err != nil {
		return nil, err
	}
	c, ok := s.optionQuotes[contract]
	if !ok {
		return nil, NewEmptyError(contract, "unknown contract")
	}
	if base, ok := s.base[c.Underlying]; ok {
		c = s.reprice(c, base.Price, s.now())
		s.optionQuotes[contract] = c
	}
	return &c, nil
}

// synthesizeChain lists weekly Friday expirations inside band with strikes around spot.
func (s *SimGateway) synthesizeChain(symbol string, base *baseQuote, band DTEBand, now time.Time) []OptionContract {
	inc := strikeIncrement(base.Price)
	atm := math.Round(base.Price/inc) * inc
	var chain []OptionContract
	for d := band.Min; d <= band.Max; d++ {
		exp := now.AddDate(0, 0, d)
		if exp.Weekday() != time.Friday {
			continue
		}
		exp = time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
		for k := -5; k <= 5; k++ {
			strike := atm + float64(k)*inc
			for _, right := range []OptionRight{Call, Put} {
				c := OptionContract{
					Symbol:     FormatOCC(symbol, right, strike, exp),
					Underlying: symbol,
					Right:      right,
					Strike:     strike,
					Expiration: exp,
					IV:         base.Volatility * math.Sqrt(252),
				}
				chain = append(chain, s.reprice(c, base.Price, now))
			}
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Symbol < chain[j].Symbol })
	return chain
}

// reprice applies a rough intrinsic + time-value model; good enough for paper fills.
func (s *SimGateway) reprice(c OptionContract, spot float64, now time.Time) OptionContract {
	t := math.Max(float64(c.DTE(now)), 0.5) / 365
	iv := c.IV
	if iv <= 0 {
		iv = 0.3
	}
	intrinsic := math.Max(spot-c.Strike, 0)
	if c.Right == Put {
		intrinsic = math.Max(c.Strike-spot, 0)
	}
	timeValue := 0.4 * spot * iv * math.Sqrt(t) * math.Exp(-math.Abs(spot-c.Strike)/(spot*iv*math.Sqrt(t)+1e-9))
	mid := math.Max(intrinsic+timeValue, 0.01)
	half := math.Max(mid*0.02, 0.01)

	moneyness := (spot - c.Strike) / (spot * iv * math.Sqrt(t))
	delta := 1 / (1 + math.Exp(-1.7*moneyness))
	if c.Right == Put {
		delta -= 1
	}
	c.Bid = roundCents(mid - half)
	c.Ask = roundCents(mid + half)
	c.Last = roundCents(mid)
	c.Greeks = Greeks{
		Delta: delta,
		Gamma: math.Exp(-moneyness*moneyness/2) / (spot * iv * math.Sqrt(2*math.Pi*t)),
		Theta: -timeValue / math.Max(float64(c.DTE(now)), 1),
		Vega:  spot * math.Sqrt(t) * 0.01,
		Rho:   c.Strike * t * 0.01 * math.Copysign(1, delta),
	}
	c.Timestamp = now
	return c
}

func (s *SimGateway) priceMovement(dailyVol float64) float64 {
	// 390 trading minutes per session
	return s.random.NormFloat64() * dailyVol / math.Sqrt(390)
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1Min":
		return time.Minute
	case "15Min":
		return 15 * time.Minute
	case "1Hour":
		return time.Hour
	case "1Day":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

func strikeIncrement(price float64) float64 {
	switch {
	case price < 25:
		return 0.5
	case price < 200:
		return 1
	default:
		return 5
	}
}

func roundToTick(price float64) float64 {
	if price >= 1 {
		return math.Round(price*100) / 100
	}
	return math.Round(price*10000) / 10000
}

func roundCents(v float64) float64 {
	return math.Max(math.Round(v*100)/100, 0.01)
}
