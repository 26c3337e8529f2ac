package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type Config struct {
	Symbols       []string
	Timeframe     string
	BarWindow     int
	MinScore      float64
	MaxCandidates int
	Concurrency   int
	CallTimeout   time.Duration
	Params        Params
}

// Report summarises one scan cycle.
type Report struct {
	Opportunities []Opportunity
	Scanned       int
	BelowFloor    int
	Failed        map[string]error
}

type Scanner struct {
	gw  market.Gateway
	cfg Config
	now func() time.Time
}

func New(gw market.Gateway, cfg Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BarWindow <= 0 {
		cfg.BarWindow = 20
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Scanner{gw: gw, cfg: cfg, now: time.Now}
}

// Scan scores every configured symbol in parallel. A failing symbol is recorded
// in the report and never aborts the cycle. Results are sorted best first.
func (s *Scanner) Scan(ctx context.Context) Report {
	start := time.Now()
	rep := Report{Failed: map[string]error{}}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, sym := range s.cfg.Symbols {
		select {
		case <-ctx.Done():
			mu.Lock()
			rep.Failed[sym] = ctx.Err()
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()

			opp, err := s.scoreSymbol(ctx, sym)

			mu.Lock()
			defer mu.Unlock()
			rep.Scanned++
			if err != nil {
				rep.Failed[sym] = err
				observ.IncCounter("scan_symbol_errors_total", map[string]string{"symbol": sym})
				observ.Log("scan_symbol_failed", map[string]any{"symbol": sym, "error": err})
				return
			}
			if opp.Score < s.cfg.MinScore {
				rep.BelowFloor++
				return
			}
			rep.Opportunities = append(rep.Opportunities, opp)
		}(sym)
	}
	wg.Wait()

	sort.Slice(rep.Opportunities, func(i, j int) bool {
		if rep.Opportunities[i].Score == rep.Opportunities[j].Score {
			return rep.Opportunities[i].Symbol < rep.Opportunities[j].Symbol
		}
		return rep.Opportunities[i].Score > rep.Opportunities[j].Score
	})
	if s.cfg.MaxCandidates > 0 && len(rep.Opportunities) > s.cfg.MaxCandidates {
		rep.Opportunities = rep.Opportunities[:s.cfg.MaxCandidates]
	}

	observ.RecordDuration("scan_cycle_latency", time.Since(start), nil)
	observ.SetGauge("scan_opportunities", float64(len(rep.Opportunities)), nil)
	return rep
}

func (s *Scanner) scoreSymbol(ctx context.Context, sym string) (Opportunity, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	q, err := s.gw.GetQuote(callCtx, sym)
	if err != nil {
		return Opportunity{}, err
	}
	bars, err := s.gw.GetBars(callCtx, sym, s.cfg.Timeframe, s.cfg.BarWindow)
	if err != nil {
		return Opportunity{}, err
	}
	opp, err := Score(*q, bars, s.cfg.Params, s.now())
	if errors.Is(err, ErrNoBars) {
		return Opportunity{}, market.NewEmptyError(sym, "no bars")
	}
	return opp, err
}
