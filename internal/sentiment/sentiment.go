// Package sentiment scores a symbol in [-1, 1] from news headlines and market breadth.
// Missing inputs make the reading neutral; nothing is ever fabricated.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/cache"
	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type Breakdown struct {
	News          float64 `json:"news"`
	MarketBreadth float64 `json:"market_breadth"`
	NewsOK        bool    `json:"news_ok"`
	BreadthOK     bool    `json:"breadth_ok"`
}

// Reading is computed on demand and cached briefly.
type Reading struct {
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"`
	Breakdown  Breakdown `json:"breakdown"`
	Rationale  string    `json:"rationale"`
	Headlines  int       `json:"headlines"`
	ComputedAt time.Time `json:"computed_at"`
}

// Neutral is the reading used whenever no data is available.
func Neutral(symbol, why string) Reading {
	return Reading{Symbol: symbol, Rationale: why, ComputedAt: time.Now()}
}

// Source produces a reading for a symbol. It never returns an error: failures degrade to neutral.
type Source interface {
	GetSentiment(ctx context.Context, symbol string) Reading
}

// HeadlineFetcher returns recent headlines for a symbol.
type HeadlineFetcher interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]string, error)
}

type Config struct {
	BreadthSymbols []string
	NewsWeight     float64
	BreadthWeight  float64
	CacheTTL       time.Duration
	MaxHeadlines   int
}

// Analyzer combines headline tone with index breadth.
type Analyzer struct {
	news  HeadlineFetcher
	gw    market.Gateway
	cache cache.Cache
	cfg   Config
}

func NewAnalyzer(news HeadlineFetcher, gw market.Gateway, c cache.Cache, cfg Config) *Analyzer {
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = 20
	}
	return &Analyzer{news: news, gw: gw, cache: c, cfg: cfg}
}

func (a *Analyzer) GetSentiment(ctx context.Context, symbol string) Reading {
	key := cache.Key("sentiment", symbol, nil)
	if a.cache != nil {
		var cached Reading
		if err := a.cache.Get(ctx, key, &cached); err == nil {
			observ.IncCounter("sentiment_cache_hits_total", nil)
			return cached
		} else if !errors.Is(err, cache.ErrMiss) {
			observ.Log("sentiment_cache_error", map[string]any{"symbol": symbol, "error": err})
		}
	}

	r := a.compute(ctx, symbol)

	if a.cache != nil && (r.Breakdown.NewsOK || r.Breakdown.BreadthOK) {
		if err := a.cache.Set(ctx, key, r, a.cfg.CacheTTL); err != nil {
			observ.Log("sentiment_cache_error", map[string]any{"symbol": symbol, "error": err})
		}
	}
	return r
}

func (a *Analyzer) compute(ctx context.Context, symbol string) Reading {
	r := Reading{Symbol: symbol, ComputedAt: time.Now()}
	var notes []string

	if a.news != nil {
		headlines, err := a.news.Headlines(ctx, symbol, a.cfg.MaxHeadlines)
		switch {
		case err != nil:
			notes = append(notes, "news unavailable")
			observ.IncCounter("sentiment_source_errors_total", map[string]string{"source": "news"})
		case len(headlines) == 0:
			notes = append(notes, "no headlines")
		default:
			r.Breakdown.News = HeadlineScore(headlines)
			r.Breakdown.NewsOK = true
			r.Headlines = len(headlines)
			notes = append(notes, fmt.Sprintf("%d headlines tone %+.2f", len(headlines), r.Breakdown.News))
		}
	}

	if a.gw != nil && len(a.cfg.BreadthSymbols) > 0 {
		breadth, n := a.breadth(ctx)
		if n > 0 {
			r.Breakdown.MarketBreadth = breadth
			r.Breakdown.BreadthOK = true
			notes = append(notes, fmt.Sprintf("breadth %+.2f over %d indices", breadth, n))
		} else {
			notes = append(notes, "breadth unavailable")
		}
	}

	wsum := 0.0
	if r.Breakdown.NewsOK {
		r.Score += a.cfg.NewsWeight * r.Breakdown.News
		wsum += a.cfg.NewsWeight
	}
	if r.Breakdown.BreadthOK {
		r.Score += a.cfg.BreadthWeight * r.Breakdown.MarketBreadth
		wsum += a.cfg.BreadthWeight
	}
	if wsum > 0 {
		r.Score /= wsum
	} else {
		r.Score = 0
	}
	r.Score = clamp(r.Score, -1, 1)
	r.Rationale = strings.Join(notes, "; ")
	return r
}

// breadth maps the mean daily change of the breadth indices to [-1, 1]; a 1% average move is ~0.76.
func (a *Analyzer) breadth(ctx context.Context) (float64, int) {
	sum := 0.0
	n := 0
	for _, sym := range a.cfg.BreadthSymbols {
		q, err := a.gw.GetQuote(ctx, sym)
		if err != nil || q.PrevClose <= 0 || q.Price <= 0 {
			continue
		}
		sum += (q.Price - q.PrevClose) / q.PrevClose * 100
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return math.Tanh(sum / float64(n)), n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
