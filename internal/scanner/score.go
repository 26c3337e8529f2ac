// Package scanner turns raw market data into ranked opportunities.
package scanner

import (
	"errors"
	"math"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/market"
)

// ErrNoBars is returned when a symbol has no historical bars at all.
var ErrNoBars = errors.New("no bars available")

// Opportunity is created fresh each scan cycle and never persisted.
type Opportunity struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Bid         float64   `json:"bid,omitempty"`
	Ask         float64   `json:"ask,omitempty"`
	ChangePct   float64   `json:"change_pct"`
	VolumeRatio float64   `json:"volume_ratio"`
	Momentum    float64   `json:"momentum"`   // % distance of price from the short MA
	Volatility  float64   `json:"volatility"` // mean absolute bar-to-bar % change
	ShortMA     float64   `json:"short_ma"`
	Score       float64   `json:"score"` // 0..100
	Bars        int       `json:"bars"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// EntryPrice is the side of the quote an entry would trade against: the ask
// for a buy, the bid for a short sale, else the last price.
func (o Opportunity) EntryPrice(short bool) float64 {
	if short && o.Bid > 0 {
		return o.Bid
	}
	if !short && o.Ask > 0 {
		return o.Ask
	}
	return o.Price
}

// Direction is +1 when price is above its short MA, -1 below, 0 flat.
func (o Opportunity) Direction() int {
	switch {
	case o.Momentum > 0:
		return 1
	case o.Momentum < 0:
		return -1
	default:
		return 0
	}
}

type Weights struct {
	Change     float64
	Volume     float64
	Momentum   float64
	Volatility float64
}

type Params struct {
	Weights  Weights
	MAPeriod int
}

// Component saturation points: a move of this size scores 100 on its own axis.
const (
	fullChangePct     = 3.0
	fullVolumeRatio   = 3.0
	fullMomentumPct   = 2.0
	fullVolatilityPct = 3.0
)

// Score computes the opportunity for one symbol. It is a pure function of its inputs.
// Fewer bars than the configured window are tolerated; zero bars is ErrNoBars.
func Score(q market.Quote, bars []market.Bar, p Params, now time.Time) (Opportunity, error) {
	if len(bars) == 0 {
		return Opportunity{}, ErrNoBars
	}

	price := q.Price
	if price <= 0 {
		price = bars[len(bars)-1].Close
	}

	ref := q.PrevClose
	if ref <= 0 {
		ref = bars[0].Open
		if ref <= 0 {
			ref = bars[0].Close
		}
	}

	opp := Opportunity{
		Symbol:    q.Symbol,
		Price:     price,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Bars:      len(bars),
		ScannedAt: now,
	}
	opp.ChangePct = pctChange(ref, price)
	opp.ShortMA = shortMA(bars, p.MAPeriod)
	opp.Momentum = pctChange(opp.ShortMA, price)
	opp.VolumeRatio = volumeRatio(bars)
	opp.Volatility = volatility(bars)
	opp.Score = combine(opp, p.Weights)
	return opp, nil
}

func pctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

func shortMA(bars []market.Bar, period int) float64 {
	if period <= 0 || period > len(bars) {
		period = len(bars)
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// volumeRatio compares the latest bar's volume with the trailing average of the bars before it.
func volumeRatio(bars []market.Bar) float64 {
	if len(bars) < 2 {
		return 1
	}
	var sum int64
	for _, b := range bars[:len(bars)-1] {
		sum += b.Volume
	}
	avg := float64(sum) / float64(len(bars)-1)
	if avg <= 0 {
		return 1
	}
	return float64(bars[len(bars)-1].Volume) / avg
}

func volatility(bars []market.Bar) float64 {
	if len(bars) == 1 {
		b := bars[0]
		if b.Low <= 0 {
			return 0
		}
		return (b.High - b.Low) / b.Low * 100
	}
	sum := 0.0
	n := 0
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 {
			continue
		}
		sum += math.Abs(pctChange(bars[i-1].Close, bars[i].Close))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func saturate(v, full float64) float64 {
	if full <= 0 {
		return 0
	}
	return math.Max(0, math.Min(v/full*100, 100))
}

func combine(o Opportunity, w Weights) float64 {
	total := w.Change + w.Volume + w.Momentum + w.Volatility
	if total <= 0 {
		return 0
	}
	s := w.Change*saturate(math.Abs(o.ChangePct), fullChangePct) +
		w.Volume*saturate(o.VolumeRatio-1, fullVolumeRatio-1) +
		w.Momentum*saturate(math.Abs(o.Momentum), fullMomentumPct) +
		w.Volatility*saturate(o.Volatility, fullVolatilityPct)
	return math.Max(0, math.Min(s/total, 100))
}
