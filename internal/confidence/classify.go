// Package confidence turns a scanned opportunity into an assessed trade:
// trade-type classification, an oracle verdict and a sentiment adjustment.
package confidence

import (
	"time"

	"github.com/Rajchodisetti/autotrader/internal/market"
	"github.com/Rajchodisetti/autotrader/internal/scanner"
)

type TradeType string

const (
	Scalp    TradeType = "SCALP"
	DayTrade TradeType = "DAY_TRADE"
	Swing    TradeType = "SWING"
)

// Profile holds the exit parameters attached to a trade type.
type Profile struct {
	TargetPct float64
	StopPct   float64
	MaxHold   time.Duration // 0 = unbounded
	DTE       market.DTEBand
}

func (p Profile) Horizon() string {
	if p.MaxHold <= 0 {
		return "multi-day"
	}
	return p.MaxHold.String()
}

type Profiles map[TradeType]Profile

// DefaultProfiles mirrors the shipped configuration.
func DefaultProfiles() Profiles {
	return Profiles{
		Scalp:    {TargetPct: 1.5, StopPct: 1.0, MaxHold: 30 * time.Minute, DTE: market.DTEBand{Min: 0, Max: 7}},
		DayTrade: {TargetPct: 3.0, StopPct: 1.5, MaxHold: 390 * time.Minute, DTE: market.DTEBand{Min: 7, Max: 21}},
		Swing:    {TargetPct: 8.0, StopPct: 4.0, DTE: market.DTEBand{Min: 21, Max: 45}},
	}
}

type Thresholds struct {
	ScalpScoreFloor    float64
	ScalpVolFloor      float64
	ScalpMomentumFloor float64
	DayScoreFloor      float64
	DayVolumeFloor     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{ScalpScoreFloor: 80, ScalpVolFloor: 2.0, ScalpMomentumFloor: 2.0, DayScoreFloor: 70, DayVolumeFloor: 1.5}
}

// Classify is total: every opportunity maps to exactly one trade type.
// Momentum is signed, so a falling setup never classifies as SCALP.
func Classify(o scanner.Opportunity, t Thresholds) TradeType {
	if o.Score >= t.ScalpScoreFloor && o.Volatility >= t.ScalpVolFloor && o.Momentum >= t.ScalpMomentumFloor {
		return Scalp
	}
	if o.Score >= t.DayScoreFloor && o.VolumeRatio >= t.DayVolumeFloor {
		return DayTrade
	}
	return Swing
}

// Band maps a sentiment threshold to a confidence delta. Positive thresholds
// match s >= Threshold, negative ones match s <= Threshold.
type Band struct {
	Threshold float64
	Delta     float64
}

func DefaultBands() []Band {
	return []Band{{0.5, 10}, {0.3, 5}, {-0.5, -10}, {-0.3, -5}}
}

// SentimentDelta returns the delta of the strongest matching band.
func SentimentDelta(s float64, bands []Band) float64 {
	best := 0.0
	bestMag := -1.0
	for _, b := range bands {
		hit := (b.Threshold >= 0 && s >= b.Threshold) || (b.Threshold < 0 && s <= b.Threshold)
		if !hit {
			continue
		}
		mag := b.Threshold
		if mag < 0 {
			mag = -mag
		}
		if mag > bestMag {
			best, bestMag = b.Delta, mag
		}
	}
	return best
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
