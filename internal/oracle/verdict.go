// Package oracle consults an external analysis model for a trade verdict.
// The model is a black box; this package only frames the question and
// parses the answer, falling back to HOLD on anything malformed.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Hold Recommendation = "HOLD"
)

// ParseRecommendation maps free text onto the closed set. Anything
// unrecognised is HOLD.
func ParseRecommendation(s string) Recommendation {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "STRONG_BUY", "STRONG BUY", "LONG":
		return Buy
	case "SELL", "STRONG_SELL", "STRONG SELL", "SHORT":
		return Sell
	default:
		return Hold
	}
}

type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// ParseRiskTier defaults to HIGH so an unreadable tier sizes conservatively.
func ParseRiskTier(s string) RiskTier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow
	case "MEDIUM", "MED", "MODERATE":
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Verdict is the oracle's answer. Confidence is in [0, 100].
type Verdict struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	RiskTier       RiskTier       `json:"risk_tier"`
	Rationale      string         `json:"rationale"`
}

// HoldVerdict is the fail-safe answer used whenever the oracle cannot be trusted.
func HoldVerdict(why string) Verdict {
	return Verdict{Recommendation: Hold, Confidence: 0, RiskTier: RiskHigh, Rationale: why}
}

var ErrMalformed = errors.New("malformed oracle verdict")

// Oracle answers entry and exit questions.
type Oracle interface {
	Analyze(ctx context.Context, req Request) (Verdict, error)
}

type rawVerdict struct {
	Recommendation string          `json:"recommendation"`
	Action         string          `json:"action"`
	Confidence     json.RawMessage `json:"confidence"`
	RiskTier       string          `json:"risk_tier"`
	Risk           string          `json:"risk"`
	Rationale      string          `json:"rationale"`
	Reasoning      string          `json:"reasoning"`
}

// ParseVerdict extracts the first JSON object from a model reply. Fenced code
// blocks and surrounding prose are tolerated. Confidence may be given as a
// 0..1 fraction or a 0..100 number.
func ParseVerdict(content string) (Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("%w: no json object", ErrMalformed)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rec := raw.Recommendation
	if rec == "" {
		rec = raw.Action
	}
	if rec == "" {
		return Verdict{}, fmt.Errorf("%w: missing recommendation", ErrMalformed)
	}

	conf, err := parseConfidence(raw.Confidence)
	if err != nil {
		return Verdict{}, err
	}

	tier := raw.RiskTier
	if tier == "" {
		tier = raw.Risk
	}
	why := raw.Rationale
	if why == "" {
		why = raw.Reasoning
	}

	return Verdict{
		Recommendation: ParseRecommendation(rec),
		Confidence:     conf,
		RiskTier:       ParseRiskTier(tier),
		Rationale:      why,
	}, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing confidence", ErrMalformed)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: confidence %s", ErrMalformed, string(raw))
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
			return 0, fmt.Errorf("%w: confidence %q", ErrMalformed, s)
		}
	}
	if math.IsNaN(v) || v < 0 {
		return 0, fmt.Errorf("%w: confidence %v", ErrMalformed, v)
	}
	// the prompt asks for 0-100; only a non-integer below 1 reads as a fraction
	if v > 0 && v < 1 {
		v *= 100
	}
	return math.Min(v, 100), nil
}
