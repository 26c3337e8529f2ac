package oracle

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeEntry Mode = "entry"
	ModeExit  Mode = "exit"
)

// Request carries the numbers the oracle sees. Entry requests describe an
// opportunity; exit requests additionally describe the held position.
type Request struct {
	Mode      Mode
	Symbol    string
	TradeType string
	Horizon   string

	Price       float64
	ChangePct   float64
	VolumeRatio float64
	Momentum    float64
	Volatility  float64
	Score       float64

	// exit mode
	Side          string
	Instrument    string
	EntryPrice    float64
	Mark          float64
	UnrealizedPct float64
	Trigger       string
	HeldFor       time.Duration
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const systemPrompt = "You are a disciplined equity and options trading analyst. Base every judgement only on the numbers supplied. " +
	"Reply with a single JSON object and nothing else: " +
	`{"recommendation":"BUY|SELL|HOLD","confidence":0-100,"risk_tier":"LOW|MEDIUM|HIGH","rationale":"one or two sentences"}`

var framing = map[string]string{
	"SCALP":     "This is a SCALP setup: a very short intraday move measured in minutes. Focus on immediate momentum and volatility; ignore fundamentals.",
	"DAY_TRADE": "This is a DAY_TRADE setup: the position is closed before the session ends. Focus on intraday trend strength and volume confirmation.",
	"SWING":     "This is a SWING setup: the position may be held for several days to weeks. Weigh trend persistence over short-term noise.",
}

// BuildMessages frames the request for a chat-completion model.
func BuildMessages(req Request) []Message {
	var b strings.Builder
	if f, ok := framing[req.TradeType]; ok {
		b.WriteString(f)
		b.WriteString("\n\n")
	}

	switch req.Mode {
	case ModeExit:
		fmt.Fprintf(&b, "Should this %s %s position in %s be closed now?\n", req.Side, req.Instrument, req.Symbol)
		fmt.Fprintf(&b, "Entry price: %.2f\nCurrent mark: %.2f\nUnrealized: %+.2f%%\n", req.EntryPrice, req.Mark, req.UnrealizedPct)
		fmt.Fprintf(&b, "Held for: %s\nExit trigger: %s\n", req.HeldFor.Round(time.Second), req.Trigger)
		b.WriteString("Answer SELL to close a bullish position, BUY to close a bearish position, HOLD to keep it open.")
	default:
		fmt.Fprintf(&b, "Evaluate a new %s entry in %s.\n", strings.ToLower(strings.ReplaceAll(req.TradeType, "_", " ")), req.Symbol)
		if req.Horizon != "" {
			fmt.Fprintf(&b, "Horizon: %s\n", req.Horizon)
		}
		fmt.Fprintf(&b, "Price: %.2f\nChange: %+.2f%%\nVolume ratio: %.2fx\nMomentum vs short MA: %+.2f%%\nVolatility: %.2f%%\nScanner score: %.1f/100\n",
			req.Price, req.ChangePct, req.VolumeRatio, req.Momentum, req.Volatility, req.Score)
		b.WriteString("Answer BUY for a long entry, SELL for a bearish entry, HOLD to stay out.")
	}

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
