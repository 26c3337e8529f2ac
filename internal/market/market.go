// Package market defines the market data gateway consumed by the pipeline:
// stock quotes, historical bars and option-chain snapshots with greeks.
package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ContractMultiplier is the number of shares one equity option contract controls.
const ContractMultiplier = 100

// ErrUnavailable marks data that could not be fetched; callers degrade to a neutral value.
var ErrUnavailable = errors.New("market data unavailable")

// Gateway supplies market data. Implementations must tolerate empty or partial
// bar sequences without failing the caller.
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	GetOptionChain(ctx context.Context, symbol string, band DTEBand) ([]OptionContract, error)
	GetOptionQuote(ctx context.Context, contract string) (*OptionContract, error)
}

// Quote is the latest stock quote.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`
	PrevClose float64   `json:"prev_close"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to the last price.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask >= q.Bid {
		return (q.Bid + q.Ask) / 2
	}
	return q.Price
}

// Bar is one OHLCV bar; sequences are ordered oldest first.
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume int64     `json:"v"`
}

type OptionRight string

const (
	Call OptionRight = "CALL"
	Put  OptionRight = "PUT"
)

type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// OptionContract is a snapshot of a single listed option.
type OptionContract struct {
	Symbol     string      `json:"symbol"` // OCC symbol
	Underlying string      `json:"underlying"`
	Right      OptionRight `json:"right"`
	Strike     float64     `json:"strike"`
	Expiration time.Time   `json:"expiration"`
	Bid        float64     `json:"bid"`
	Ask        float64     `json:"ask"`
	Last       float64     `json:"last"`
	IV         float64     `json:"iv"`
	Greeks     Greeks      `json:"greeks"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Premium is the per-share price used for entry sizing: the ask when quoted, else the last trade.
func (c OptionContract) Premium() float64 {
	if c.Ask > 0 {
		return c.Ask
	}
	return c.Last
}

// Mark is the per-share value used to price an open position.
func (c OptionContract) Mark() float64 {
	if c.Bid > 0 && c.Ask >= c.Bid {
		return (c.Bid + c.Ask) / 2
	}
	return c.Last
}

func (c OptionContract) Spread() float64 {
	if c.Bid <= 0 || c.Ask <= 0 {
		return math.Inf(1)
	}
	return c.Ask - c.Bid
}

// DTE returns whole calendar days from now until expiration, never negative.
func (c OptionContract) DTE(now time.Time) int {
	return DaysToExpiry(c.Expiration, now)
}

// DaysToExpiry counts calendar days between now's date and the expiration date.
func DaysToExpiry(expiration, now time.Time) int {
	e := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	d := int(e.Sub(n).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// DTEBand is an inclusive days-to-expiry range.
type DTEBand struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (b DTEBand) Contains(dte int) bool {
	return dte >= b.Min && dte <= b.Max
}

// Intersect narrows b to the overlap with o. ok is false when they do not overlap.
func (b DTEBand) Intersect(o DTEBand) (DTEBand, bool) {
	r := DTEBand{Min: max(b.Min, o.Min), Max: min(b.Max, o.Max)}
	return r, r.Min <= r.Max
}

// ParseOCC decodes an OCC option symbol such as AAPL240119C00190000.
func ParseOCC(symbol string) (underlying string, right OptionRight, strike float64, expiration time.Time, err error) {
	s := strings.TrimSpace(symbol)
	if len(s) < 16 {
		return "", "", 0, time.Time{}, fmt.Errorf("occ symbol %q too short", symbol)
	}
	tail := s[len(s)-15:]
	underlying = strings.TrimSpace(s[:len(s)-15])
	expiration, err = time.Parse("060102", tail[:6])
	if err != nil {
		return "", "", 0, time.Time{}, fmt.Errorf("occ symbol %q: bad expiration: %w", symbol, err)
	}
	switch tail[6] {
	case 'C':
		right = Call
	case 'P':
		right = Put
	default:
		return "", "", 0, time.Time{}, fmt.Errorf("occ symbol %q: bad right %q", symbol, tail[6])
	}
	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return "", "", 0, time.Time{}, fmt.Errorf("occ symbol %q: bad strike: %w", symbol, err)
	}
	return underlying, right, float64(milli) / 1000, expiration, nil
}

// FormatOCC builds the OCC symbol for a contract.
func FormatOCC(underlying string, right OptionRight, strike float64, expiration time.Time) string {
	r := "C"
	if right == Put {
		r = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiration.Format("060102"), r, int64(math.Round(strike*1000)))
}

// Error carries the failing symbol and a coarse classification.
type Error struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol", "empty"
	Symbol  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrUnavailable, e.Cause}
	}
	return []error{ErrUnavailable}
}

func NewNetworkError(symbol, message string, cause error) *Error {
	return &Error{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewProviderError(symbol, message string, cause error) *Error {
	return &Error{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *Error {
	return &Error{Type: "bad_symbol", Symbol: symbol, Message: message}
}

func NewEmptyError(symbol, message string) *Error {
	return &Error{Type: "empty", Symbol: symbol, Message: message}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
