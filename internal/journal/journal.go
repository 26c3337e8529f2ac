// Package journal keeps a durable record of every closed position.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
)

// Trade is one closed position as stored in the journal.
type Trade struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Instrument string    `json:"instrument"`
	Kind       string    `json:"kind"`
	Side       string    `json:"side"`
	TradeType  string    `json:"trade_type"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EnteredAt  time.Time `json:"entered_at"`
	ClosedAt   time.Time `json:"closed_at"`
	RealizedPL float64   `json:"realized_pl"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

func FromPosition(p lifecycle.Position) Trade {
	return Trade{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Instrument: p.Instrument,
		Kind:       string(p.Kind),
		Side:       string(p.EntrySide),
		TradeType:  string(p.TradeType),
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		EnteredAt:  p.EnteredAt.UTC(),
		ClosedAt:   p.ClosedAt.UTC(),
		RealizedPL: p.RealizedPL,
		Confidence: p.Confidence,
		Reason:     p.ExitReason,
	}
}

// Journal is a lifecycle.Recorder that can also be queried.
type Journal interface {
	RecordTrade(ctx context.Context, p lifecycle.Position) error
	// Trades lists trades closed in [from, to), oldest first.
	Trades(ctx context.Context, from, to time.Time) ([]Trade, error)
	Close() error
}

type Summary struct {
	Day        string  `json:"day"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	RealizedPL float64 `json:"realized_pl"`
	Best       float64 `json:"best"`
	Worst      float64 `json:"worst"`
}

// Day returns the trades closed on day's calendar date in loc and their summary.
func Day(ctx context.Context, j Journal, day time.Time, loc *time.Location) ([]Trade, Summary, error) {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	trades, err := j.Trades(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, Summary{}, err
	}
	return trades, Summarize(from.Format("2006-01-02"), trades), nil
}

func Summarize(day string, trades []Trade) Summary {
	s := Summary{Day: day, Trades: len(trades)}
	for i, t := range trades {
		s.RealizedPL += t.RealizedPL
		switch {
		case t.RealizedPL > 0:
			s.Wins++
		case t.RealizedPL < 0:
			s.Losses++
		}
		if i == 0 || t.RealizedPL > s.Best {
			s.Best = t.RealizedPL
		}
		if i == 0 || t.RealizedPL < s.Worst {
			s.Worst = t.RealizedPL
		}
	}
	return s
}

// Open builds the journal for driver: "sqlite", "postgres" or "none" (nil journal).
func Open(driver, path, dsn string) (Journal, error) {
	switch driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		j, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "postgres":
		j, err := NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", driver)
	}
}
