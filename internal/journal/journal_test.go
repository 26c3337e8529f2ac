package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/autotrader/internal/broker"
	"github.com/Rajchodisetti/autotrader/internal/confidence"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/selector"
)

func closed(id string, closedAt time.Time, pl float64) lifecycle.Position {
	return lifecycle.Position{
		ID:         id,
		Symbol:     "NVDA",
		Instrument: "NVDA240308C00900000",
		Kind:       selector.Call,
		Bullish:    true,
		EntrySide:  broker.Buy,
		Quantity:   2,
		EntryPrice: 3.50,
		ExitPrice:  3.50 + pl/200,
		EnteredAt:  closedAt.Add(-20 * time.Minute),
		ClosedAt:   closedAt,
		RealizedPL: pl,
		TradeType:  confidence.Scalp,
		Confidence: 80,
		ExitReason: "PROFIT_TARGET",
		State:      lifecycle.Closed,
	}
}

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	_, path := newTestSQLite(t)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='trades'`).Scan(&name))
	assert.Equal(t, "trades", name)
}

func TestSQLiteRecordAndQuery(t *testing.T) {
	j, _ := newTestSQLite(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(ctx, closed("01A", day, 100)))
	require.NoError(t, j.RecordTrade(ctx, closed("01B", day.Add(time.Hour), -30)))
	require.NoError(t, j.RecordTrade(ctx, closed("01C", day.Add(24*time.Hour), 10)))
	// same position recorded twice stays one row
	require.NoError(t, j.RecordTrade(ctx, closed("01A", day, 100)))

	trades, err := j.Trades(ctx, day.Add(-time.Hour), day.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "01A", trades[0].PositionID)
	assert.Equal(t, "CALL", trades[0].Kind)
	assert.Equal(t, "buy", trades[0].Side)
	assert.Equal(t, "SCALP", trades[0].TradeType)
	assert.Equal(t, 2, trades[0].Quantity)
	assert.InDelta(t, 4.0, trades[0].ExitPrice, 1e-9)
	assert.True(t, day.Equal(trades[0].ClosedAt))
	assert.Equal(t, "PROFIT_TARGET", trades[0].Reason)
}

func TestDaySummary(t *testing.T) {
	j, _ := newTestSQLite(t)
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2024-03-05 in New York spans 05:00Z to 05:00Z next day
	require.NoError(t, j.RecordTrade(ctx, closed("01A", time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), 100)))
	require.NoError(t, j.RecordTrade(ctx, closed("01B", time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC), -40)))
	require.NoError(t, j.RecordTrade(ctx, closed("01C", time.Date(2024, 3, 6, 6, 0, 0, 0, time.UTC), 5)))

	trades, sum, err := Day(ctx, j, time.Date(2024, 3, 5, 12, 0, 0, 0, ny), ny)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, Summary{Day: "2024-03-05", Trades: 2, Wins: 1, Losses: 1, RealizedPL: 60, Best: 100, Worst: -40}, sum)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{Day: "2024-03-05"}, Summarize("2024-03-05", nil))
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		wantNil bool
		wantErr bool
	}{
		{"none", "none", true, false},
		{"empty", "", true, false},
		{"sqlite", "sqlite", false, false},
		{"postgres without dsn", "postgres", true, true},
		{"unknown", "mongo", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Open(tt.driver, filepath.Join(t.TempDir(), "j.db"), "")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, j)
				return
			}
			require.NotNil(t, j)
			assert.NoError(t, j.Close())
		})
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("JOURNAL_TEST_DSN")
	if dsn == "" {
		t.Skip("JOURNAL_TEST_DSN not set")
	}
	j, err := NewPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)
	id := "T" + at.Format("150405.000")
	require.NoError(t, j.RecordTrade(ctx, closed(id, at, 12.5)))

	trades, err := j.Trades(ctx, at.Add(-time.Second), at.Add(time.Second))
	require.NoError(t, err)
	var found bool
	for _, tr := range trades {
		if tr.PositionID == id {
			found = true
			assert.InDelta(t, 12.5, tr.RealizedPL, 1e-9)
		}
	}
	assert.True(t, found)
}
