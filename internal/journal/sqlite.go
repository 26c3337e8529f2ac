package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
)

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	side        TEXT NOT NULL,
	trade_type  TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	entered_at  INTEGER NOT NULL,
	closed_at   INTEGER NOT NULL,
	realized_pl REAL NOT NULL,
	confidence  REAL NOT NULL,
	reason      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at);
`

// SQLite stores times as unix milliseconds.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// RecordTrade is idempotent per position.
func (j *SQLite) RecordTrade(ctx context.Context, p lifecycle.Position) error {
	t := FromPosition(p)
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades
		(position_id, symbol, instrument, kind, side, trade_type, quantity, entry_price, exit_price, entered_at, closed_at, realized_pl, confidence, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID, t.Symbol, t.Instrument, t.Kind, t.Side, t.TradeType, t.Quantity,
		t.EntryPrice, t.ExitPrice, t.EnteredAt.UnixMilli(), t.ClosedAt.UnixMilli(), t.RealizedPL, t.Confidence, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", t.PositionID, err)
	}
	return nil
}

func (j *SQLite) Trades(ctx context.Context, from, to time.Time) ([]Trade, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT position_id, symbol, instrument, kind, side, trade_type, quantity, entry_price, exit_price, entered_at, closed_at, realized_pl, confidence, reason
		FROM trades WHERE closed_at >= ? AND closed_at < ? ORDER BY closed_at, position_id`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t                 Trade
			entered, closedAt int64
		)
		if err := rows.Scan(&t.PositionID, &t.Symbol, &t.Instrument, &t.Kind, &t.Side, &t.TradeType, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &entered, &closedAt, &t.RealizedPL, &t.Confidence, &t.Reason); err != nil {
			return nil, err
		}
		t.EnteredAt = time.UnixMilli(entered).UTC()
		t.ClosedAt = time.UnixMilli(closedAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
