package journal

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
)

// tradeRow is the gorm model behind the postgres journal.
type tradeRow struct {
	PositionID string    `gorm:"primaryKey;size:26"`
	Symbol     string    `gorm:"size:16;not null;index"`
	Instrument string    `gorm:"size:32;not null"`
	Kind       string    `gorm:"size:8;not null"`
	Side       string    `gorm:"size:8;not null"`
	TradeType  string    `gorm:"size:16;not null"`
	Quantity   int       `gorm:"not null"`
	EntryPrice float64   `gorm:"not null"`
	ExitPrice  float64   `gorm:"not null"`
	EnteredAt  time.Time `gorm:"not null"`
	ClosedAt   time.Time `gorm:"not null;index"`
	RealizedPL float64   `gorm:"column:realized_pl;not null"`
	Confidence float64   `gorm:"not null"`
	Reason     string    `gorm:"size:32;not null"`
}

func (tradeRow) TableName() string { return "trades" }

func rowFromTrade(t Trade) tradeRow {
	return tradeRow(t)
}

func (r tradeRow) trade() Trade {
	t := Trade(r)
	t.EnteredAt = t.EnteredAt.UTC()
	t.ClosedAt = t.ClosedAt.UTC()
	return t
}

type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres journal needs a dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (j *Postgres) RecordTrade(ctx context.Context, p lifecycle.Position) error {
	row := rowFromTrade(FromPosition(p))
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", row.PositionID, err)
	}
	return nil
}

func (j *Postgres) Trades(ctx context.Context, from, to time.Time) ([]Trade, error) {
	var rows []tradeRow
	err := j.db.WithContext(ctx).
		Where("closed_at >= ? AND closed_at < ?", from, to).
		Order("closed_at, position_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.trade())
	}
	return out, nil
}

func (j *Postgres) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
