package database

import (
	"context"
	"fmt"
	"time"

	"binance-market-stream-go/internal/config"
	"binance-market-stream-go/internal/models"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and migrates the trade ledger.
func NewDatabase(cfg *config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		// lib/pq registers itself as "postgres" with database/sql.
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN})
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates the trades table and its indexes if they do not exist.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.TradeRow{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// TradeStore writes batches of trades to the ledger.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a TradeStore.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// InsertTrades writes all trades as one multi-row insert inside a
// transaction. Rows whose (time, trade_id) already exist are skipped, so
// redelivered trades are harmless. It returns the number of new rows.
func (s *TradeStore) InsertTrades(ctx context.Context, trades []models.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	rows := make([]models.TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = models.NewTradeRow(t)
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d trades: %w", len(trades), err)
	}
	return inserted, nil
}

// CountTrades returns the number of stored rows for a symbol.
func (s *TradeStore) CountTrades(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.TradeRow{}).Where("symbol = ?", symbol).Count(&n).Error
	return n, err
}

// LatestTradeTime returns the newest stored event time for a symbol, or
// the zero time when none exist.
func (s *TradeStore) LatestTradeTime(ctx context.Context, symbol string) (time.Time, error) {
	var row models.TradeRow
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("time desc").Limit(1).Find(&row).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest trade for %s: %w", symbol, err)
	}
	return row.Time, nil
}
