package database

import (
	"fmt"
	"strings"
	"time"

	"binance-market-stream-go/internal/models"
	"gorm.io/gorm"
)

// backfillWindow bounds how far back each continuous aggregate policy
// re-materializes.
const backfillWindow = 7 * 24 * time.Hour

// EnableTimescale turns the trades table into a hypertable and creates one
// continuous aggregate per interval. It is a no-op on non-Postgres dialects.
func EnableTimescale(db *gorm.DB, intervals []models.Interval) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range TimescaleStatements(intervals) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply timescale schema: %w", err)
		}
	}
	return nil
}

// TimescaleStatements returns the idempotent DDL for the hypertable and the
// per-interval OHLCV views. Fixed-point columns are divided back by the
// same multipliers used when the rows were written.
func TimescaleStatements(intervals []models.Interval) []string {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`SELECT create_hypertable('trades', 'time', if_not_exists => TRUE, migrate_data => TRUE)`,
	}
	for _, iv := range intervals {
		stmts = append(stmts, continuousAggregateSQL(iv), refreshPolicySQL(iv))
	}
	return stmts
}

func continuousAggregateSQL(iv models.Interval) string {
	price := fmt.Sprintf("price::NUMERIC / %d", models.PriceMultiplier)
	qty := fmt.Sprintf("quantity::NUMERIC / %d", models.QuantityMultiplier)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE MATERIALIZED VIEW IF NOT EXISTS %s\n", iv.ViewName())
	b.WriteString("WITH (timescaledb.continuous) AS\n")
	b.WriteString("SELECT\n")
	fmt.Fprintf(&b, "    time_bucket(INTERVAL '%s', time) AS bucket,\n", pgInterval(iv.Duration))
	b.WriteString("    symbol,\n")
	fmt.Fprintf(&b, "    first(%s, time) AS open,\n", price)
	fmt.Fprintf(&b, "    max(%s) AS high,\n", price)
	fmt.Fprintf(&b, "    min(%s) AS low,\n", price)
	fmt.Fprintf(&b, "    last(%s, time) AS close,\n", price)
	fmt.Fprintf(&b, "    sum(%s) AS volume,\n", qty)
	b.WriteString("    count(*) AS trade_count\n")
	b.WriteString("FROM trades\n")
	b.WriteString("GROUP BY bucket, symbol\n")
	b.WriteString("WITH NO DATA")
	return b.String()
}

func refreshPolicySQL(iv models.Interval) string {
	return fmt.Sprintf(
		"SELECT add_continuous_aggregate_policy('%s', start_offset => INTERVAL '%s', end_offset => INTERVAL '%s', schedule_interval => INTERVAL '%s', if_not_exists => TRUE)",
		iv.ViewName(), pgInterval(backfillWindow), pgInterval(iv.Duration), pgInterval(iv.Refresh),
	)
}

// pgInterval renders a duration as a Postgres interval literal body.
func pgInterval(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return fmt.Sprintf("%d seconds", d/time.Second)
	}
}
