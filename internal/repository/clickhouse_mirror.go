package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	domrepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	pkgch "github.com/victorescoto/fiap-ml-finance/pkg/clickhouse"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

// CandleSchema returns the DDL of the mirror table. ReplacingMergeTree collapses
// rewrites of the same bar to the newest insert.
func CandleSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            ts        DateTime64(3, 'UTC'),
            symbol    LowCardinality(String),
            interval  LowCardinality(String),
            open      Float64,
            high      Float64,
            low       Float64,
            close     Float64,
            volume    Float64,
            ingested  DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(ingested)
        PARTITION BY (interval, toYYYYMM(ts))
        ORDER BY (symbol, interval, ts)`, database, table),
	}
}

// ClickHouseMirror copies written partitions into ClickHouse for ad-hoc analytics.
type ClickHouseMirror struct {
	db    *sql.DB
	table string
	now   func() time.Time
	l     *applogger.Logger
}

var _ domrepo.CandleMirror = (*ClickHouseMirror)(nil)

// NewClickHouseMirror creates the mirror on "<database>.<table>".
func NewClickHouseMirror(ch *pkgch.Client, database, table string) *ClickHouseMirror {
	return &ClickHouseMirror{db: ch.DB(), table: database + "." + table, now: time.Now}
}

// SetLogger injects a structured logger.
func (m *ClickHouseMirror) SetLogger(l *applogger.Logger) { m.l = l }

func (m *ClickHouseMirror) Upsert(ctx context.Context, rows []models.Candle) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	ingested := m.now().UTC()
	// multi-row VALUES in chunks to bound statement size
	const chunkSize = 2000
	for lo := 0; lo < len(rows); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(rows) {
			hi = len(rows)
		}
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*9)
		for _, c := range rows[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				c.Timestamp.UTC(),
				c.Symbol,
				string(c.Interval),
				c.Open,
				c.High,
				c.Low,
				c.Close,
				c.Volume,
				ingested,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, interval, open, high, low, close, volume, ingested) VALUES %s",
			m.table, strings.Join(values, ","))
		if _, err := m.db.ExecContext(ctx, q, args...); err != nil {
			if m.l != nil {
				m.l.Error("clickhouse mirror insert error",
					applogger.String("table", m.table),
					applogger.Int("rows", hi-lo),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("mirror insert: %w", err)
		}
	}
	if m.l != nil {
		m.l.Debug("clickhouse mirror insert ok",
			applogger.String("table", m.table),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}
