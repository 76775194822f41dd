package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	domrepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/storage"
)

// candleRecord is the on-disk row layout of a partition file.
type candleRecord struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(nanosecond)"`
	Open      float64   `parquet:"open"`
	High      float64   `parquet:"high"`
	Low       float64   `parquet:"low"`
	Close     float64   `parquet:"close"`
	Volume    float64   `parquet:"volume"`
	Symbol    string    `parquet:"symbol"`
	Interval  string    `parquet:"interval"`
}

// ParquetCandleStore implements CandleStore as parquet files in an object store.
type ParquetCandleStore struct {
	store storage.ObjectStore
	l     *applogger.Logger
}

var _ domrepo.CandleStore = (*ParquetCandleStore)(nil)

func NewParquetCandleStore(store storage.ObjectStore) *ParquetCandleStore {
	return &ParquetCandleStore{store: store}
}

// SetLogger injects a structured logger.
func (s *ParquetCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *ParquetCandleStore) ListPartitions(ctx context.Context, symbol string, interval models.Interval) ([]schema.Partition, error) {
	objs, err := s.store.List(ctx, schema.SeriesPrefix(symbol, interval))
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	seen := make(map[schema.Partition]struct{})
	var out []schema.Partition
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, ".parquet") {
			continue
		}
		p, ok := schema.ParseKey(o.Key)
		if !ok || p.Symbol != symbol || p.Interval != interval {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	schema.SortPartitions(out)
	return out, nil
}

// ReadPartition decodes every parquet file of the partition. Rows of readable files
// are returned even when another file fails, together with an error wrapping
// models.ErrStorageReadCorruption.
func (s *ParquetCandleStore) ReadPartition(ctx context.Context, p schema.Partition) ([]models.Candle, error) {
	objs, err := s.store.List(ctx, p.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	var (
		out  []models.Candle
		errs []error
	)
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, ".parquet") {
			continue
		}
		b, err := s.store.Get(ctx, o.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", o.Key, err)
		}
		rows, err := DecodeCandles(b, p.Interval)
		if err != nil {
			if s.l != nil {
				s.l.Warn("parquet partition file unreadable",
					applogger.String("key", o.Key),
					applogger.Error(err),
				)
			}
			errs = append(errs, fmt.Errorf("%w: %s: %v", models.ErrStorageReadCorruption, o.Key, err))
			continue
		}
		out = append(out, rows...)
	}
	return out, errors.Join(errs...)
}

// WritePartition replaces the partition with rows: data.parquet is rewritten and any
// other parquet file under the partition is removed.
func (s *ParquetCandleStore) WritePartition(ctx context.Context, p schema.Partition, rows []models.Candle) (string, error) {
	start := time.Now()
	b, err := EncodeCandles(rows)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", p, err)
	}
	if err := s.store.Put(ctx, p.Path(), b); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	objs, err := s.store.List(ctx, p.Prefix())
	if err != nil {
		return "", fmt.Errorf("list %s: %w", p, err)
	}
	for _, o := range objs {
		if o.Key == p.Path() || !strings.HasSuffix(o.Key, ".parquet") {
			continue
		}
		if err := s.store.Delete(ctx, o.Key); err != nil {
			return "", fmt.Errorf("remove stale %s: %w", o.Key, err)
		}
	}
	uri := s.store.URI(p.Path())
	if s.l != nil {
		s.l.Debug("parquet partition written",
			applogger.String("path", uri),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return uri, nil
}

// EncodeCandles serializes rows into a single parquet file.
func EncodeCandles(rows []models.Candle) ([]byte, error) {
	recs := make([]candleRecord, len(rows))
	for i, c := range rows {
		recs[i] = candleRecord{
			Timestamp: c.Timestamp.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Symbol:    c.Symbol,
			Interval:  string(c.Interval),
		}
	}
	var buf bytes.Buffer
	if err := parquet.Write(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCandles parses a parquet file written by EncodeCandles. Rows without an
// interval column value take fallback.
func DecodeCandles(b []byte, fallback models.Interval) ([]models.Candle, error) {
	recs, err := parquet.Read[candleRecord](bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, len(recs))
	for i, r := range recs {
		iv := models.Interval(r.Interval)
		if iv == "" {
			iv = fallback
		}
		out[i] = models.Candle{
			Timestamp: r.Timestamp.UTC(),
			Symbol:    r.Symbol,
			Interval:  iv,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return out, nil
}
