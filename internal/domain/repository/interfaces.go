package repository

import (
	"context"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
)

// MarketData fetches raw candles from the upstream provider.
// An empty frame with a nil error means the provider had nothing for the window.
type MarketData interface {
	FetchOHLCV(ctx context.Context, symbol, period string, interval models.Interval) (*schema.RawFrame, error)
}

// CandleStore is the partitioned candle dataset.
type CandleStore interface {
	// ListPartitions returns the partitions of a series in ascending date order.
	ListPartitions(ctx context.Context, symbol string, interval models.Interval) ([]schema.Partition, error)
	// ReadPartition returns the rows of every file in the partition. A file that cannot
	// be decoded yields an error wrapping models.ErrStorageReadCorruption.
	ReadPartition(ctx context.Context, p schema.Partition) ([]models.Candle, error)
	// WritePartition fully replaces the partition contents.
	WritePartition(ctx context.Context, p schema.Partition, rows []models.Candle) (string, error)
}

// ModelStore persists trained classifiers and the training report.
type ModelStore interface {
	// ModelPath is where SaveModel puts the symbol's artifact.
	ModelPath(symbol string) string
	SaveModel(ctx context.Context, symbol string, b []byte) (string, error)
	// LoadModel returns models.ErrModelMissing when no artifact exists.
	LoadModel(ctx context.Context, symbol string) ([]byte, error)
	SaveReport(ctx context.Context, r models.TrainingReport) (string, error)
	LoadReport(ctx context.Context) (models.TrainingReport, error)
}

// EventPublisher announces store changes.
type EventPublisher interface {
	Publish(ctx context.Context, e models.Event) error
	PublishBatch(ctx context.Context, events []models.Event) error
	Close() error
}

// CandleMirror receives a copy of every written partition.
type CandleMirror interface {
	Upsert(ctx context.Context, rows []models.Candle) error
}

type Metrics interface {
	RecordFetched(interval models.Interval, symbol string, rows int)
	RecordWritten(interval models.Interval, symbol string, rows int)
	RecordCorruptFile(interval models.Interval)
	RecordSkipped(stage, reason string)
	RecordTraining(symbol string, m models.Metrics)
	RecordPrediction(signal models.Signal)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// Clock abstracts time for pipelines that compute windows relative to now.
type Clock func() time.Time
