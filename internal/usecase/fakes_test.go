package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	"github.com/victorescoto/fiap-ml-finance/pkg/storage"
)

type nopMetrics struct{}

func (nopMetrics) RecordFetched(models.Interval, string, int) {}
func (nopMetrics) RecordWritten(models.Interval, string, int) {}
func (nopMetrics) RecordCorruptFile(models.Interval) {}
func (nopMetrics) RecordSkipped(string, string) {}
func (nopMetrics) RecordTraining(string, models.Metrics) {}
func (nopMetrics) RecordPrediction(models.Signal) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, float64) {}

// fakeMarket serves canned candles per symbol and counts calls.
type fakeMarket struct {
	mu    sync.Mutex
	rows  map[string][]models.Candle
	errs  map[string]error
	calls int
}

func (f *fakeMarket) FetchOHLCV(_ context.Context, symbol, _ string, _ models.Interval) (*schema.RawFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return frameOf(f.rows[symbol]), nil
}

func (f *fakeMarket) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// frameOf renders candles the way the chart adapter does: flat headers.
func frameOf(rows []models.Candle) *schema.RawFrame {
	if len(rows) == 0 {
		return &schema.RawFrame{}
	}
	cols := []schema.Column{
		{Name: []string{"Date"}}, {Name: []string{"Open"}}, {Name: []string{"High"}},
		{Name: []string{"Low"}}, {Name: []string{"Close"}}, {Name: []string{"Volume"}},
	}
	for _, r := range rows {
		cols[0].Values = append(cols[0].Values, r.Timestamp)
		cols[1].Values = append(cols[1].Values, r.Open)
		cols[2].Values = append(cols[2].Values, r.High)
		cols[3].Values = append(cols[3].Values, r.Low)
		cols[4].Values = append(cols[4].Values, r.Close)
		cols[5].Values = append(cols[5].Values, r.Volume)
	}
	return &schema.RawFrame{Columns: cols}
}

// countingStore wraps a candle store and counts every call.
type countingStore struct {
	*repository.ParquetCandleStore
	mu    sync.Mutex
	calls int
}

func (c *countingStore) bump() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingStore) ListPartitions(ctx context.Context, symbol string, iv models.Interval) ([]schema.Partition, error) {
	c.bump()
	return c.ParquetCandleStore.ListPartitions(ctx, symbol, iv)
}

func (c *countingStore) ReadPartition(ctx context.Context, p schema.Partition) ([]models.Candle, error) {
	c.bump()
	return c.ParquetCandleStore.ReadPartition(ctx, p)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type env struct {
	obj    *storage.LocalStore
	store  *repository.ParquetCandleStore
	models *repository.ObjectModelStore
}

func newEnv(t *testing.T) env {
	t.Helper()
	obj, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return env{obj: obj, store: repository.NewParquetCandleStore(obj), models: repository.NewObjectModelStore(obj)}
}

func series(symbol string, iv models.Interval, start time.Time, step time.Duration, closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * step),
			Symbol:    symbol,
			Interval:  iv,
			Open:      c, High: c + 1, Low: c - 1, Close: c, Volume: 1000 + float64(i),
		}
	}
	return out
}

func ascending(n int, from float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)
	}
	return out
}

const day = 24 * time.Hour

// flakyStore fails reads or listings the way a dropped connection does.
type flakyStore struct {
	*repository.ParquetCandleStore
	readErr error
	listErr error
}

func (f *flakyStore) ListPartitions(ctx context.Context, symbol string, iv models.Interval) ([]schema.Partition, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.ParquetCandleStore.ListPartitions(ctx, symbol, iv)
}

func (f *flakyStore) ReadPartition(ctx context.Context, p schema.Partition) ([]models.Candle, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.ParquetCandleStore.ReadPartition(ctx, p)
}

// errorMetrics remembers the error kinds it was given.
type errorMetrics struct {
	nopMetrics
	mu    sync.Mutex
	kinds []string
}

func (m *errorMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
}

// unreachableModels fails every model read like an object store that timed out.
type unreachableModels struct {
	*repository.ObjectModelStore
}

func (unreachableModels) LoadModel(context.Context, string) ([]byte, error) {
	return nil, errors.New("dial tcp: i/o timeout")
}
