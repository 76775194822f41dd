package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
)

func newIngestor(e env, md *fakeMarket, pub *recordingPublisher, symbols ...string) *Ingestor {
	cfg := DefaultIngestConfig()
	cfg.Symbols = symbols
	in := NewIngestor(md, e.store, nil, nil, nopMetrics{}, cfg, nil)
	if pub != nil {
		in.pub = pub
	}
	return in
}

func readAll(t *testing.T, e env, symbol string, iv models.Interval) []models.Candle {
	t.Helper()
	ctx := context.Background()
	parts, err := e.store.ListPartitions(ctx, symbol, iv)
	require.NoError(t, err)
	var out []models.Candle
	for _, p := range parts {
		rows, err := e.store.ReadPartition(ctx, p)
		require.NoError(t, err)
		out = append(out, rows...)
	}
	return out
}

func TestIncrementalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC)
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": series("AAPL", models.Interval1d, start, day, ascending(10, 100)...)}}
	in := newIngestor(e, md, nil, "AAPL")

	_, err := in.Incremental(ctx, models.Interval1d)
	require.NoError(t, err)
	once := readAll(t, e, "AAPL", models.Interval1d)
	firstFile, err := e.obj.Get(ctx, "prices_1d/interval=1d/symbol=AAPL/year=2024/month=5/data.parquet")
	require.NoError(t, err)

	_, err = in.Incremental(ctx, models.Interval1d)
	require.NoError(t, err)
	twice := readAll(t, e, "AAPL", models.Interval1d)
	secondFile, err := e.obj.Get(ctx, "prices_1d/interval=1d/symbol=AAPL/year=2024/month=5/data.parquet")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, firstFile, secondFile)
	require.Len(t, twice, 10)
	for i := 1; i < len(twice); i++ {
		assert.True(t, twice[i].Timestamp.After(twice[i-1].Timestamp))
	}
}

func TestIncrementalMergesWithStoredRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	old := series("AAPL", models.Interval1d, start, day, 10, 11, 12)
	_, err := e.store.WritePartition(ctx, schema.PartitionFor(old[0]), old)
	require.NoError(t, err)

	// overlaps the last stored day with a revised close
	fresh := series("AAPL", models.Interval1d, start.Add(2*day), day, 50, 13)
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": fresh}}
	pub := &recordingPublisher{}
	rep, err := newIngestor(e, md, pub, "AAPL").Incremental(ctx, models.Interval1d)
	require.NoError(t, err)

	got := readAll(t, e, "AAPL", models.Interval1d)
	require.Len(t, got, 4)
	assert.Equal(t, []float64{10, 11, 50, 13}, []float64{got[0].Close, got[1].Close, got[2].Close, got[3].Close})

	require.Len(t, rep.Symbols, 1)
	assert.Equal(t, 2, rep.Symbols[0].Fetched)
	assert.Equal(t, 4, rep.Symbols[0].Written)
	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventPartitionWritten, pub.events[0].Type)
	assert.Equal(t, "AAPL", pub.events[0].Symbol)
	assert.Equal(t, 4, pub.events[0].Rows)
}

func TestIncrementalRewritesOnlyTouchedPartitions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	april := series("AAPL", models.Interval1d, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), day, 1, 2)
	_, err := e.store.WritePartition(ctx, schema.PartitionFor(april[0]), april)
	require.NoError(t, err)
	before, err := e.obj.List(ctx, "prices_1d/interval=1d/symbol=AAPL/year=2024/month=4/")
	require.NoError(t, err)
	require.Len(t, before, 1)

	may := series("AAPL", models.Interval1d, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), day, 3, 4)
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": may}}
	rep, err := newIngestor(e, md, nil, "AAPL").Incremental(ctx, models.Interval1d)
	require.NoError(t, err)
	require.Len(t, rep.Symbols[0].Partitions, 1)
	assert.Contains(t, rep.Symbols[0].Partitions[0], "month=5/")

	after, err := e.obj.List(ctx, "prices_1d/interval=1d/symbol=AAPL/year=2024/month=4/")
	require.NoError(t, err)
	assert.Equal(t, before[0].LastModified, after[0].LastModified)
	assert.Len(t, readAll(t, e, "AAPL", models.Interval1d), 4)
}

func TestIncrementalSkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	old := series("AAPL", models.Interval1d, start, day, 10, 11)
	p := schema.PartitionFor(old[0])
	_, err := e.store.WritePartition(ctx, p, old)
	require.NoError(t, err)
	require.NoError(t, e.obj.Put(ctx, p.Prefix()+"part-0001.parquet", []byte("definitely not parquet")))

	_, err = e.store.ReadPartition(ctx, p)
	require.ErrorIs(t, err, models.ErrStorageReadCorruption)

	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": series("AAPL", models.Interval1d, start.Add(2*day), day, 12)}}
	rep, err := newIngestor(e, md, nil, "AAPL").Incremental(ctx, models.Interval1d)
	require.NoError(t, err)
	assert.Empty(t, rep.Symbols[0].Error)

	got, err := e.store.ReadPartition(ctx, p)
	require.NoError(t, err, "the rewrite drops the unreadable file")
	assert.Len(t, got, 3)
}

func TestEmptyFetchWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	md := &fakeMarket{rows: map[string][]models.Candle{}}
	rep, err := newIngestor(e, md, nil, "AAPL").Backfill(ctx, models.Interval1d)
	require.NoError(t, err)
	require.Len(t, rep.Symbols, 1)
	assert.Equal(t, "empty fetch", rep.Symbols[0].Skipped)

	objs, err := e.obj.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestSymbolFailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	md := &fakeMarket{
		rows: map[string][]models.Candle{"MSFT": series("MSFT", models.Interval1d, start, day, 1, 2)},
		errs: map[string]error{"AAPL": errors.New("connection reset")},
	}
	rep, err := newIngestor(e, md, nil, "AAPL", "MSFT").Backfill(ctx, models.Interval1d)
	require.NoError(t, err)
	require.Len(t, rep.Symbols, 2)
	assert.Contains(t, rep.Symbols[0].Error, "connection reset")
	assert.Equal(t, 2, rep.Symbols[1].Written)
	assert.Len(t, readAll(t, e, "MSFT", models.Interval1d), 2)
}

func TestHourlyIncrementalKeepsRecentWindow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	// 24 hourly bars; a 12h window keeps the 12 newest
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": series("AAPL", models.Interval1h, start, time.Hour, ascending(24, 1)...)}}
	rep, err := newIngestor(e, md, nil, "AAPL").Incremental(ctx, models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Symbols[0].Fetched)

	got := readAll(t, e, "AAPL", models.Interval1h)
	require.Len(t, got, 12)
	assert.Equal(t, 13.0, got[0].Close)
	assert.Equal(t, models.Interval1h, got[0].Interval)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": series("AAPL", models.Interval1d, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), day, 1, 2)}}
	in := newIngestor(e, md, nil, "AAPL")
	in.cfg.DryRun = true

	rep, err := in.Backfill(ctx, models.Interval1d)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 2, rep.Symbols[0].Written)
	objs, err := e.obj.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestRejectsUnknownInterval(t *testing.T) {
	_, err := newIngestor(newEnv(t), &fakeMarket{}, nil, "AAPL").Backfill(context.Background(), "5m")
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
}

func TestIncrementalKeepsStoredRowsWhenStorageFails(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for name, store := range map[string]func(env) *flakyStore{
		"read": func(e env) *flakyStore {
			return &flakyStore{ParquetCandleStore: e.store, readErr: errors.New("read: connection reset by peer")}
		},
		"list": func(e env) *flakyStore {
			return &flakyStore{ParquetCandleStore: e.store, listErr: errors.New("list: i/o timeout")}
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			old := series("AAPL", models.Interval1d, start, day, 10, 11, 12)
			_, err := e.store.WritePartition(ctx, schema.PartitionFor(old[0]), old)
			require.NoError(t, err)

			md := &fakeMarket{rows: map[string][]models.Candle{
				"AAPL": series("AAPL", models.Interval1d, start.Add(3*day), day, 13),
			}}
			pub := &recordingPublisher{}
			in := NewIngestor(md, store(e), pub, nil, nopMetrics{}, DefaultIngestConfig(), nil)
			in.cfg.Symbols = []string{"AAPL"}

			rep, err := in.Incremental(ctx, models.Interval1d)
			require.NoError(t, err)
			require.Len(t, rep.Symbols, 1)
			assert.NotEmpty(t, rep.Symbols[0].Error)
			assert.Zero(t, rep.Symbols[0].Written)
			assert.Empty(t, pub.events)

			got := readAll(t, e, "AAPL", models.Interval1d)
			require.Len(t, got, 3)
			assert.Equal(t, []float64{10, 11, 12}, []float64{got[0].Close, got[1].Close, got[2].Close})
		})
	}
}
