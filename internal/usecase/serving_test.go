package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	svccache "github.com/victorescoto/fiap-ml-finance/internal/service/cache"
	"github.com/victorescoto/fiap-ml-finance/internal/services/classifier"
	"github.com/victorescoto/fiap-ml-finance/internal/services/features"
	pkgcache "github.com/victorescoto/fiap-ml-finance/pkg/cache"
)

var serveNow = time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)

type servingFixture struct {
	env    env
	md     *fakeMarket
	store  *countingStore
	models *svccache.TTLCache
	svc    *Serving
}

func newServing(t *testing.T, latest pkgcache.Service) servingFixture {
	t.Helper()
	e := newEnv(t)
	md := &fakeMarket{rows: map[string][]models.Candle{}, errs: map[string]error{}}
	store := &countingStore{ParquetCandleStore: e.store}
	mc := svccache.NewTTLCache()
	cfg := DefaultServingConfig()
	cfg.Symbols = []string{"AAPL", "MSFT"}
	svc := NewServing(md, store, e.models, classifier.NewLogistic(), latest, mc, nopMetrics{}, cfg, nil)
	svc.SetClock(func() time.Time { return serveNow })
	return servingFixture{env: e, md: md, store: store, models: mc, svc: svc}
}

func wavy(symbol string, n int) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/2) + float64(i%3)
	}
	return series(symbol, models.Interval1d, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), day, closes...)
}

func saveModel(t *testing.T, f servingFixture, symbol string) {
	t.Helper()
	X, y := features.LabeledMatrix(features.MakeLabel(features.AddBasicFeatures(wavy(symbol, 80))))
	m, err := classifier.NewLogistic().Fit(X, y)
	require.NoError(t, err)
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	_, err = f.env.models.SaveModel(context.Background(), symbol, b)
	require.NoError(t, err)
}

func TestSignalThresholds(t *testing.T) {
	cases := []struct {
		p    float64
		want models.Signal
	}{
		{0.61, models.SignalBuy},
		{0.6, models.SignalBuy},
		{0.40, models.SignalSell},
		{0.4, models.SignalSell},
		{0.5, models.SignalHold},
		{0.59, models.SignalHold},
		{0.41, models.SignalHold},
		{1, models.SignalBuy},
		{0, models.SignalSell},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SignalFor(c.p, 0.6, 0.4), "p=%v", c.p)
	}
}

func TestPredictWithoutModelIsNeutral(t *testing.T) {
	f := newServing(t, nil)
	p, err := f.svc.Predict(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.Prediction{Symbol: "AAPL", ProbUp: 0.5, Signal: models.SignalHold, AsOf: serveNow}, p)
	assert.Zero(t, f.md.Calls(), "no market data without a model")
}

func TestPredictIsNeutralWhenModelStoreFails(t *testing.T) {
	e := newEnv(t)
	md := &fakeMarket{rows: map[string][]models.Candle{"AAPL": wavy("AAPL", 60)}}
	m := &errorMetrics{}
	cfg := DefaultServingConfig()
	cfg.Symbols = []string{"AAPL"}
	svc := NewServing(md, e.store, unreachableModels{e.models}, classifier.NewLogistic(), nil, nil, m, cfg, nil)
	svc.SetClock(func() time.Time { return serveNow })

	p, err := svc.Predict(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.Prediction{Symbol: "AAPL", ProbUp: 0.5, Signal: models.SignalHold, AsOf: serveNow}, p)
	assert.Equal(t, []string{"model_load"}, m.kinds)
	assert.Zero(t, md.Calls())
}

func TestAllowListCheckedBeforeIO(t *testing.T) {
	f := newServing(t, nil)
	ctx := context.Background()

	_, err := f.svc.GetLatest(ctx, "ZZZZ", models.Interval1d, 10)
	assert.ErrorIs(t, err, models.ErrSymbolNotAllowed)
	_, err = f.svc.Predict(ctx, "ZZZZ")
	assert.ErrorIs(t, err, models.ErrSymbolNotAllowed)
	_, err = f.svc.Predict(ctx, "aapl")
	assert.ErrorIs(t, err, models.ErrSymbolNotAllowed)

	assert.Zero(t, f.md.Calls())
	assert.Zero(t, f.store.calls)
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.svc.Symbols())
}

func TestGetLatestFromStore(t *testing.T) {
	f := newServing(t, nil)
	ctx := context.Background()
	rows := wavy("AAPL", 70) // March through early May
	groups, keys := schema.GroupByPartition(rows)
	for _, p := range keys {
		_, err := f.env.store.WritePartition(ctx, p, groups[p])
		require.NoError(t, err)
	}

	got, err := f.svc.GetLatest(ctx, "AAPL", models.Interval1d, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.True(t, got[4].Timestamp.Equal(rows[69].Timestamp))
	assert.True(t, got[0].Timestamp.Equal(rows[65].Timestamp))
	assert.Zero(t, f.md.Calls())
}

func TestGetLatestFallsBackToLiveFetch(t *testing.T) {
	f := newServing(t, nil)
	f.md.rows["AAPL"] = wavy("AAPL", 10)

	got, err := f.svc.GetLatest(context.Background(), "AAPL", models.Interval1d, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, f.md.Calls())
	assert.True(t, got[2].Timestamp.Equal(f.md.rows["AAPL"][9].Timestamp))
}

func TestGetLatestEmptyEverywhere(t *testing.T) {
	f := newServing(t, nil)
	_, err := f.svc.GetLatest(context.Background(), "AAPL", models.Interval1h, 3)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)

	f.md.errs["MSFT"] = errors.New("boom")
	_, err = f.svc.GetLatest(context.Background(), "MSFT", models.Interval1d, 3)
	assert.Error(t, err)
}

func TestGetLatestCachedUntilPartitionWritten(t *testing.T) {
	mem := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	f := newServing(t, mem)
	ctx := context.Background()
	f.md.rows["AAPL"] = wavy("AAPL", 10)

	first, err := f.svc.GetLatest(ctx, "AAPL", models.Interval1d, 4)
	require.NoError(t, err)
	calls := f.store.calls

	second, err := f.svc.GetLatest(ctx, "AAPL", models.Interval1d, 4)
	require.NoError(t, err)
	assert.Equal(t, calls, f.store.calls, "served from cache")
	require.Len(t, second, len(first))
	assert.True(t, first[3].Timestamp.Equal(second[3].Timestamp))

	require.NoError(t, f.svc.Invalidate(ctx, models.Event{Type: models.EventPartitionWritten, Symbol: "AAPL", Interval: models.Interval1d}))
	_, err = f.svc.GetLatest(ctx, "AAPL", models.Interval1d, 4)
	require.NoError(t, err)
	assert.Greater(t, f.store.calls, calls)
}

func TestPredictScoresNewestRow(t *testing.T) {
	f := newServing(t, nil)
	ctx := context.Background()
	saveModel(t, f, "AAPL")
	f.md.rows["AAPL"] = wavy("AAPL", 40)

	p, err := f.svc.Predict(ctx, "AAPL")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.ProbUp, 0.0)
	assert.LessOrEqual(t, p.ProbUp, 1.0)
	assert.Equal(t, SignalFor(p.ProbUp, 0.6, 0.4), p.Signal)
	assert.Equal(t, serveNow, p.AsOf)
	assert.Equal(t, 1, f.md.Calls())

	_, cached := f.models.GetBytes(svccache.ModelKey("AAPL"))
	assert.True(t, cached)
	require.NoError(t, f.svc.Invalidate(ctx, models.Event{Type: models.EventModelTrained, Symbol: "AAPL"}))
	_, cached = f.models.GetBytes(svccache.ModelKey("AAPL"))
	assert.False(t, cached)
}

func TestPredictFallsBackToStoredDaily(t *testing.T) {
	f := newServing(t, nil)
	ctx := context.Background()
	saveModel(t, f, "MSFT")
	rows := wavy("MSFT", 40)
	groups, keys := schema.GroupByPartition(rows)
	for _, p := range keys {
		_, err := f.env.store.WritePartition(ctx, p, groups[p])
		require.NoError(t, err)
	}
	f.md.errs["MSFT"] = errors.New("upstream down")

	p, err := f.svc.Predict(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", p.Symbol)
	assert.Contains(t, []models.Signal{models.SignalBuy, models.SignalSell, models.SignalHold}, p.Signal)
}

func TestPredictTooFewCandles(t *testing.T) {
	f := newServing(t, nil)
	saveModel(t, f, "AAPL")
	f.md.rows["AAPL"] = wavy("AAPL", 15)

	_, err := f.svc.Predict(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}
