package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	drepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/domain/service"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	svccache "github.com/victorescoto/fiap-ml-finance/internal/service/cache"
	"github.com/victorescoto/fiap-ml-finance/internal/services/features"
	pkgcache "github.com/victorescoto/fiap-ml-finance/pkg/cache"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

const latestCachePrefix = "latest"

// ServingConfig configures the read side.
type ServingConfig struct {
	Symbols       []string
	BuyThreshold  float64
	SellThreshold float64
	// PredictPeriod is the daily window fetched to score the newest feature row.
	PredictPeriod string
	// LatestPeriod is the live-fetch window used when the store has nothing.
	LatestPeriod map[models.Interval]string
	LatestTTL    time.Duration
	ModelTTL     time.Duration
}

func DefaultServingConfig() ServingConfig {
	return ServingConfig{
		Symbols:       DefaultIngestConfig().Symbols,
		BuyThreshold:  0.6,
		SellThreshold: 0.4,
		PredictPeriod: "2mo",
		LatestPeriod:  map[models.Interval]string{models.Interval1d: "1y", models.Interval1h: "1mo"},
		LatestTTL:     time.Minute,
		ModelTTL:      10 * time.Minute,
	}
}

// Serving answers /latest and /predict.
type Serving struct {
	md      drepo.MarketData
	store   drepo.CandleStore
	models  drepo.ModelStore
	clf     service.Classifier
	latest  pkgcache.Service
	modelC  svccache.BytesCache
	metrics drepo.Metrics
	cfg     ServingConfig
	allowed map[string]bool
	now     drepo.Clock
	l       *applogger.Logger
}

// NewServing builds the read side. latest and modelCache may be nil.
func NewServing(
	md drepo.MarketData,
	store drepo.CandleStore,
	modelStore drepo.ModelStore,
	clf service.Classifier,
	latest pkgcache.Service,
	modelCache svccache.BytesCache,
	metrics drepo.Metrics,
	cfg ServingConfig,
	l *applogger.Logger,
) *Serving {
	if l == nil {
		l = applogger.NewNop()
	}
	allowed := make(map[string]bool, len(cfg.Symbols))
	syms := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || allowed[s] {
			continue
		}
		allowed[s] = true
		syms = append(syms, s)
	}
	cfg.Symbols = syms
	return &Serving{
		md: md, store: store, models: modelStore, clf: clf,
		latest: latest, modelC: modelCache, metrics: metrics,
		cfg: cfg, allowed: allowed, now: time.Now, l: l,
	}
}

// SetClock replaces the time source for the asof stamp.
func (s *Serving) SetClock(now drepo.Clock) { s.now = now }

// Symbols returns the allow-list in configured order.
func (s *Serving) Symbols() []string {
	return append([]string(nil), s.cfg.Symbols...)
}

// Allowed reports whether symbol is in the allow-list. Matching is exact.
func (s *Serving) Allowed(symbol string) bool { return s.allowed[symbol] }

// SignalFor maps a probability to a signal. Both bounds are inclusive.
func SignalFor(p, buy, sell float64) models.Signal {
	switch {
	case p >= buy:
		return models.SignalBuy
	case p <= sell:
		return models.SignalSell
	default:
		return models.SignalHold
	}
}

// LatestKey is the cache key of a /latest answer.
func LatestKey(symbol string, interval models.Interval, limit int) string {
	return pkgcache.Key(latestCachePrefix, symbol, interval, limit)
}

// LatestPattern matches every cached /latest answer of a series.
func LatestPattern(symbol string, interval models.Interval) string {
	return pkgcache.Pattern(pkgcache.Key(latestCachePrefix, symbol, interval) + ":")
}

// GetLatest returns the newest limit candles, ascending. The store is tried first
// and a live fetch is the fallback.
func (s *Serving) GetLatest(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	if !s.Allowed(symbol) {
		return nil, fmt.Errorf("%w: %s", models.ErrSymbolNotAllowed, symbol)
	}
	if !drepo.IsValidInterval(interval) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidInterval, interval)
	}
	if limit <= 0 {
		limit = 120
	}
	start := time.Now()
	defer func() { s.metrics.RecordLatency("latest", time.Since(start).Seconds()) }()

	key := LatestKey(symbol, interval, limit)
	if s.latest != nil {
		var cached []models.Candle
		if err := s.latest.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	rows, err := s.storedTail(ctx, symbol, interval, limit)
	if err != nil || len(rows) == 0 {
		if err != nil {
			s.l.Warn("stored candles unavailable, fetching live",
				applogger.String("symbol", symbol),
				applogger.String("interval", string(interval)),
				applogger.Error(err),
			)
		}
		rows, err = s.live(ctx, symbol, s.cfg.LatestPeriod[interval], interval)
		if err != nil {
			s.metrics.RecordError("latest_fetch")
			return nil, err
		}
		rows = Tail(rows, limit)
	}

	if s.latest != nil && s.cfg.LatestTTL > 0 {
		if err := s.latest.Set(ctx, key, rows, s.cfg.LatestTTL); err != nil {
			s.l.Warn("latest cache set failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return rows, nil
}

// storedTail reads partitions newest first until limit rows are collected.
func (s *Serving) storedTail(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	parts, err := s.store.ListPartitions(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	var rows []models.Candle
	for i := len(parts) - 1; i >= 0 && len(rows) < limit; i-- {
		got, err := s.store.ReadPartition(ctx, parts[i])
		if err != nil {
			s.l.Warn("partition read failed", applogger.String("partition", parts[i].String()), applogger.Error(err))
		}
		rows = append(got, rows...)
	}
	return Tail(MergeCandles(nil, rows), limit), nil
}

// live fetches and normalizes a window. Empty results are ErrUpstreamUnavailable.
func (s *Serving) live(ctx context.Context, symbol, period string, interval models.Interval) ([]models.Candle, error) {
	if period == "" {
		period = "1mo"
	}
	frame, err := s.md.FetchOHLCV(ctx, symbol, period, interval)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}
	rows, err := schema.Normalize(frame, symbol, interval)
	if err != nil && !errors.Is(err, models.ErrSchemaMismatch) {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no %s candles for %s", models.ErrUpstreamUnavailable, interval, symbol)
	}
	return MergeCandles(nil, rows), nil
}

// Predict scores the newest daily feature row. When no model can be loaded the answer
// is the neutral probability and no market data is fetched.
func (s *Serving) Predict(ctx context.Context, symbol string) (models.Prediction, error) {
	if !s.Allowed(symbol) {
		return models.Prediction{}, fmt.Errorf("%w: %s", models.ErrSymbolNotAllowed, symbol)
	}
	start := time.Now()
	defer func() { s.metrics.RecordLatency("predict", time.Since(start).Seconds()) }()

	model, err := s.loadModel(ctx, symbol)
	if err != nil {
		if !errors.Is(err, models.ErrModelMissing) {
			s.metrics.RecordError("model_load")
			s.l.Warn("model load failed, serving neutral prediction",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		s.metrics.RecordPrediction(models.SignalHold)
		return models.Prediction{Symbol: symbol, ProbUp: models.NeutralProbability, Signal: models.SignalHold, AsOf: s.now().UTC()}, nil
	}

	candles, err := s.live(ctx, symbol, s.cfg.PredictPeriod, models.Interval1d)
	if err != nil {
		s.l.Warn("daily fetch for inference failed, using stored candles",
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		stored, serr := s.storedTail(ctx, symbol, models.Interval1d, 3*features.Longest)
		if serr != nil || len(stored) == 0 {
			s.metrics.RecordError("predict_fetch")
			return models.Prediction{}, err
		}
		candles = stored
	}

	rows := features.AddBasicFeatures(candles)
	if len(rows) == 0 {
		return models.Prediction{}, fmt.Errorf("%w: %d daily candles for %s", models.ErrInsufficientData, len(candles), symbol)
	}
	probs, err := model.PredictProba(features.Matrix(rows[len(rows)-1:]))
	if err != nil {
		return models.Prediction{}, fmt.Errorf("score %s: %w", symbol, err)
	}
	p := probs[0]
	sig := SignalFor(p, s.cfg.BuyThreshold, s.cfg.SellThreshold)
	s.metrics.RecordPrediction(sig)
	return models.Prediction{Symbol: symbol, ProbUp: p, Signal: sig, AsOf: s.now().UTC()}, nil
}

func (s *Serving) loadModel(ctx context.Context, symbol string) (service.Model, error) {
	key := svccache.ModelKey(symbol)
	if s.modelC != nil {
		if b, ok := s.modelC.GetBytes(key); ok {
			if m, err := s.clf.Unmarshal(b); err == nil {
				return m, nil
			}
			s.modelC.Delete(key)
		}
	}
	b, err := s.models.LoadModel(ctx, symbol)
	if err != nil {
		return nil, err
	}
	m, err := s.clf.Unmarshal(b)
	if err != nil {
		// an unreadable artifact serves like a missing one
		s.l.Warn("model artifact unreadable", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrModelMissing, err)
	}
	if s.modelC != nil && s.cfg.ModelTTL > 0 {
		s.modelC.SetBytes(key, b, s.cfg.ModelTTL)
	}
	return m, nil
}

// Invalidate drops cached answers after the store changed.
func (s *Serving) Invalidate(ctx context.Context, e models.Event) error {
	switch e.Type {
	case models.EventModelTrained:
		if s.modelC != nil {
			s.modelC.Delete(svccache.ModelKey(e.Symbol))
		}
	case models.EventPartitionWritten:
		if s.latest != nil {
			return s.latest.DeleteByPattern(ctx, LatestPattern(e.Symbol, e.Interval))
		}
	}
	return nil
}
