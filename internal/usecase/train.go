package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	drepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/domain/service"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	"github.com/victorescoto/fiap-ml-finance/internal/services/classifier"
	"github.com/victorescoto/fiap-ml-finance/internal/services/features"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

// TrainConfig drives the daily training job.
type TrainConfig struct {
	Symbols        []string
	LookbackMonths int
	MinRows        int
	// TestWindow is the holdout: rows newer than max(ts)-TestWindow are test rows.
	TestWindow time.Duration
	DryRun     bool
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Symbols:        DefaultIngestConfig().Symbols,
		LookbackMonths: 12,
		MinRows:        200,
		TestWindow:     90 * 24 * time.Hour,
	}
}

// Trainer fits one classifier per symbol on the stored daily candles.
type Trainer struct {
	store   drepo.CandleStore
	models  drepo.ModelStore
	clf     service.Classifier
	pub     drepo.EventPublisher
	metrics drepo.Metrics
	cfg     TrainConfig
	now     drepo.Clock
	l       *applogger.Logger
}

func NewTrainer(
	store drepo.CandleStore,
	modelStore drepo.ModelStore,
	clf service.Classifier,
	pub drepo.EventPublisher,
	metrics drepo.Metrics,
	cfg TrainConfig,
	l *applogger.Logger,
) *Trainer {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Trainer{store: store, models: modelStore, clf: clf, pub: pub, metrics: metrics, cfg: cfg, now: time.Now, l: l}
}

// SetClock replaces the time source used for the lookback window.
func (t *Trainer) SetClock(now drepo.Clock) { t.now = now }

// Run trains every configured symbol and writes the report. Symbols without enough
// data are left out of the report. The returned path is empty on a dry run.
func (t *Trainer) Run(ctx context.Context) (models.TrainingReport, string, error) {
	start := time.Now()
	report := models.TrainingReport{}
	for _, raw := range t.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return report, "", err
		}
		sym := strings.ToUpper(raw)
		entry, err := t.TrainSymbol(ctx, sym)
		switch {
		case err == nil:
			report[sym] = entry
		case errors.Is(err, models.ErrInsufficientData):
			t.metrics.RecordSkipped("train", "insufficient_data")
			t.l.Info("training skipped", applogger.String("symbol", sym), applogger.String("reason", err.Error()))
		default:
			t.metrics.RecordError("train")
			t.l.Error("training failed", applogger.String("symbol", sym), applogger.Error(err))
		}
	}
	t.metrics.RecordLatency("train", time.Since(start).Seconds())

	if t.cfg.DryRun {
		return report, "", nil
	}
	path, err := t.models.SaveReport(ctx, report)
	if err != nil {
		return report, "", fmt.Errorf("save training report: %w", err)
	}
	t.l.Info("training report written",
		applogger.String("path", path),
		applogger.Int("symbols", len(report)),
		applogger.Duration("took", time.Since(start)),
	)
	return report, path, nil
}

// TrainSymbol fits and evaluates one symbol. It returns an error wrapping
// models.ErrInsufficientData when the series is too short to split.
func (t *Trainer) TrainSymbol(ctx context.Context, symbol string) (models.ReportEntry, error) {
	candles, err := t.loadDaily(ctx, symbol)
	if err != nil {
		return models.ReportEntry{}, err
	}
	if len(candles) < t.cfg.MinRows {
		return models.ReportEntry{}, fmt.Errorf("%w: %d rows, need %d", models.ErrInsufficientData, len(candles), t.cfg.MinRows)
	}

	labeled := features.MakeLabel(features.AddBasicFeatures(candles))
	if len(labeled) == 0 {
		return models.ReportEntry{}, fmt.Errorf("%w: no complete feature rows", models.ErrInsufficientData)
	}
	train, test := SplitByTime(labeled, t.cfg.TestWindow)
	if len(train) == 0 || len(test) == 0 {
		return models.ReportEntry{}, fmt.Errorf("%w: split train=%d test=%d", models.ErrInsufficientData, len(train), len(test))
	}

	X, y := features.LabeledMatrix(train)
	model, err := t.clf.Fit(X, y)
	if err != nil {
		return models.ReportEntry{}, fmt.Errorf("fit %s: %w", symbol, err)
	}
	Xt, yt := features.LabeledMatrix(test)
	pred, err := model.Predict(Xt)
	if err != nil {
		return models.ReportEntry{}, fmt.Errorf("evaluate %s: %w", symbol, err)
	}
	m := classifier.Evaluate(yt, pred)
	t.metrics.RecordTraining(symbol, m)

	entry := models.ReportEntry{Metrics: m, ModelPath: t.models.ModelPath(symbol), TrainRows: len(train), TestRows: len(test)}
	if t.cfg.DryRun {
		t.l.Info("dry run, model not saved", applogger.String("symbol", symbol), applogger.Float64("accuracy", m.Accuracy))
		return entry, nil
	}

	b, err := model.MarshalBinary()
	if err != nil {
		return models.ReportEntry{}, fmt.Errorf("encode model %s: %w", symbol, err)
	}
	path, err := t.models.SaveModel(ctx, symbol, b)
	if err != nil {
		return models.ReportEntry{}, fmt.Errorf("save model %s: %w", symbol, err)
	}
	entry.ModelPath = path
	t.l.Info("model trained",
		applogger.String("symbol", symbol),
		applogger.Int("train_rows", len(train)),
		applogger.Int("test_rows", len(test)),
		applogger.Float64("accuracy", m.Accuracy),
		applogger.Float64("f1", m.F1),
		applogger.String("path", path),
	)
	if t.pub != nil {
		ev := models.Event{ID: uuid.NewString(), Type: models.EventModelTrained, Symbol: symbol, Interval: models.Interval1d, Path: path, Timestamp: t.now().UTC()}
		if err := t.pub.Publish(ctx, ev); err != nil {
			t.metrics.RecordError("event_publish")
			t.l.Warn("model event publish failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	return entry, nil
}

// loadDaily reads the daily partitions inside the lookback window, sorted and deduplicated.
func (t *Trainer) loadDaily(ctx context.Context, symbol string) ([]models.Candle, error) {
	parts, err := t.store.ListPartitions(ctx, symbol, models.Interval1d)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", symbol, err)
	}
	var cutoff time.Time
	if t.cfg.LookbackMonths > 0 {
		cutoff = t.now().UTC().AddDate(0, -t.cfg.LookbackMonths, 0)
	}
	first := schema.Partition{Year: cutoff.Year(), Month: int(cutoff.Month())}

	var rows []models.Candle
	for _, p := range parts {
		if !cutoff.IsZero() && (p.Year < first.Year || (p.Year == first.Year && p.Month < first.Month)) {
			continue
		}
		got, err := t.store.ReadPartition(ctx, p)
		if err != nil {
			if !errors.Is(err, models.ErrStorageReadCorruption) {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			t.metrics.RecordCorruptFile(models.Interval1d)
			t.l.Warn("corrupt partition file skipped, training without it",
				applogger.String("partition", p.String()),
				applogger.Error(err),
			)
		}
		rows = append(rows, got...)
	}
	if !cutoff.IsZero() {
		rows = since(rows, cutoff)
	}
	return MergeCandles(nil, rows), nil
}

// since keeps rows at or after cutoff, preserving order.
func since(rows []models.Candle, cutoff time.Time) []models.Candle {
	out := rows[:0:0]
	for _, r := range rows {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// SplitByTime puts rows at or before max(ts)-window into train and the rest into test.
// Rows must be ascending by timestamp.
func SplitByTime(rows []models.LabeledRow, window time.Duration) (train, test []models.LabeledRow) {
	if len(rows) == 0 {
		return nil, nil
	}
	cut := rows[len(rows)-1].Timestamp.Add(-window)
	for _, r := range rows {
		if r.Timestamp.After(cut) {
			test = append(test, r)
		} else {
			train = append(train, r)
		}
	}
	return train, test
}
