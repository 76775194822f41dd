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
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

// Ingestion modes.
const (
	ModeBackfill    = "backfill"
	ModeIncremental = "incremental"
)

// IngestConfig drives both ingestion modes.
type IngestConfig struct {
	Symbols []string
	// Lookback periods in provider notation ("2y", "30d", ...).
	BackfillPeriod    map[models.Interval]string
	IncrementalPeriod map[models.Interval]string
	// IncrementalWindow keeps only fetched rows newer than the newest fetched row minus
	// the window. Zero, or a day or more, keeps everything.
	IncrementalWindow map[models.Interval]time.Duration
	// RereadPartitions caps how many of the newest stored partitions are reread for a merge.
	RereadPartitions int
	DryRun           bool
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Symbols:           []string{"AAPL", "MSFT", "AMZN", "GOOGL", "META", "NVDA", "TSLA"},
		BackfillPeriod:    map[models.Interval]string{models.Interval1d: "2y", models.Interval1h: "30d"},
		IncrementalPeriod: map[models.Interval]string{models.Interval1d: "5d", models.Interval1h: "1d"},
		IncrementalWindow: map[models.Interval]time.Duration{models.Interval1h: 12 * time.Hour},
		RereadPartitions:  5,
	}
}

// SymbolResult is the per-symbol outcome of an ingestion run.
type SymbolResult struct {
	Symbol     string   `json:"symbol"`
	Fetched    int      `json:"fetched"`
	Written    int      `json:"written"`
	Partitions []string `json:"partitions,omitempty"`
	Skipped    string   `json:"skipped,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Mode     string          `json:"mode"`
	Interval models.Interval `json:"interval"`
	DryRun   bool            `json:"dry_run"`
	Symbols  []SymbolResult  `json:"symbols"`
}

// Ingestor fetches candles, merges them into the partitioned store and announces writes.
type Ingestor struct {
	md      drepo.MarketData
	store   drepo.CandleStore
	pub     drepo.EventPublisher
	mirror  drepo.CandleMirror
	metrics drepo.Metrics
	cfg     IngestConfig
	now     drepo.Clock
	l       *applogger.Logger
}

// NewIngestor wires the pipeline. pub and mirror may be nil.
func NewIngestor(
	md drepo.MarketData,
	store drepo.CandleStore,
	pub drepo.EventPublisher,
	mirror drepo.CandleMirror,
	metrics drepo.Metrics,
	cfg IngestConfig,
	l *applogger.Logger,
) *Ingestor {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Ingestor{md: md, store: store, pub: pub, mirror: mirror, metrics: metrics, cfg: cfg, now: time.Now, l: l}
}

// SetClock replaces the time source.
func (in *Ingestor) SetClock(now drepo.Clock) { in.now = now }

// Backfill fetches the long window and overwrites every partition it touches.
func (in *Ingestor) Backfill(ctx context.Context, interval models.Interval) (IngestReport, error) {
	return in.run(ctx, ModeBackfill, interval)
}

// Incremental fetches the short window and merges it with the stored partitions.
func (in *Ingestor) Incremental(ctx context.Context, interval models.Interval) (IngestReport, error) {
	return in.run(ctx, ModeIncremental, interval)
}

func (in *Ingestor) run(ctx context.Context, mode string, interval models.Interval) (IngestReport, error) {
	if !drepo.IsValidInterval(interval) {
		return IngestReport{}, fmt.Errorf("%w: %q", models.ErrInvalidInterval, interval)
	}
	rep := IngestReport{Mode: mode, Interval: interval, DryRun: in.cfg.DryRun}
	start := time.Now()
	for _, sym := range in.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := in.IngestSymbol(ctx, mode, strings.ToUpper(sym), interval)
		if err != nil {
			// one symbol never aborts the batch
			res.Error = err.Error()
			in.metrics.RecordError("ingest_" + mode)
			in.l.Error("ingest symbol failed",
				applogger.String("symbol", sym),
				applogger.String("interval", string(interval)),
				applogger.String("mode", mode),
				applogger.Error(err),
			)
		}
		rep.Symbols = append(rep.Symbols, res)
	}
	in.metrics.RecordLatency("ingest_"+mode, time.Since(start).Seconds())
	return rep, nil
}

// IngestSymbol runs one mode for one series.
func (in *Ingestor) IngestSymbol(ctx context.Context, mode, symbol string, interval models.Interval) (SymbolResult, error) {
	res := SymbolResult{Symbol: symbol}
	period := in.cfg.BackfillPeriod[interval]
	if mode == ModeIncremental {
		period = in.cfg.IncrementalPeriod[interval]
	}
	if period == "" {
		return res, fmt.Errorf("no %s period configured for %s", mode, interval)
	}

	fresh, err := in.fetch(ctx, symbol, period, interval)
	if err != nil {
		return res, err
	}
	if mode == ModeIncremental {
		fresh = recent(fresh, in.cfg.IncrementalWindow[interval])
	}
	res.Fetched = len(fresh)
	in.metrics.RecordFetched(interval, symbol, len(fresh))
	if len(fresh) == 0 {
		// nothing new: stored data stays untouched
		res.Skipped = "empty fetch"
		in.metrics.RecordSkipped("ingest", "empty_fetch")
		in.l.Info("ingest empty fetch, nothing written",
			applogger.String("symbol", symbol),
			applogger.String("interval", string(interval)),
			applogger.String("mode", mode),
		)
		return res, nil
	}

	var rows []models.Candle
	var targets map[schema.Partition]bool
	switch mode {
	case ModeBackfill:
		rows = MergeCandles(nil, fresh)
	default:
		rows, targets, err = in.mergeWithStore(ctx, symbol, interval, fresh)
		if err != nil {
			return res, err
		}
	}

	groups, keys := schema.GroupByPartition(rows)
	var events []models.Event
	for _, p := range keys {
		if targets != nil && !targets[p] {
			continue
		}
		part := groups[p]
		res.Written += len(part)
		if in.cfg.DryRun {
			res.Partitions = append(res.Partitions, p.Path())
			continue
		}
		path, err := in.store.WritePartition(ctx, p, part)
		if err != nil {
			return res, fmt.Errorf("write %s: %w", p, err)
		}
		res.Partitions = append(res.Partitions, path)
		in.metrics.RecordWritten(interval, symbol, len(part))
		in.mirrorRows(ctx, p, part)
		events = append(events, models.Event{
			ID:        uuid.NewString(),
			Type:      models.EventPartitionWritten,
			Symbol:    p.Symbol,
			Interval:  p.Interval,
			Path:      path,
			Rows:      len(part),
			Timestamp: in.now().UTC(),
		})
	}
	in.publish(ctx, symbol, interval, events)
	in.l.Info("ingest symbol done",
		applogger.String("symbol", symbol),
		applogger.String("interval", string(interval)),
		applogger.String("mode", mode),
		applogger.Int("fetched", res.Fetched),
		applogger.Int("written", res.Written),
		applogger.Int("partitions", len(res.Partitions)),
		applogger.Bool("dry_run", in.cfg.DryRun),
	)
	return res, nil
}

// fetch downloads and normalizes. An unrecognized shape counts as an empty fetch.
func (in *Ingestor) fetch(ctx context.Context, symbol, period string, interval models.Interval) ([]models.Candle, error) {
	frame, err := in.md.FetchOHLCV(ctx, symbol, period, interval)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}
	rows, err := schema.Normalize(frame, symbol, interval)
	if errors.Is(err, models.ErrSchemaMismatch) {
		in.metrics.RecordSkipped("ingest", "schema_mismatch")
		in.l.Warn("upstream shape not recognized, treating fetch as empty",
			applogger.String("symbol", symbol),
			applogger.String("interval", string(interval)),
			applogger.Error(err),
		)
		return nil, nil
	}
	return rows, err
}

// mergeWithStore rereads the partitions touched by fresh plus the newest stored ones,
// merges, and returns the merged rows with the set of partitions to rewrite.
// Only corrupt files are dropped from the merge. Any other storage failure on a
// partition that would be rewritten aborts the symbol so stored rows are never lost.
func (in *Ingestor) mergeWithStore(ctx context.Context, symbol string, interval models.Interval, fresh []models.Candle) ([]models.Candle, map[schema.Partition]bool, error) {
	_, touched := schema.GroupByPartition(fresh)
	targets := make(map[schema.Partition]bool, len(touched))
	reread := make(map[schema.Partition]bool, len(touched)+in.cfg.RereadPartitions)
	for _, p := range touched {
		targets[p] = true
		reread[p] = true
	}

	stored, err := in.store.ListPartitions(ctx, symbol, interval)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s %s partitions: %w", symbol, interval, err)
	}
	if n := in.cfg.RereadPartitions; n > 0 && len(stored) > n {
		stored = stored[len(stored)-n:]
	}
	for _, p := range stored {
		reread[p] = true
	}

	var existing []models.Candle
	ordered := make([]schema.Partition, 0, len(reread))
	for p := range reread {
		ordered = append(ordered, p)
	}
	schema.SortPartitions(ordered)
	for _, p := range ordered {
		rows, err := in.store.ReadPartition(ctx, p)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrStorageReadCorruption):
			// unreadable files are dropped from the merge; a backfill repairs them
			in.metrics.RecordCorruptFile(interval)
			in.l.Warn("corrupt partition file skipped",
				applogger.String("partition", p.String()),
				applogger.Int("rows_recovered", len(rows)),
				applogger.Error(err),
			)
		case targets[p]:
			return nil, nil, fmt.Errorf("read %s: %w", p, err)
		default:
			// not rewritten, so its rows cannot be lost
			in.l.Warn("partition read failed, continuing without it",
				applogger.String("partition", p.String()),
				applogger.Error(err),
			)
			continue
		}
		existing = append(existing, rows...)
	}
	return MergeCandles(existing, fresh), targets, nil
}

func (in *Ingestor) mirrorRows(ctx context.Context, p schema.Partition, rows []models.Candle) {
	if in.mirror == nil {
		return
	}
	if err := in.mirror.Upsert(ctx, rows); err != nil {
		in.metrics.RecordError("mirror_upsert")
		in.l.Warn("mirror upsert failed",
			applogger.String("partition", p.String()),
			applogger.Error(err),
		)
	}
}

// publish announces every partition written for one symbol in a single batch.
func (in *Ingestor) publish(ctx context.Context, symbol string, interval models.Interval, events []models.Event) {
	if in.pub == nil || len(events) == 0 {
		return
	}
	if err := in.pub.PublishBatch(ctx, events); err != nil {
		in.metrics.RecordError("event_publish")
		in.l.Warn("partition events publish failed",
			applogger.String("symbol", symbol),
			applogger.String("interval", string(interval)),
			applogger.Int("events", len(events)),
			applogger.Error(err),
		)
	}
}

// recent keeps rows strictly newer than newest-window.
func recent(rows []models.Candle, window time.Duration) []models.Candle {
	if window <= 0 || window >= 24*time.Hour || len(rows) == 0 {
		return rows
	}
	newest := rows[0].Timestamp
	for _, r := range rows[1:] {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	cut := newest.Add(-window)
	out := rows[:0:0]
	for _, r := range rows {
		if r.Timestamp.After(cut) {
			out = append(out, r)
		}
	}
	return out
}
