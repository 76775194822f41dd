package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	svcmetrics "github.com/victorescoto/fiap-ml-finance/internal/service/metrics"
	pkgcache "github.com/victorescoto/fiap-ml-finance/pkg/cache"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/queue"
)

// Job names accepted by Dispatch.
const (
	JobIngest1d   = "ingest_1d"
	JobIngest1h   = "ingest_1h"
	JobBackfill1d = "backfill_1d"
	JobBackfill1h = "backfill_1h"
	JobTrainDaily = "train_daily"
)

const (
	StatusOK   = "ok"
	StatusNoop = "noop"
)

// JobNames lists every runnable job.
var JobNames = []string{JobIngest1d, JobIngest1h, JobBackfill1d, JobBackfill1h, JobTrainDaily}

// ErrJobRunning means another run of the same job holds the lock.
var ErrJobRunning = errors.New("job already running")

// JobResult is what a dispatched job reports back.
type JobResult struct {
	Status string `json:"status"`
	Job    string `json:"job"`
	Result any    `json:"result,omitempty"`
}

// JobRunner maps job names to pipeline runs. Runs of the same job never overlap
// when a lock service is configured.
type JobRunner struct {
	ingest  *Ingestor
	train   *Trainer
	lock    pkgcache.Locker
	lockTTL time.Duration
	l       *applogger.Logger
}

// NewJobRunner builds the dispatcher. lock may be nil.
func NewJobRunner(ingest *Ingestor, train *Trainer, lock pkgcache.Locker, lockTTL time.Duration, l *applogger.Logger) *JobRunner {
	if l == nil {
		l = applogger.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	svcmetrics.Register()
	return &JobRunner{ingest: ingest, train: train, lock: lock, lockTTL: lockTTL, l: l}
}

// Dispatch runs the named job. Unknown names are a noop, not an error.
func (r *JobRunner) Dispatch(ctx context.Context, name string) (JobResult, error) {
	run, ok := r.lookup(name)
	if !ok {
		r.l.Warn("unknown job, nothing to do", applogger.String("job", name))
		svcmetrics.JobRuns.WithLabelValues("unknown", StatusNoop).Inc()
		return JobResult{Status: StatusNoop, Job: name}, nil
	}

	if r.lock != nil {
		key := "lock:job:" + name
		unlock, err := r.lock.TryLock(ctx, key, r.lockTTL)
		if errors.Is(err, pkgcache.ErrLocked) {
			svcmetrics.JobRuns.WithLabelValues(name, "locked").Inc()
			return JobResult{Job: name}, fmt.Errorf("%w: %s", ErrJobRunning, name)
		}
		if err != nil {
			return JobResult{Job: name}, fmt.Errorf("acquire %s lock: %w", name, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.l.Warn("job unlock failed", applogger.String("job", name), applogger.Error(err))
			}
		}()
	}

	start := time.Now()
	res, err := run(ctx)
	svcmetrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		svcmetrics.JobRuns.WithLabelValues(name, "error").Inc()
		r.l.Error("job failed", applogger.String("job", name), applogger.Error(err))
		return JobResult{Job: name}, err
	}
	svcmetrics.JobRuns.WithLabelValues(name, StatusOK).Inc()
	r.l.Info("job finished", applogger.String("job", name), applogger.Duration("took", time.Since(start)))
	return JobResult{Status: StatusOK, Job: name, Result: res}, nil
}

func (r *JobRunner) lookup(name string) (func(context.Context) (any, error), bool) {
	switch name {
	case JobIngest1d:
		return func(ctx context.Context) (any, error) { return r.ingest.Incremental(ctx, models.Interval1d) }, true
	case JobIngest1h:
		return func(ctx context.Context) (any, error) { return r.ingest.Incremental(ctx, models.Interval1h) }, true
	case JobBackfill1d:
		return func(ctx context.Context) (any, error) { return r.ingest.Backfill(ctx, models.Interval1d) }, true
	case JobBackfill1h:
		return func(ctx context.Context) (any, error) { return r.ingest.Backfill(ctx, models.Interval1h) }, true
	case JobTrainDaily:
		return func(ctx context.Context) (any, error) {
			rep, path, err := r.train.Run(ctx)
			return map[string]any{"report": rep, "path": path}, err
		}, true
	}
	return nil, false
}

// JobRequest is the queue payload of a pipeline job.
type JobRequest struct {
	Job string `json:"job"`
}

// PipelineJob runs one named job from the Redis queue.
type PipelineJob struct {
	name   string
	runner *JobRunner
}

var _ queue.Job = (*PipelineJob)(nil)

func (j *PipelineJob) Name() string { return j.name }

// Handle runs the job. A payload naming another job is rejected so a misrouted
// message never starts the wrong pipeline.
func (j *PipelineJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[JobRequest](payload)
	if err != nil {
		return fmt.Errorf("%s payload: %w", j.name, err)
	}
	if req.Job != "" && req.Job != j.name {
		return fmt.Errorf("payload for %q delivered to %q", req.Job, j.name)
	}
	_, err = j.runner.Dispatch(ctx, j.name)
	if errors.Is(err, ErrJobRunning) {
		// the running instance covers this request
		return nil
	}
	return err
}

// QueueJobs returns a queue job for every known job name.
func (r *JobRunner) QueueJobs() []queue.Job {
	jobs := make([]queue.Job, 0, len(JobNames))
	for _, n := range JobNames {
		jobs = append(jobs, &PipelineJob{name: n, runner: r})
	}
	return jobs
}
