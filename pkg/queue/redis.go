package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

const deadLetterCap = 1000

// RedisQueue is a job queue on Redis lists. Pending jobs live in a list, failed
// deliveries wait in a sorted set scored by due time, and jobs that ran out of
// attempts end up in a capped dead-letter list.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	prefix string
	l      *logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a RedisQueue.
type Option func(*RedisQueue)

// WithKeyPrefix namespaces every key of the queue.
func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l *logger.Logger) Option {
	return func(q *RedisQueue) {
		if l != nil {
			q.l = l
		}
	}
}

// NewRedisQueue creates a queue. Enqueue works right away; Start is only needed to
// consume.
func NewRedisQueue(client *redis.Client, cfg Config, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: "fiapml:queue",
		l:      logger.NewNop(),
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register adds handlers. A second handler for the same name is ignored.
func (q *RedisQueue) Register(jobs ...Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range jobs {
		if _, ok := q.jobs[j.Name()]; ok {
			q.l.Warn("job already registered", logger.String("job", j.Name()))
			continue
		}
		q.jobs[j.Name()] = j
	}
}

// Enqueue pushes a job with its payload.
func (q *RedisQueue) Enqueue(ctx context.Context, job string, payload any) error {
	env, err := NewEnvelope(job, payload, q.now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	q.l.Info("job enqueued", logger.String("job", job), logger.String("id", env.ID))
	return nil
}

// Start checks the connection and starts the workers and the retry promoter.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.promoter(ctx)

	names := make([]string, 0, len(q.jobs))
	for n := range q.jobs {
		names = append(names, n)
	}
	q.l.Info("job queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("prefix", q.prefix),
		logger.Strings("jobs", names),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires. Stopping
// a queue that never started is a no-op.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		q.l.Info("job queue stopped")
		return nil
	}
}

func (q *RedisQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, time.Second, q.pendingKey()).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			q.l.Error("queue pop failed", logger.Int("worker", id), logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			q.l.Error("queue envelope unreadable", logger.Error(err))
			continue
		}
		o := q.deliver(ctx, &env)
		q.settle(ctx, env, o)
	}
}

// deliver runs the handler and decides what happens to the envelope next.
func (q *RedisQueue) deliver(ctx context.Context, env *Envelope) outcome {
	q.mu.RLock()
	job, ok := q.jobs[env.Job]
	q.mu.RUnlock()
	if !ok {
		env.LastError = "no handler registered"
		return outcomeDead
	}

	start := q.now()
	err := job.Handle(ctx, env.Payload)
	if err == nil {
		q.l.Info("job done",
			logger.String("job", env.Job),
			logger.String("id", env.ID),
			logger.Duration("took", q.now().Sub(start)),
		)
		return outcomeDone
	}
	env.Attempts++
	env.LastError = err.Error()
	if ctx.Err() != nil || env.Attempts <= q.cfg.RetryLimit {
		return outcomeRetry
	}
	return outcomeDead
}

func (q *RedisQueue) settle(ctx context.Context, env Envelope, o outcome) {
	if o == outcomeDone {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		q.l.Error("marshal envelope", logger.Error(err))
		return
	}
	// a cancelled worker still parks the job
	wctx := context.WithoutCancel(ctx)
	switch o {
	case outcomeRetry:
		due := q.now().Add(q.cfg.RetryDelay)
		err = q.client.ZAdd(wctx, q.retryKey(), redis.Z{Score: float64(due.Unix()), Member: b}).Err()
	case outcomeDead:
		pipe := q.client.TxPipeline()
		pipe.LPush(wctx, q.deadKey(), b)
		pipe.LTrim(wctx, q.deadKey(), 0, deadLetterCap-1)
		_, err = pipe.Exec(wctx)
	}
	q.l.Warn("job failed",
		logger.String("job", env.Job),
		logger.String("id", env.ID),
		logger.Int("attempts", env.Attempts),
		logger.String("next", o.String()),
		logger.String("error", env.LastError),
	)
	if err != nil {
		q.l.Error("queue park failed", logger.String("id", env.ID), logger.Error(err))
	}
}

// promoter moves due retries back to the pending list.
func (q *RedisQueue) promoter(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) {
	due, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.l.Error("queue retry scan failed", logger.Error(err))
		}
		return
	}
	for _, m := range due {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.retryKey(), m)
		pipe.LPush(ctx, q.pendingKey(), m)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() == nil {
				q.l.Error("queue retry promote failed", logger.Error(err))
			}
			return
		}
	}
}

func (q *RedisQueue) pendingKey() string { return q.prefix + ":pending" }
func (q *RedisQueue) retryKey() string   { return q.prefix + ":retry" }
func (q *RedisQueue) deadKey() string    { return q.prefix + ":dead" }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
