package di

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/domain/service"
	"github.com/victorescoto/fiap-ml-finance/internal/handler/api"
	internalrepo "github.com/victorescoto/fiap-ml-finance/internal/repository"
	svccache "github.com/victorescoto/fiap-ml-finance/internal/service/cache"
	"github.com/victorescoto/fiap-ml-finance/internal/service/ratelimit"
	"github.com/victorescoto/fiap-ml-finance/internal/service/yahoo"
	"github.com/victorescoto/fiap-ml-finance/internal/services/classifier"
	"github.com/victorescoto/fiap-ml-finance/internal/services/features"
	"github.com/victorescoto/fiap-ml-finance/internal/usecase"
	pkgcache "github.com/victorescoto/fiap-ml-finance/pkg/cache"
	pkgch "github.com/victorescoto/fiap-ml-finance/pkg/clickhouse"
	"github.com/victorescoto/fiap-ml-finance/pkg/config"
	xhttp "github.com/victorescoto/fiap-ml-finance/pkg/http"
	pkgkafka "github.com/victorescoto/fiap-ml-finance/pkg/kafka"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/metrics"
	"github.com/victorescoto/fiap-ml-finance/pkg/queue"
	"github.com/victorescoto/fiap-ml-finance/pkg/server"
	"github.com/victorescoto/fiap-ml-finance/pkg/storage"
)

// ObjectStores holds the candle bucket and the models bucket.
type ObjectStores struct {
	Data   storage.ObjectStore
	Models storage.ObjectStore
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideObjectStores opens the local directories or the S3 buckets.
func ProvideObjectStores(cfg *config.Config) (*ObjectStores, error) {
	if cfg.Storage.Backend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		data, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket: cfg.Storage.RawBucket, Region: cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint, Retry: cfg.Retry,
		})
		if err != nil {
			return nil, fmt.Errorf("raw bucket: %w", err)
		}
		mdl, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket: cfg.Storage.ModelsBucket, Region: cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint, Retry: cfg.Retry,
		})
		if err != nil {
			return nil, fmt.Errorf("models bucket: %w", err)
		}
		return &ObjectStores{Data: data, Models: mdl}, nil
	}

	data, err := storage.NewLocalStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	mdl, err := storage.NewLocalStore(cfg.Storage.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	return &ObjectStores{Data: data, Models: mdl}, nil
}

// ProvideCandleStore creates the partitioned parquet dataset.
func ProvideCandleStore(stores *ObjectStores, l *applogger.Logger) repository.CandleStore {
	s := internalrepo.NewParquetCandleStore(stores.Data)
	s.SetLogger(l)
	return s
}

// ProvideModelStore creates the model artifact store. With a cache dir the
// artifacts are also kept on local disk.
func ProvideModelStore(stores *ObjectStores, cfg *config.Config, l *applogger.Logger) (repository.ModelStore, error) {
	ms := internalrepo.NewObjectModelStore(stores.Models)
	ms.SetLogger(l)
	if cfg.Storage.CacheDir == "" {
		return ms, nil
	}
	disk, err := storage.NewLocalStore(cfg.Storage.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	cached := internalrepo.NewDiskCachedModelStore(ms, disk)
	cached.SetLogger(l)
	return cached, nil
}

// ProvideMarketData creates the Yahoo Finance client.
func ProvideMarketData(cfg *config.Config, l *applogger.Logger) repository.MarketData {
	opts := []yahoo.Option{
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithRetry(cfg.Retry),
		yahoo.WithLogger(l),
	}
	if cfg.Yahoo.UserAgent != "" {
		opts = append(opts, yahoo.WithUserAgent(cfg.Yahoo.UserAgent))
	}
	return yahoo.New(xhttp.NewClient(
		xhttp.WithTimeout(cfg.Yahoo.Timeout),
		xhttp.WithDefaultHeader("Accept", "application/json"),
	), opts...)
}

// ProvideClassifier creates the logistic regression model.
func ProvideClassifier(cfg *config.Config) service.Classifier {
	return classifier.NewLogistic(
		classifier.WithC(cfg.Training.C),
		classifier.WithMaxIter(cfg.Training.MaxIter),
		classifier.WithFeatureNames(features.FeatureNames),
	)
}

// ProvideClickHouseClient creates a ClickHouse client and the mirror table. It
// returns nil when the mirror is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideCandleMirror returns nil when ClickHouse is disabled.
func ProvideCandleMirror(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.CandleMirror {
	if ch == nil {
		return nil
	}
	m := internalrepo.NewClickHouseMirror(ch, cfg.ClickHouse.Database, cfg.ClickHouse.Table)
	m.SetLogger(l)
	return m
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
// Error log aggregation rides on the same producer, so this runs before any child
// logger is derived from l.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Logger.Collect {
		topic := cfg.Kafka.LogsTopic
		l.AddCollector(applogger.CollectorConfig{
			Interval:  cfg.Logger.CollectInterval,
			Threshold: cfg.Logger.CollectThreshold,
			Sink: func(ctx context.Context, batch []applogger.Summary) error {
				return producer.Publish(ctx, topic, pkgkafka.Records(batch)...)
			},
		})
	}
	return producer, nil
}

// ProvideEventPublisher publishes store events to Kafka or drops them.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideLatestCache picks the cache backing /latest.
func ProvideLatestCache(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	switch {
	case cfg.Cache.Backend == "redis" && rc != nil:
		return rc
	case cfg.Cache.Backend == "layered" && rc != nil:
		return pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredMemorySize(cfg.Cache.MemorySize),
			pkgcache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
		)
	default:
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(cfg.Cache.MemorySize),
			pkgcache.WithMemoryCleanup(cfg.Cache.MemoryTTL),
		)
	}
}

// ProvideModelCache keeps decoded-ready model bytes in process.
func ProvideModelCache() svccache.BytesCache {
	return svccache.NewTTLCache()
}

// ProvideIngestor creates the ingestion pipeline.
func ProvideIngestor(
	cfg *config.Config,
	md repository.MarketData,
	store repository.CandleStore,
	pub repository.EventPublisher,
	mirror repository.CandleMirror,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Ingestor {
	ic := usecase.IngestConfig{
		Symbols: cfg.Symbols,
		BackfillPeriod: map[models.Interval]string{
			models.Interval1d: cfg.Ingest.BackfillPeriod1d,
			models.Interval1h: cfg.Ingest.BackfillPeriod1h,
		},
		IncrementalPeriod: map[models.Interval]string{
			models.Interval1d: cfg.Ingest.IncrementalPeriod1d,
			models.Interval1h: cfg.Ingest.IncrementalPeriod1h,
		},
		IncrementalWindow: map[models.Interval]time.Duration{
			models.Interval1h: cfg.Ingest.HourlyWindow,
		},
		RereadPartitions: cfg.Ingest.RereadPartitions,
		DryRun:           cfg.Ingest.DryRun,
	}
	return usecase.NewIngestor(md, store, pub, mirror, m, ic, l.With(applogger.String("component", "ingest")))
}

// ProvideTrainer creates the daily training pipeline.
func ProvideTrainer(
	cfg *config.Config,
	store repository.CandleStore,
	ms repository.ModelStore,
	clf service.Classifier,
	pub repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Trainer {
	tc := usecase.TrainConfig{
		Symbols:        cfg.Symbols,
		LookbackMonths: cfg.Training.LookbackMonths,
		MinRows:        cfg.Training.MinRows,
		TestWindow:     cfg.Training.TestWindow,
		DryRun:         cfg.Training.DryRun,
	}
	return usecase.NewTrainer(store, ms, clf, pub, m, tc, l.With(applogger.String("component", "train")))
}

// ProvideServing creates the read side used by the HTTP API.
func ProvideServing(
	cfg *config.Config,
	md repository.MarketData,
	store repository.CandleStore,
	ms repository.ModelStore,
	clf service.Classifier,
	latest pkgcache.Service,
	modelCache svccache.BytesCache,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Serving {
	sc := usecase.ServingConfig{
		Symbols:       cfg.Symbols,
		BuyThreshold:  cfg.Serving.BuyThreshold,
		SellThreshold: cfg.Serving.SellThreshold,
		PredictPeriod: cfg.Serving.PredictPeriod,
		LatestPeriod: map[models.Interval]string{
			models.Interval1d: cfg.Serving.LatestPeriod1d,
			models.Interval1h: cfg.Serving.LatestPeriod1h,
		},
		LatestTTL: cfg.Serving.LatestTTL,
		ModelTTL:  cfg.Serving.ModelTTL,
	}
	return usecase.NewServing(md, store, ms, clf, latest, modelCache, m, sc, l.With(applogger.String("component", "serving")))
}

// ProvideJobRunner creates the job dispatcher. Locks live in Redis when it is
// configured, in process otherwise.
func ProvideJobRunner(
	cfg *config.Config,
	ingest *usecase.Ingestor,
	train *usecase.Trainer,
	rc *pkgcache.RedisCache,
	l *applogger.Logger,
) *usecase.JobRunner {
	var lock pkgcache.Locker
	if rc != nil {
		lock = rc
	} else {
		lock = pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(64))
	}
	return usecase.NewJobRunner(ingest, train, lock, cfg.Queue.LockTTL, l.With(applogger.String("component", "jobs")))
}

// ProvideRateLimiter limits /predict per client.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Serving.RateLimit.Capacity, cfg.Serving.RateLimit.RefillPerSec)
}

// ProvideHTTPHandler creates the market API handler.
func ProvideHTTPHandler(l *applogger.Logger, serving *usecase.Serving, limiter *ratelimit.Limiter) xhttp.Handler {
	return api.NewMarketEchoHandler(l, serving, limiter)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.Offset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideStoreEventsHandler invalidates serving caches on store events.
func ProvideStoreEventsHandler(cfg *config.Config, serving *usecase.Serving, m repository.Metrics) *usecase.StoreEventsHandler {
	return usecase.NewStoreEventsHandler(cfg.Kafka.Topic, serving, m)
}

func queueKeyPrefix(cfg *config.Config) string { return cfg.Redis.Prefix + ":queue" }

// ProvideJobWorker consumes queued jobs, or returns nil when the queue is disabled.
func ProvideJobWorker(cfg *config.Config, rc *pkgcache.RedisCache, runner *usecase.JobRunner, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(rc.Client(), queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	},
		queue.WithKeyPrefix(queueKeyPrefix(cfg)),
		queue.WithLogger(l.With(applogger.String("component", "queue"))),
	)
	q.Register(runner.QueueJobs()...)
	return q
}

// ProvideApp creates the serving application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	h xhttp.Handler,
	consumer *pkgkafka.Consumer,
	kh *usecase.StoreEventsHandler,
	worker *queue.RedisQueue,
	pub repository.EventPublisher,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
	m repository.Metrics,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(eventHooks(l, m))
	}
	app := server.New(cfg, l, h, consumer, kh, worker)
	if rc != nil {
		app.AddCloser("redis", rc)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	app.AddCloser("event publisher", pub)
	app.AddCloser("log collector", closerFunc(func() error {
		l.RemoveCollector()
		return nil
	}))
	return app
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func eventHooks(l *applogger.Logger, m repository.Metrics) pkgkafka.HookFuncs {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return pkgkafka.WithStartTime(ctx, time.Now()), km, data, nil
		},
		After: func(ctx context.Context, _ string, _ kafka.Message, _ []byte, err error) {
			if start, ok := pkgkafka.StartTime(ctx); ok && err == nil {
				m.RecordLatency("store_event", time.Since(start).Seconds())
			}
		},
		Err: func(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
			m.RecordError("store_event")
			l.Warn("store event failed",
				applogger.String("topic", topic),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err),
			)
		},
	}
}

// Jobs is the batch side of the process: the dispatcher plus an optional queue
// publisher for handing jobs to running workers.
type Jobs struct {
	Runner   *usecase.JobRunner
	Enqueuer *queue.RedisQueue
	Logger   *applogger.Logger

	pub repository.EventPublisher
	ch  *pkgch.Client
	rc  *pkgcache.RedisCache
}

// Close releases the infrastructure behind the jobs.
func (j *Jobs) Close(ctx context.Context) {
	if j.Enqueuer != nil {
		if err := j.Enqueuer.Stop(ctx); err != nil {
			j.Logger.Warn("queue publisher stop error", applogger.Error(err))
		}
	}
	j.Logger.RemoveCollector()
	if err := j.pub.Close(); err != nil {
		j.Logger.Warn("event publisher close error", applogger.Error(err))
	}
	if j.ch != nil {
		if err := j.ch.Close(); err != nil {
			j.Logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if j.rc != nil {
		if err := j.rc.Close(); err != nil {
			j.Logger.Warn("redis close error", applogger.Error(err))
		}
	}
}

// ProvideJobs assembles the batch side.
func ProvideJobs(
	cfg *config.Config,
	runner *usecase.JobRunner,
	pub repository.EventPublisher,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
	l *applogger.Logger,
) *Jobs {
	j := &Jobs{Runner: runner, Logger: l, pub: pub, ch: ch, rc: rc}
	if cfg.Queue.Enabled && rc != nil {
		j.Enqueuer = queue.NewRedisQueue(rc.Client(), queue.Config{},
			queue.WithKeyPrefix(queueKeyPrefix(cfg)),
			queue.WithLogger(l),
		)
	}
	return j
}
