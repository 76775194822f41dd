package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/victorescoto/fiap-ml-finance/pkg/retry"
	"github.com/victorescoto/fiap-ml-finance/pkg/util"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development"`
	Symbols     []string `yaml:"symbols" default:"[\"AAPL\",\"MSFT\",\"AMZN\",\"GOOGL\",\"META\",\"NVDA\",\"TSLA\"]"`
	// JobName selects the job run by cmd/jobs when no flag is given.
	JobName string `yaml:"job_name"`

	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Yahoo      YahooConfig      `yaml:"yahoo"`
	Retry      retry.Policy     `yaml:"retry"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Training   TrainingConfig   `yaml:"training"`
	Serving    ServingConfig    `yaml:"serving"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Logger     LoggerConfig     `yaml:"logger"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
}

// StorageConfig selects where candles and model artifacts live. With the local
// backend DataDir and ModelsDir are the roots of the two stores.
type StorageConfig struct {
	Backend      string `yaml:"backend" default:"local"`
	Region       string `yaml:"region" default:"us-east-2"`
	RawBucket    string `yaml:"raw_bucket" default:"fiap-fase3-finance-raw"`
	ModelsBucket string `yaml:"models_bucket" default:"fiap-fase3-finance-models"`
	Endpoint     string `yaml:"endpoint"`
	DataDir      string `yaml:"data_dir" default:"./data"`
	ModelsDir    string `yaml:"models_dir" default:"./models"`
	// CacheDir keeps local copies of model artifacts for the serving process.
	CacheDir string `yaml:"cache_dir" default:"./.cache"`
}

type YahooConfig struct {
	BaseURL   string        `yaml:"base_url" default:"https://query1.finance.yahoo.com"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" default:"15s"`
}

type IngestConfig struct {
	BackfillPeriod1d    string        `yaml:"backfill_period_1d" default:"2y"`
	BackfillPeriod1h    string        `yaml:"backfill_period_1h" default:"30d"`
	IncrementalPeriod1d string        `yaml:"incremental_period_1d" default:"5d"`
	IncrementalPeriod1h string        `yaml:"incremental_period_1h" default:"1d"`
	HourlyWindow        time.Duration `yaml:"hourly_window" default:"12h"`
	RereadPartitions    int           `yaml:"reread_partitions" default:"5"`
	DryRun              bool          `yaml:"dry_run"`
}

type TrainingConfig struct {
	LookbackMonths int           `yaml:"lookback_months" default:"12"`
	MinRows        int           `yaml:"min_rows" default:"200"`
	TestWindow     time.Duration `yaml:"test_window" default:"2160h"`
	C              float64       `yaml:"c" default:"1"`
	MaxIter        int           `yaml:"max_iter" default:"200"`
	DryRun         bool          `yaml:"dry_run"`
}

type ServingConfig struct {
	BuyThreshold   float64       `yaml:"buy_threshold" default:"0.6"`
	SellThreshold  float64       `yaml:"sell_threshold" default:"0.4"`
	PredictPeriod  string        `yaml:"predict_period" default:"2mo"`
	LatestPeriod1d string        `yaml:"latest_period_1d" default:"1y"`
	LatestPeriod1h string        `yaml:"latest_period_1h" default:"1mo"`
	LatestTTL      time.Duration `yaml:"latest_ttl" default:"1m"`
	ModelTTL       time.Duration `yaml:"model_ttl" default:"10m"`
	RateLimit      struct {
		Capacity     float64 `yaml:"capacity" default:"20"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"2"`
	} `yaml:"rate_limit"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"fiapml"`
}

// CacheConfig picks the /latest cache. redis and layered need redis.enabled.
type CacheConfig struct {
	Backend    string        `yaml:"backend" default:"memory"`
	MemorySize int           `yaml:"memory_size" default:"1000"`
	MemoryTTL  time.Duration `yaml:"memory_ttl" default:"30s"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	LockTTL    time.Duration `yaml:"lock_ttl" default:"30m"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic        string   `yaml:"topic" default:"fiapml.store-events"`
	LogsTopic    string   `yaml:"logs_topic"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"fiapml-serving"`
		Offset     string        `yaml:"auto_offset_reset" default:"latest"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"fiapml"`
	Table            string        `yaml:"table" default:"candles"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"console"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"14"`
	Compress   bool   `yaml:"compress"`
	// Collect aggregates repeated errors and ships them to kafka.logs_topic.
	Collect          bool          `yaml:"collect"`
	CollectInterval  time.Duration `yaml:"collect_interval" default:"30s"`
	CollectThreshold int           `yaml:"collect_threshold" default:"100"`
}

// Load reads a YAML configuration file and applies defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if any), the YAML file and then environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	env := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := env("SYMBOLS"); ok {
		c.Symbols = util.SplitList(v)
	}
	if v, ok := env("ENVIRONMENT"); ok {
		c.Environment = v
	}
	if v, ok := env("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v, ok := env("STORAGE_BACKEND"); ok {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v, ok := env("S3_RAW_BUCKET"); ok {
		c.Storage.RawBucket = v
	}
	if v, ok := env("S3_MODELS_BUCKET"); ok {
		c.Storage.ModelsBucket = v
	}
	if v, ok := env("AWS_REGION"); ok {
		c.Storage.Region = v
	}
	if v, ok := env("DATA_DIR"); ok {
		c.Storage.DataDir = v
	}
	if v, ok := env("MODELS_DIR"); ok {
		c.Storage.ModelsDir = v
	}
	if v, ok := env("CACHE_DIR"); ok {
		c.Storage.CacheDir = v
	}
	if v, ok := env("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = util.SplitList(v)
	}
	if v, ok := env("ML_TRAIN_PERIOD"); ok {
		m, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ML_TRAIN_PERIOD: %w", err)
		}
		c.Training.LookbackMonths = m
	}
	if v, ok := env("REDIS_ADDR"); ok {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Redis.Host, c.Redis.Port, c.Redis.Enabled = host, p, true
	}
	if v, ok := env("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = util.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v, ok := env("KAFKA_TOPIC"); ok {
		c.Kafka.Topic = v
	}
	if v, ok := env("CLICKHOUSE_HOST"); ok {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Logger.Level = strings.ToLower(v)
	}
	if v, ok := env("JOB_NAME"); ok {
		c.JobName = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.DataDir == "" || c.Storage.ModelsDir == "" {
			return fmt.Errorf("storage.data_dir and storage.models_dir are required for the local backend")
		}
	case "s3":
		if c.Storage.RawBucket == "" || c.Storage.ModelsBucket == "" {
			return fmt.Errorf("storage.raw_bucket and storage.models_bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'local' or 's3', got '%s'", c.Storage.Backend)
	}
	for name, p := range map[string]string{
		"ingest.backfill_period_1d":    c.Ingest.BackfillPeriod1d,
		"ingest.backfill_period_1h":    c.Ingest.BackfillPeriod1h,
		"ingest.incremental_period_1d": c.Ingest.IncrementalPeriod1d,
		"ingest.incremental_period_1h": c.Ingest.IncrementalPeriod1h,
		"serving.predict_period":       c.Serving.PredictPeriod,
		"serving.latest_period_1d":     c.Serving.LatestPeriod1d,
		"serving.latest_period_1h":     c.Serving.LatestPeriod1h,
	} {
		if _, err := util.PeriodStart(p, time.Now()); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Training.LookbackMonths <= 0 {
		return fmt.Errorf("training.lookback_months must be positive")
	}
	if c.Training.MinRows <= 0 {
		return fmt.Errorf("training.min_rows must be positive")
	}
	if c.Training.TestWindow <= 0 {
		return fmt.Errorf("training.test_window must be positive")
	}
	s := c.Serving
	if s.SellThreshold < 0 || s.BuyThreshold > 1 || s.SellThreshold >= s.BuyThreshold {
		return fmt.Errorf("serving thresholds must satisfy 0 <= sell < buy <= 1, got sell=%v buy=%v", s.SellThreshold, s.BuyThreshold)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis", "layered":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.backend '%s' requires redis.enabled", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("cache.backend must be 'memory', 'redis' or 'layered', got '%s'", c.Cache.Backend)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Logger.Collect && (!c.Kafka.Enabled || c.Kafka.LogsTopic == "") {
		return fmt.Errorf("logger.collect requires kafka.enabled and kafka.logs_topic")
	}
	return nil
}

// RedisAddr is the host:port of the redis server.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}
