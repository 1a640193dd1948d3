package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// StorageDriverMemory — хранилище в памяти процесса (dev и тесты).
	StorageDriverMemory = "memory"
	// StorageDriverPostgres — PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"
)

const (
	envHTTPAddr                    = "SALES_HTTP_ADDR"
	envGRPCAddr                    = "SALES_GRPC_ADDR"
	envMetricsAddr                 = "SALES_METRICS_ADDR"
	envLogLevel                    = "SALES_LOG_LEVEL"
	envStorageDriver               = "SALES_STORAGE_DRIVER"
	envPostgresDSN                 = "SALES_POSTGRES_DSN"
	envPostgresAutoMigrate         = "SALES_POSTGRES_AUTO_MIGRATE"
	envSeedDemoProducts            = "SALES_SEED_DEMO_PRODUCTS"
	envRegistrationTimeout         = "SALES_REGISTRATION_TIMEOUT"
	envDocumentNumberWidth         = "SALES_DOCUMENT_NUMBER_WIDTH"
	envRedisAddr                   = "SALES_REDIS_ADDR"
	envRedisPassword               = "SALES_REDIS_PASSWORD"
	envRedisDB                     = "SALES_REDIS_DB"
	envSummaryCacheTTL             = "SALES_SUMMARY_CACHE_TTL"
	envKafkaBrokers                = "SALES_KAFKA_BROKERS"
	envKafkaTopic                  = "SALES_KAFKA_TOPIC"
	envKafkaDLQTopic               = "SALES_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "SALES_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "SALES_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "SALES_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "SALES_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "SALES_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "SALES_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SALES_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envOTLPEndpoint                = "SALES_OTLP_ENDPOINT"
	envOTLPInsecure                = "SALES_OTLP_INSECURE"
	envTraceSampleRatio            = "SALES_TRACE_SAMPLE_RATIO"
)

// Config описывает настройки запуска сервиса продаж.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoProducts    bool

	RegistrationTimeout time.Duration
	DocumentNumberWidth int

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SummaryCacheTTL time.Duration

	// KafkaBrokers — список брокеров через запятую; пусто — публикация выключена.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// OTLPEndpoint — host:port OTLP/HTTP коллектора; пусто — спаны не экспортируются.
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemoProducts:    true,

		RegistrationTimeout: 5 * time.Second,
		DocumentNumberWidth: 4,

		SummaryCacheTTL: 30 * time.Second,

		KafkaTopic:    "pos.sale.events",
		KafkaDLQTopic: "pos.sale.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,

		OTLPInsecure:     true,
		TraceSampleRatio: 1,
	}
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", envPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.DocumentNumberWidth <= 0 {
		errs = append(errs, errors.New("document number width must be > 0"))
	}
	if c.RegistrationTimeout < 0 {
		errs = append(errs, errors.New("registration timeout must be >= 0"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("redis db must be >= 0"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("trace sample ratio must be in 0..1"))
	}
	if strings.TrimSpace(c.KafkaBrokers) != "" && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// EnvLookup — источник переменных окружения (os.LookupEnv в проде).
type EnvLookup func(key string) (string, bool)

// LoadConfigFromEnv читает SALES_* переменные поверх DefaultConfig.
// Некорректные значения игнорируются и возвращаются как предупреждения.
func LoadConfigFromEnv(lookup EnvLookup) (Config, []error) {
	cfg := DefaultConfig()
	var warnings []error

	readString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	readBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	readInt := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	readDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	readString(envHTTPAddr, &cfg.HTTPAddr)
	readString(envGRPCAddr, &cfg.GRPCAddr)
	readString(envMetricsAddr, &cfg.MetricsAddr)
	readString(envLogLevel, &cfg.LogLevel)
	readString(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	readString(envPostgresDSN, &cfg.PostgresDSN)
	readBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	readBool(envSeedDemoProducts, &cfg.SeedDemoProducts)

	readDuration(envRegistrationTimeout, &cfg.RegistrationTimeout, nonNegativeDuration, "must be >= 0")
	readInt(envDocumentNumberWidth, &cfg.DocumentNumberWidth, func(v int) bool { return v > 0 && v <= 18 }, "must be in 1..18")

	readString(envRedisAddr, &cfg.RedisAddr)
	readString(envRedisPassword, &cfg.RedisPassword)
	readInt(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	readDuration(envSummaryCacheTTL, &cfg.SummaryCacheTTL, positiveDuration, "must be > 0")

	readString(envKafkaBrokers, &cfg.KafkaBrokers)
	readString(envKafkaTopic, &cfg.KafkaTopic)
	readString(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	readDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	readInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	readInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	readDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	readDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	readDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	readInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	readString(envOTLPEndpoint, &cfg.OTLPEndpoint)
	readBool(envOTLPInsecure, &cfg.OTLPInsecure)
	if v, ok := lookup(envTraceSampleRatio); ok && strings.TrimSpace(v) != "" {
		ratio, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Errorf("%s: invalid float value %q", envTraceSampleRatio, v))
		case ratio < 0 || ratio > 1:
			warnings = append(warnings, fmt.Errorf("%s: must be in 0..1", envTraceSampleRatio))
		default:
			cfg.TraceSampleRatio = ratio
		}
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
