package di

import (
	"fmt"
	"time"

	"github.com/Wayy-Research/wrdata/internal/api"
	"github.com/Wayy-Research/wrdata/internal/cache"
	"github.com/Wayy-Research/wrdata/internal/detector"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/internal/provider/binance"
	"github.com/Wayy-Research/wrdata/internal/provider/coinbase"
	internalrepo "github.com/Wayy-Research/wrdata/internal/repository"
	"github.com/Wayy-Research/wrdata/internal/stream"
	"github.com/Wayy-Research/wrdata/internal/usecase"
	"github.com/Wayy-Research/wrdata/pkg/backoff"
	pkgch "github.com/Wayy-Research/wrdata/pkg/clickhouse"
	"github.com/Wayy-Research/wrdata/pkg/config"
	xhttp "github.com/Wayy-Research/wrdata/pkg/http"
	pkgkafka "github.com/Wayy-Research/wrdata/pkg/kafka"
	applogger "github.com/Wayy-Research/wrdata/pkg/logger"
	"github.com/Wayy-Research/wrdata/pkg/metrics"
	"github.com/Wayy-Research/wrdata/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideDetector creates the whale detector.
func ProvideDetector(cfg *config.Config, log *applogger.Logger) *detector.Detector {
	return detector.New(detector.Config{
		WindowSize:        cfg.Detector.WindowSize,
		TimeWindow:        time.Duration(cfg.Detector.TimeWindowSeconds) * time.Second,
		DefaultPercentile: cfg.Detector.DefaultPercentile,
		MinUSDValue:       cfg.Detector.MinUSDValue,
	}, log)
}

// ProvideStreamProviders creates every exchange adapter; the manager selects
// among them at subscription time.
func ProvideStreamProviders(cfg *config.Config, log *applogger.Logger) []repository.StreamProvider {
	return []repository.StreamProvider{
		binance.New(binance.Config{
			WebSocketURL: cfg.Stream.Binance.WebSocketURL,
			BufferSize:   cfg.Stream.BufferSize,
			PingInterval: cfg.Stream.PingInterval,
		}, log),
		coinbase.New(coinbase.Config{
			WebSocketURL: cfg.Stream.Coinbase.WebSocketURL,
			BufferSize:   cfg.Stream.BufferSize,
			PingInterval: cfg.Stream.PingInterval,
		}, log),
	}
}

// ProvideStreamManager creates the stream manager with the detector as the
// enrichment step.
func ProvideStreamManager(
	cfg *config.Config,
	providers []repository.StreamProvider,
	det *detector.Detector,
	m repository.Metrics,
	log *applogger.Logger,
) *stream.Manager {
	return stream.NewManager(stream.Config{
		DefaultProvider: cfg.Stream.Provider,
		BufferSize:      cfg.Stream.BufferSize,
		Reconnect: backoff.Config{
			InitialInterval:     cfg.Stream.Reconnect.InitialInterval,
			MaxInterval:         cfg.Stream.Reconnect.MaxInterval,
			Multiplier:          cfg.Stream.Reconnect.Multiplier,
			RandomizationFactor: cfg.Stream.Reconnect.Jitter,
			MaxElapsedTime:      cfg.Stream.Reconnect.MaxElapsedTime,
		},
	}, providers, det, m, log)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// backend does not persist to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != usecase.BackendClickHouse && cfg.Backend.Type != usecase.BackendBoth {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStorage creates whale event storage when ClickHouse is configured.
func ProvideStorage(chClient *pkgch.Client, cfg *config.Config) repository.Storage {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Database, "whale_events")
}

// ProvideKafkaProducer creates a Kafka producer, or nil when the backend
// does not publish to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != usecase.BackendKafka && cfg.Backend.Type != usecase.BackendBoth {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the Kafka alert publisher.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideAlertCache creates the latest-alert cache: Redis when enabled,
// in-process otherwise.
func ProvideAlertCache(cfg *config.Config) repository.AlertCache {
	if cfg.Cache.Redis.Enabled {
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return cache.NewMemoryCache()
}

// ProvideAlertRouter creates the whale alert router.
func ProvideAlertRouter(
	pub repository.Publisher,
	store repository.Storage,
	ac repository.AlertCache,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) (*usecase.AlertRouter, error) {
	return usecase.NewAlertRouter(pub, store, ac, m, log, cfg.Backend.Type, cfg.Cache.TTL)
}

// ProvideAPIHandler creates the HTTP handler.
func ProvideAPIHandler(
	log *applogger.Logger,
	det *detector.Detector,
	store repository.Storage,
	ac repository.AlertCache,
) xhttp.Handler {
	return api.NewHandler(log, det, store, ac)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	manager *stream.Manager,
	router *usecase.AlertRouter,
	store repository.Storage,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, manager, router, store, chClient, handler)
}
