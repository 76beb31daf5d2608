// Package usecase wires detection output to the configured backends.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	drepo "github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

// Backend selection modes.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
	BackendNone       = "none"
)

// AlertRouter fans classified whale events out to the configured backends
// and keeps the latest alert per symbol in the cache. Non-whale events pass
// through untouched.
type AlertRouter struct {
	pub      drepo.Publisher
	store    drepo.Storage
	cache    drepo.AlertCache
	metrics  drepo.Metrics
	log      *logger.Logger
	backend  string
	cacheTTL time.Duration
}

// NewAlertRouter creates an AlertRouter. pub and store may be nil when the
// backend mode does not use them; cache may be nil to disable caching.
func NewAlertRouter(
	pub drepo.Publisher,
	store drepo.Storage,
	cache drepo.AlertCache,
	metrics drepo.Metrics,
	log *logger.Logger,
	backend string,
	cacheTTL time.Duration,
) (*AlertRouter, error) {
	switch backend {
	case BackendKafka, BackendClickHouse, BackendBoth, BackendNone:
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	if (backend == BackendKafka || backend == BackendBoth) && pub == nil {
		return nil, fmt.Errorf("backend %s requires a publisher", backend)
	}
	if (backend == BackendClickHouse || backend == BackendBoth) && store == nil {
		return nil, fmt.Errorf("backend %s requires storage", backend)
	}
	return &AlertRouter{
		pub:      pub,
		store:    store,
		cache:    cache,
		metrics:  metrics,
		log:      log.Named("alert-router"),
		backend:  backend,
		cacheTTL: cacheTTL,
	}, nil
}

// Handle routes one enriched trade event. Only whale events leave the
// process; everything else is a no-op here.
func (r *AlertRouter) Handle(ctx context.Context, ev models.TradeEvent) error {
	if ev.Whale == nil || !ev.Whale.IsWhale {
		return nil
	}

	start := time.Now()
	var errs []error

	if r.backend == BackendKafka || r.backend == BackendBoth {
		if err := r.pub.Publish(ctx, &ev); err != nil {
			r.metrics.RecordError("publish")
			errs = append(errs, fmt.Errorf("publish alert: %w", err))
		}
	}
	if r.backend == BackendClickHouse || r.backend == BackendBoth {
		if err := r.store.Store(ctx, &ev); err != nil {
			r.metrics.RecordError("store")
			errs = append(errs, fmt.Errorf("store alert: %w", err))
		}
	}
	r.cacheLatest(ctx, ev)

	r.metrics.RecordLatency("route_alert", time.Since(start).Seconds())
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.log.Info("whale alert",
		logger.String("symbol", ev.Symbol),
		logger.String("exchange", ev.Exchange),
		logger.Float64("size", ev.Size),
		logger.Float64("usd_value", ev.USDValue),
		logger.Float64("percentile", ev.Whale.Percentile))
	return nil
}

func (r *AlertRouter) cacheLatest(ctx context.Context, ev models.TradeEvent) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("marshal alert for cache", logger.Error(err))
		return
	}
	if err := r.cache.SetLatest(ctx, ev.Symbol, payload, r.cacheTTL); err != nil {
		r.metrics.RecordError("cache")
		r.log.Warn("cache latest alert",
			logger.String("symbol", ev.Symbol),
			logger.Error(err))
	}
}

// Close releases backend resources.
func (r *AlertRouter) Close() {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}
