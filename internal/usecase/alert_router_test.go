package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.TradeEvent
	fail      bool
}

func (p *fakePublisher) Publish(_ context.Context, ev *models.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *fakePublisher) PublishBatch(ctx context.Context, evs []*models.TradeEvent) error {
	for _, ev := range evs {
		if err := p.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fakeStorage struct {
	mu     sync.Mutex
	stored []*models.TradeEvent
}

func (s *fakeStorage) Init(context.Context) error { return nil }

func (s *fakeStorage) Store(_ context.Context, ev *models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, ev)
	return nil
}

func (s *fakeStorage) RecentWhales(context.Context, string, int) ([]*models.TradeEvent, error) {
	return nil, nil
}

func (s *fakeStorage) Health(context.Context) error { return nil }
func (s *fakeStorage) Close() error                 { return nil }

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type fakeCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{m: make(map[string][]byte)} }

func (c *fakeCache) SetLatest(_ context.Context, symbol string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[symbol] = payload
	return nil
}

func (c *fakeCache) Latest(_ context.Context, symbol string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[symbol]
	return b, ok, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordTrade(string, string)      {}
func (nopMetrics) RecordWhale(string, string)      {}
func (nopMetrics) RecordDrop(string)               {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func whaleEvent(symbol string) models.TradeEvent {
	return models.TradeEvent{
		Symbol:   symbol,
		Price:    64000,
		Size:     5,
		USDValue: 320000,
		Whale:    &models.WhaleClassification{Percentile: 99.5, Rank: 995, IsWhale: true, Threshold: 99},
	}
}

func TestRouterIgnoresNonWhales(t *testing.T) {
	pub := &fakePublisher{}
	r, err := NewAlertRouter(pub, nil, nil, nopMetrics{}, testLogger(t), BackendKafka, time.Minute)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	ev := models.TradeEvent{Symbol: "BTCUSDT", Whale: &models.WhaleClassification{IsWhale: false}}
	if err := r.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := r.Handle(context.Background(), models.TradeEvent{Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("handle unclassified: %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("published %d events, want 0", pub.count())
	}
}

func TestRouterBackendBoth(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}
	cache := newFakeCache()
	r, err := NewAlertRouter(pub, store, cache, nopMetrics{}, testLogger(t), BackendBoth, time.Minute)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	if err := r.Handle(context.Background(), whaleEvent("BTCUSDT")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
	}
	if store.count() != 1 {
		t.Errorf("stored = %d, want 1", store.count())
	}
	if _, ok, _ := cache.Latest(context.Background(), "BTCUSDT"); !ok {
		t.Error("latest alert not cached")
	}
}

func TestRouterBackendNone(t *testing.T) {
	cache := newFakeCache()
	r, err := NewAlertRouter(nil, nil, cache, nopMetrics{}, testLogger(t), BackendNone, time.Minute)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := r.Handle(context.Background(), whaleEvent("BTCUSDT")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// cache still updated so the API can serve the latest alert
	if _, ok, _ := cache.Latest(context.Background(), "BTCUSDT"); !ok {
		t.Error("latest alert not cached")
	}
}

func TestRouterPublishFailureStillCaches(t *testing.T) {
	pub := &fakePublisher{fail: true}
	cache := newFakeCache()
	r, err := NewAlertRouter(pub, nil, cache, nopMetrics{}, testLogger(t), BackendKafka, time.Minute)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	if err := r.Handle(context.Background(), whaleEvent("BTCUSDT")); err == nil {
		t.Fatal("expected publish error")
	}
	if _, ok, _ := cache.Latest(context.Background(), "BTCUSDT"); !ok {
		t.Error("cache skipped on publish failure")
	}
}

func TestRouterValidatesWiring(t *testing.T) {
	if _, err := NewAlertRouter(nil, nil, nil, nopMetrics{}, testLogger(t), BackendKafka, 0); err == nil {
		t.Error("kafka backend without publisher accepted")
	}
	if _, err := NewAlertRouter(nil, nil, nil, nopMetrics{}, testLogger(t), BackendClickHouse, 0); err == nil {
		t.Error("clickhouse backend without storage accepted")
	}
	if _, err := NewAlertRouter(nil, nil, nil, nopMetrics{}, testLogger(t), "postgres", 0); err == nil {
		t.Error("unknown backend accepted")
	}
}
