package repository

import (
	"context"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
)

// StreamProvider is one exchange feed. The adapter owns protocol parsing,
// auth and keepalive; normalization into models.TradeEvent happens strictly
// inside the adapter. Symbol resubscription after a reconnect is the stream
// manager's job, not the adapter's.
type StreamProvider interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	// Stream registers symbol on the shared connection and returns an
	// unbounded event sequence plus an error channel. On transport loss the
	// event channel closes and ErrConnectionLost is delivered on the error
	// channel. The registration is released when ctx is cancelled.
	Stream(ctx context.Context, symbol string) (<-chan models.TradeEvent, <-chan error, error)
	IsConnected() bool
}

// Publisher delivers enriched whale events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, ev *models.TradeEvent) error
	PublishBatch(ctx context.Context, evs []*models.TradeEvent) error
	Close() error
}

// Storage persists enriched whale events.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, ev *models.TradeEvent) error
	RecentWhales(ctx context.Context, symbol string, limit int) ([]*models.TradeEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// AlertCache keeps the latest whale alert per symbol for cheap API reads.
type AlertCache interface {
	SetLatest(ctx context.Context, symbol string, payload []byte, ttl time.Duration) error
	Latest(ctx context.Context, symbol string) ([]byte, bool, error)
}

// Metrics records operational counters and gauges.
type Metrics interface {
	RecordTrade(exchange, symbol string)
	RecordWhale(exchange, symbol string)
	RecordDrop(kind string)
	RecordError(kind string)
	RecordReconnect(provider string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
