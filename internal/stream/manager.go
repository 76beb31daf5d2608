// Package stream multiplexes exchange feeds. It owns connection sharing,
// reconnection and resubscription; provider adapters own the wire protocol.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/pkg/backoff"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

// Callback receives enriched trade events. Callbacks run on the
// subscription's own goroutine; per-symbol ordering is preserved.
type Callback func(ev models.TradeEvent)

// Enricher classifies a raw trade event. A rejected event is logged and
// dropped without disturbing the stream.
type Enricher interface {
	Enrich(ev models.TradeEvent) (models.TradeEvent, error)
}

// Config holds manager tuning.
type Config struct {
	DefaultProvider string
	BufferSize      int
	Reconnect       backoff.Config
}

// Request names one symbol and the provider to stream it from. An empty
// Provider selects the manager default.
type Request struct {
	Symbol   string
	Provider string
}

// Subscription is a handle to one live symbol stream.
type Subscription struct {
	Symbol   string
	Provider string

	cancel context.CancelFunc
	done   chan struct{}
	events chan models.TradeEvent
}

// Cancel stops the subscription. Safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

// Done closes when the subscription's goroutine has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Events is the event sequence for channel-mode subscriptions; nil for
// callback-mode ones. The channel closes when the subscription ends.
func (s *Subscription) Events() <-chan models.TradeEvent { return s.events }

// providerConn is a refcounted shared connection. gen increments on every
// successful repair so concurrent subscriptions reconnect exactly once.
type providerConn struct {
	provider repository.StreamProvider

	mu   sync.Mutex
	refs int
	gen  uint64
}

func (pc *providerConn) generation() uint64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.gen
}

// Manager multiplexes subscriptions over shared provider connections.
type Manager struct {
	cfg      Config
	log      *logger.Logger
	enricher Enricher
	metrics  repository.Metrics

	providers map[string]repository.StreamProvider

	mu     sync.Mutex
	conns  map[string]*providerConn
	runCtx context.Context // cancelled by DisconnectAll, then replaced
	stop   context.CancelFunc
}

// NewManager wires the given providers. The first provider becomes the
// default when cfg.DefaultProvider is empty.
func NewManager(cfg Config, providers []repository.StreamProvider, enricher Enricher, metrics repository.Metrics, log *logger.Logger) *Manager {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	byName := make(map[string]repository.StreamProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		if cfg.DefaultProvider == "" {
			cfg.DefaultProvider = p.Name()
		}
	}
	runCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		log:       log.Named("stream-manager"),
		enricher:  enricher,
		metrics:   metrics,
		providers: byName,
		conns:     make(map[string]*providerConn),
		runCtx:    runCtx,
		stop:      stop,
	}
}

// Subscribe streams symbol from the default provider and returns a
// channel-mode subscription. Cancel ctx or the handle to stop it.
func (m *Manager) Subscribe(ctx context.Context, symbol string) (*Subscription, error) {
	return m.SubscribeOn(ctx, symbol, m.cfg.DefaultProvider)
}

// SubscribeOn streams symbol from the named provider.
func (m *Manager) SubscribeOn(ctx context.Context, symbol, provider string) (*Subscription, error) {
	return m.subscribe(ctx, symbol, provider, nil)
}

// SubscribeFunc streams symbol from the default provider and invokes fn for
// every enriched event. A panicking fn is recovered and logged; the stream
// keeps running.
func (m *Manager) SubscribeFunc(ctx context.Context, symbol string, fn Callback) (*Subscription, error) {
	return m.SubscribeFuncOn(ctx, symbol, m.cfg.DefaultProvider, fn)
}

// SubscribeFuncOn is SubscribeFunc against the named provider.
func (m *Manager) SubscribeFuncOn(ctx context.Context, symbol, provider string, fn Callback) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback: %w", symbol, repository.ErrInvalidInput)
	}
	return m.subscribe(ctx, symbol, provider, fn)
}

func (m *Manager) subscribe(ctx context.Context, symbol, provider string, fn Callback) (*Subscription, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("subscribe: empty symbol: %w", repository.ErrInvalidInput)
	}
	// snapshot before acquire so a concurrent DisconnectAll cannot be missed
	mctx := m.lifetime()
	pc, err := m.acquire(ctx, provider)
	if err != nil {
		return nil, err
	}

	subCtx, cancelSub := context.WithCancel(ctx)
	unwatch := context.AfterFunc(mctx, cancelSub)
	sub := &Subscription{
		Symbol:   symbol,
		Provider: pc.provider.Name(),
		cancel: func() {
			unwatch()
			cancelSub()
		},
		done: make(chan struct{}),
	}
	if fn == nil {
		sub.events = make(chan models.TradeEvent, m.cfg.BufferSize)
	}
	go m.run(subCtx, sub, pc, fn)

	m.log.Info("subscribed",
		logger.String("symbol", symbol),
		logger.String("provider", sub.Provider))
	return sub, nil
}

// StreamMany subscribes every symbol on the default provider concurrently,
// best effort: a symbol that fails to start does not prevent the others.
// The returned error joins the per-symbol failures and is nil only when
// every subscription started.
func (m *Manager) StreamMany(ctx context.Context, symbols []string, fn Callback) ([]*Subscription, error) {
	reqs := make([]Request, len(symbols))
	for i, s := range symbols {
		reqs[i] = Request{Symbol: s}
	}
	return m.StreamManyOn(ctx, reqs, fn)
}

// StreamManyOn is StreamMany with per-symbol provider routing.
func (m *Manager) StreamManyOn(ctx context.Context, reqs []Request, fn Callback) ([]*Subscription, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("stream many: no symbols: %w", repository.ErrInvalidInput)
	}

	type result struct {
		sub *Subscription
		err error
	}
	results := make([]result, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		provider := req.Provider
		if provider == "" {
			provider = m.cfg.DefaultProvider
		}
		wg.Add(1)
		go func(i int, symbol, provider string) {
			defer wg.Done()
			sub, err := m.subscribe(ctx, symbol, provider, fn)
			if err != nil {
				err = fmt.Errorf("%s on %s: %w", symbol, provider, err)
			}
			results[i] = result{sub: sub, err: err}
		}(i, req.Symbol, provider)
	}
	wg.Wait()

	var subs []*Subscription
	var errs []error
	for _, r := range results {
		if r.err != nil {
			m.log.Error("subscription failed", logger.Error(r.err))
			errs = append(errs, r.err)
			continue
		}
		subs = append(subs, r.sub)
	}
	return subs, errors.Join(errs...)
}

// DisconnectAll stops every subscription, including any waiting out a
// reconnect backoff, and closes every shared connection. Idempotent; the
// manager accepts new subscriptions afterwards.
func (m *Manager) DisconnectAll() error {
	m.mu.Lock()
	stop := m.stop
	m.runCtx, m.stop = context.WithCancel(context.Background())
	conns := m.conns
	m.conns = make(map[string]*providerConn)
	m.mu.Unlock()

	stop()

	var errs []error
	for name, pc := range conns {
		if err := pc.provider.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// acquire takes a ref on the provider's shared connection, dialing it for
// the first subscriber.
func (m *Manager) acquire(ctx context.Context, name string) (*providerConn, error) {
	m.mu.Lock()
	provider, ok := m.providers[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("provider %q: %w", name, repository.ErrProviderNotFound)
	}
	pc, ok := m.conns[name]
	if !ok {
		pc = &providerConn{provider: provider}
		m.conns[name] = pc
	}
	m.mu.Unlock()

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.refs == 0 && !provider.IsConnected() {
		if err := provider.Connect(ctx); err != nil {
			return nil, err
		}
	}
	pc.refs++
	return pc, nil
}

// release drops a ref; the last subscriber closes the shared connection.
func (m *Manager) release(pc *providerConn) {
	pc.mu.Lock()
	pc.refs--
	last := pc.refs == 0
	pc.mu.Unlock()
	if !last {
		return
	}

	m.mu.Lock()
	if m.conns[pc.provider.Name()] == pc {
		delete(m.conns, pc.provider.Name())
	}
	m.mu.Unlock()
	if err := pc.provider.Disconnect(); err != nil {
		m.log.Warn("disconnect failed",
			logger.String("provider", pc.provider.Name()),
			logger.Error(err))
	}
}

// lifetime is the context every subscription derives teardown from.
func (m *Manager) lifetime() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCtx
}

// run is the subscription goroutine: stream, consume until the connection
// drops, repair, resubscribe. ctx is cancelled by the caller, the handle,
// or DisconnectAll.
func (m *Manager) run(ctx context.Context, sub *Subscription, pc *providerConn, fn Callback) {
	defer sub.cancel()
	defer close(sub.done)
	if sub.events != nil {
		defer close(sub.events)
	}
	defer m.release(pc)

	gen := pc.generation()
	for {
		evCh, errCh, err := pc.provider.Stream(ctx, sub.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("stream start failed, repairing",
				logger.String("symbol", sub.Symbol),
				logger.Error(err))
			gen, err = m.repair(ctx, pc, gen)
			if err != nil {
				return
			}
			continue
		}

		if !m.consume(ctx, sub, evCh, errCh, fn) {
			return
		}

		m.metrics.RecordReconnect(pc.provider.Name())
		gen, err = m.repair(ctx, pc, gen)
		if err != nil {
			return
		}
	}
}

// consume drains one Stream registration. Returns true when the connection
// was lost and the subscription should repair and resubscribe, false when
// the subscription itself is done.
func (m *Manager) consume(ctx context.Context, sub *Subscription, evCh <-chan models.TradeEvent, errCh <-chan error, fn Callback) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-evCh:
			if !ok {
				return true
			}
			m.deliver(sub, ev, fn)
		case err := <-errCh:
			if errors.Is(err, repository.ErrConnectionLost) {
				m.log.Warn("connection lost",
					logger.String("symbol", sub.Symbol),
					logger.String("provider", sub.Provider))
				return true
			}
			if err != nil {
				m.log.Warn("stream error",
					logger.String("symbol", sub.Symbol),
					logger.Error(err))
				m.metrics.RecordError("stream")
			}
		}
	}
}

func (m *Manager) deliver(sub *Subscription, ev models.TradeEvent, fn Callback) {
	enriched, err := m.enricher.Enrich(ev)
	if err != nil {
		m.log.Warn("event rejected",
			logger.String("symbol", ev.Symbol),
			logger.Error(err))
		m.metrics.RecordError("classify")
		return
	}

	m.metrics.RecordTrade(enriched.Exchange, enriched.Symbol)
	m.metrics.RecordLastPrice(enriched.Symbol, enriched.Price)
	if enriched.Whale != nil && enriched.Whale.IsWhale {
		m.metrics.RecordWhale(enriched.Exchange, enriched.Symbol)
	}

	if fn != nil {
		m.invoke(sub, enriched, fn)
		return
	}
	select {
	case sub.events <- enriched:
	default:
		m.metrics.RecordDrop("consumer")
		m.log.Debug("consumer behind, dropping event", logger.String("symbol", enriched.Symbol))
	}
}

func (m *Manager) invoke(sub *Subscription, ev models.TradeEvent, fn Callback) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordError("callback")
			m.log.Error("callback panicked",
				logger.String("symbol", sub.Symbol),
				logger.Any("panic", r))
		}
	}()
	fn(ev)
}

// repair reconnects the shared connection once per generation: the first
// subscription to observe the loss does the work, the rest just resubscribe
// on the fresh connection.
func (m *Manager) repair(ctx context.Context, pc *providerConn, seen uint64) (uint64, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.gen != seen {
		// someone already repaired under this lock
		return pc.gen, ctx.Err()
	}
	_ = pc.provider.Disconnect()

	err := backoff.Execute(ctx, m.cfg.Reconnect, m.log, func(ctx context.Context) error {
		return pc.provider.Connect(ctx)
	})
	if err != nil {
		return pc.gen, fmt.Errorf("reconnect %s: %w", pc.provider.Name(), err)
	}
	pc.gen++
	m.log.Info("reconnected", logger.String("provider", pc.provider.Name()))
	return pc.gen, nil
}
