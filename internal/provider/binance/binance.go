// Package binance streams aggregate trades from the Binance spot WebSocket
// and normalizes them into the common trade event model. Public market data
// needs no authentication.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

const Name = "binance"

// Config holds connection parameters.
type Config struct {
	WebSocketURL string
	BufferSize   int
	PingInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.WebSocketURL == "" {
		c.WebSocketURL = "wss://stream.binance.com:9443/ws"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
}

// route is one live Stream registration. Every registration gets its own
// event channel; slow consumers are dropped on, never blocked on.
type route struct {
	symbol string
	events chan models.TradeEvent
	errs   chan error
}

// Provider implements repository.StreamProvider for Binance. One WebSocket
// connection carries all subscribed symbols; a single read loop fans events
// out to per-symbol routes.
type Provider struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subID     uint64
	routes    map[string][]*route // keyed by upper-case symbol
	stopPing  context.CancelFunc
}

// New creates a Binance stream provider.
func New(cfg Config, log *logger.Logger) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:    cfg,
		log:    log.Named("binance-ws"),
		routes: make(map[string][]*route),
	}
}

// Name implements repository.StreamProvider.
func (p *Provider) Name() string { return Name }

// IsConnected reports connection status.
func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Connect dials the WebSocket and starts the read and keepalive loops.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	p.conn = conn
	p.connected = true

	pingCtx, cancel := context.WithCancel(context.Background())
	p.stopPing = cancel
	go p.pingLoop(pingCtx, conn)
	go p.readLoop(conn)

	p.log.Info("connected", logger.String("url", p.cfg.WebSocketURL))
	return nil
}

// Disconnect closes the connection and releases every route. Idempotent.
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teardownLocked(nil)
}

// Stream registers symbol on the shared connection. The returned event
// channel closes on transport loss or when ctx is cancelled; transport loss
// is additionally signalled with ErrConnectionLost on the error channel.
func (p *Provider) Stream(ctx context.Context, symbol string) (<-chan models.TradeEvent, <-chan error, error) {
	sym := strings.ToUpper(symbol)

	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("binance stream %s: %w", sym, repository.ErrNotConnected)
	}
	r := &route{
		symbol: sym,
		events: make(chan models.TradeEvent, p.cfg.BufferSize),
		errs:   make(chan error, 1),
	}
	first := len(p.routes[sym]) == 0
	p.routes[sym] = append(p.routes[sym], r)
	conn := p.conn
	p.subID++
	id := p.subID
	p.mu.Unlock()

	if first {
		if err := p.writeJSON(conn, map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": []string{strings.ToLower(sym) + "@aggTrade"},
			"id":     id,
		}); err != nil {
			p.removeRoute(r)
			return nil, nil, fmt.Errorf("binance subscribe %s: %w", sym, err)
		}
	}

	go func() {
		<-ctx.Done()
		p.removeRoute(r)
	}()

	return r.events, r.errs, nil
}

// aggTrade is the wire shape of a Binance aggregate trade event. EventTime
// and Ignore must stay declared: without an exact tag match, encoding/json
// folds the frame's "E" and "M" keys onto "e" and "m" case-insensitively.
type aggTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"a"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTS   int64  `json:"T"`
	IsMaker   bool   `json:"m"` // buyer is the market maker => taker sold
	Ignore    bool   `json:"M"` // legacy, always present on the wire
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			// only the owner of the current connection reports the loss
			if p.conn == conn {
				_ = p.teardownLocked(repository.ErrConnectionLost)
				p.log.Warn("read failed, connection lost", logger.Error(err))
			}
			p.mu.Unlock()
			return
		}

		var t aggTrade
		if err := json.Unmarshal(data, &t); err != nil || t.Event != "aggTrade" {
			// subscribe acks and other frames land here; skip quietly,
			// log real parse failures
			if err != nil {
				p.log.Warn("malformed frame skipped", logger.Error(err))
			}
			continue
		}

		ev, err := normalize(t, data)
		if err != nil {
			p.log.Warn("unparseable trade skipped", logger.String("symbol", t.Symbol), logger.Error(err))
			continue
		}
		p.dispatch(ev)
	}
}

func normalize(t aggTrade, raw []byte) (models.TradeEvent, error) {
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("price %q: %w", t.Price, err)
	}
	size, err := strconv.ParseFloat(t.Qty, 64)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("qty %q: %w", t.Qty, err)
	}
	side := models.SideBuy
	if t.IsMaker {
		side = models.SideSell
	}
	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)
	return models.TradeEvent{
		Symbol:    strings.ToUpper(t.Symbol),
		Timestamp: time.UnixMilli(t.TradeTS).UTC(),
		Price:     price,
		Size:      size,
		Side:      side,
		Exchange:  Name,
		TradeID:   strconv.FormatInt(t.TradeID, 10),
		USDValue:  price * size,
		Raw:       rawCopy,
	}, nil
}

// dispatch fans an event out to the symbol's routes. Sends stay under p.mu:
// removeRoute and teardownLocked close route channels under the same lock,
// so an unlocked send could race a close. The sends never block.
func (p *Provider) dispatch(ev models.TradeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.routes[ev.Symbol] {
		select {
		case r.events <- ev:
		default:
			p.log.Debug("buffer full, dropping event", logger.String("symbol", ev.Symbol))
		}
	}
}

func (p *Provider) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				p.log.Warn("ping failed", logger.Error(err))
			}
		}
	}
}

func (p *Provider) writeJSON(conn *websocket.Conn, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn == nil {
		return repository.ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

func (p *Provider) removeRoute(r *route) {
	p.mu.Lock()
	routes := p.routes[r.symbol]
	found := false
	for i, cand := range routes {
		if cand == r {
			p.routes[r.symbol] = append(routes[:i], routes[i+1:]...)
			close(r.events)
			found = true
			break
		}
	}
	last := found && len(p.routes[r.symbol]) == 0
	if last {
		delete(p.routes, r.symbol)
	}
	conn := p.conn
	connected := p.connected
	p.subID++
	id := p.subID
	p.mu.Unlock()

	// last consumer gone: stop the server-side stream, best effort
	if last && connected && conn != nil {
		_ = p.writeJSON(conn, map[string]interface{}{
			"method": "UNSUBSCRIBE",
			"params": []string{strings.ToLower(r.symbol) + "@aggTrade"},
			"id":     id,
		})
	}
}

// teardownLocked closes the connection and releases every route, delivering
// cause (when non-nil) on each route's error channel. Caller holds p.mu.
func (p *Provider) teardownLocked(cause error) error {
	if !p.connected && p.conn == nil {
		return nil
	}
	p.connected = false
	if p.stopPing != nil {
		p.stopPing()
		p.stopPing = nil
	}
	var closeErr error
	if p.conn != nil {
		closeErr = p.conn.Close()
		p.conn = nil
	}
	for _, routes := range p.routes {
		for _, r := range routes {
			if cause != nil {
				select {
				case r.errs <- cause:
				default:
				}
			}
			close(r.events)
		}
	}
	p.routes = make(map[string][]*route)
	return closeErr
}
