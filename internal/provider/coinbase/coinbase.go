// Package coinbase streams match events from the Coinbase Exchange WebSocket
// feed and normalizes them into the common trade event model.
package coinbase

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

const Name = "coinbase"

// Config holds connection parameters.
type Config struct {
	WebSocketURL string
	BufferSize   int
	PingInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.WebSocketURL == "" {
		c.WebSocketURL = "wss://ws-feed.exchange.coinbase.com"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
}

type route struct {
	product string
	events  chan models.TradeEvent
	errs    chan error
}

// Provider implements repository.StreamProvider for Coinbase. One WebSocket
// connection carries all subscribed products.
type Provider struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	routes    map[string][]*route // keyed by product id, e.g. BTC-USD
	stopPing  context.CancelFunc
}

// New creates a Coinbase stream provider.
func New(cfg Config, log *logger.Logger) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:    cfg,
		log:    log.Named("coinbase-ws"),
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

// Connect dials the feed and starts the read and keepalive loops.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("coinbase connect: %w", err)
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

// Stream registers symbol on the shared connection. Symbols are accepted in
// either compact (BTCUSD) or product-id (BTC-USD) form; events always carry
// the product-id form.
func (p *Provider) Stream(ctx context.Context, symbol string) (<-chan models.TradeEvent, <-chan error, error) {
	product := NormalizeProduct(symbol)

	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("coinbase stream %s: %w", product, repository.ErrNotConnected)
	}
	r := &route{
		product: product,
		events:  make(chan models.TradeEvent, p.cfg.BufferSize),
		errs:    make(chan error, 1),
	}
	first := len(p.routes[product]) == 0
	p.routes[product] = append(p.routes[product], r)
	conn := p.conn
	p.mu.Unlock()

	if first {
		if err := p.writeJSON(conn, map[string]interface{}{
			"type":        "subscribe",
			"product_ids": []string{product},
			"channels":    []string{"matches"},
		}); err != nil {
			p.removeRoute(r)
			return nil, nil, fmt.Errorf("coinbase subscribe %s: %w", product, err)
		}
	}

	go func() {
		<-ctx.Done()
		p.removeRoute(r)
	}()

	return r.events, r.errs, nil
}

// NormalizeProduct maps compact symbols like BTCUSD onto Coinbase product
// ids like BTC-USD. Already-dashed symbols pass through unchanged.
func NormalizeProduct(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"} {
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return base + "-" + quote
		}
	}
	return s
}

// match is the wire shape of a Coinbase match / last_match message.
type match struct {
	Type      string `json:"type"`
	TradeID   int64  `json:"trade_id"`
	ProductID string `json:"product_id"`
	Time      string `json:"time"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			if p.conn == conn {
				_ = p.teardownLocked(repository.ErrConnectionLost)
				p.log.Warn("read failed, connection lost", logger.Error(err))
			}
			p.mu.Unlock()
			return
		}

		var m match
		if err := json.Unmarshal(data, &m); err != nil {
			p.log.Warn("malformed frame skipped", logger.Error(err))
			continue
		}
		switch m.Type {
		case "match", "last_match":
		case "error":
			p.log.Warn("feed error message", logger.String("payload", string(data)))
			continue
		default:
			// subscriptions acks, heartbeats
			continue
		}

		ev, err := normalize(m, data)
		if err != nil {
			p.log.Warn("unparseable trade skipped", logger.String("product", m.ProductID), logger.Error(err))
			continue
		}
		p.dispatch(ev)
	}
}

func normalize(m match, raw []byte) (models.TradeEvent, error) {
	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("price %q: %w", m.Price, err)
	}
	size, err := strconv.ParseFloat(m.Size, 64)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("size %q: %w", m.Size, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("time %q: %w", m.Time, err)
	}
	side := models.SideUnknown
	switch m.Side {
	case "buy":
		side = models.SideBuy
	case "sell":
		side = models.SideSell
	}
	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)
	return models.TradeEvent{
		Symbol:    strings.ToUpper(m.ProductID),
		Timestamp: ts.UTC(),
		Price:     price,
		Size:      size,
		Side:      side,
		Exchange:  Name,
		TradeID:   strconv.FormatInt(m.TradeID, 10),
		USDValue:  price * size,
		Raw:       rawCopy,
	}, nil
}

// dispatch fans an event out to the product's routes. Sends stay under p.mu:
// removeRoute and teardownLocked close route channels under the same lock,
// so an unlocked send could race a close. The sends never block.
func (p *Provider) dispatch(ev models.TradeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.routes[ev.Symbol] {
		select {
		case r.events <- ev:
		default:
			p.log.Debug("buffer full, dropping event", logger.String("product", ev.Symbol))
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
	routes := p.routes[r.product]
	found := false
	for i, cand := range routes {
		if cand == r {
			p.routes[r.product] = append(routes[:i], routes[i+1:]...)
			close(r.events)
			found = true
			break
		}
	}
	last := found && len(p.routes[r.product]) == 0
	if last {
		delete(p.routes, r.product)
	}
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()

	if last && connected && conn != nil {
		_ = p.writeJSON(conn, map[string]interface{}{
			"type":        "unsubscribe",
			"product_ids": []string{r.product},
			"channels":    []string{"matches"},
		})
	}
}

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
