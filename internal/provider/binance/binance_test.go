package binance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestNormalizeAggTrade(t *testing.T) {
	frame := []byte(`{"e":"aggTrade","E":1718000000123,"s":"BTCUSDT","a":26129,"p":"64250.10","q":"1.54","f":100,"l":105,"T":1718000000100,"m":true,"M":true}`)

	var wire aggTrade
	if err := json.Unmarshal(frame, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, err := normalize(wire, frame)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if ev.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", ev.Symbol)
	}
	if ev.Price != 64250.10 {
		t.Errorf("price = %v, want 64250.10", ev.Price)
	}
	if ev.Size != 1.54 {
		t.Errorf("size = %v, want 1.54", ev.Size)
	}
	if ev.Side != models.SideSell {
		t.Errorf("side = %q, want sell for maker-buy trades", ev.Side)
	}
	if ev.Exchange != Name {
		t.Errorf("exchange = %q, want %q", ev.Exchange, Name)
	}
	if ev.TradeID != "26129" {
		t.Errorf("trade id = %q, want 26129", ev.TradeID)
	}
	if want := time.UnixMilli(1718000000100).UTC(); !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
	if want := 64250.10 * 1.54; ev.USDValue != want {
		t.Errorf("usd value = %v, want %v", ev.USDValue, want)
	}
	if string(ev.Raw) != string(frame) {
		t.Errorf("raw payload not preserved")
	}
}

func TestNormalizeTakerBuy(t *testing.T) {
	// M:true next to m:false pins that the upper-case key cannot bleed into
	// the maker flag and flip the side
	frame := []byte(`{"e":"aggTrade","E":1718000000123,"s":"ETHUSDT","a":7,"p":"3100.00","q":"0.25","T":1718000000100,"m":false,"M":true}`)
	var wire aggTrade
	if err := json.Unmarshal(frame, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, err := normalize(wire, frame)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Side != models.SideBuy {
		t.Errorf("side = %q, want buy", ev.Side)
	}
}

func TestNormalizeRejectsBadNumbers(t *testing.T) {
	if _, err := normalize(aggTrade{Price: "oops", Qty: "1"}, nil); err == nil {
		t.Error("expected error for bad price")
	}
	if _, err := normalize(aggTrade{Price: "1", Qty: "oops"}, nil); err == nil {
		t.Error("expected error for bad qty")
	}
}

func TestStreamRequiresConnection(t *testing.T) {
	p := New(Config{}, testLogger(t))
	_, _, err := p.Stream(context.Background(), "BTCUSDT")
	if !errors.Is(err, repository.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestDispatchDropsWhenBufferFull(t *testing.T) {
	p := New(Config{BufferSize: 1}, testLogger(t))
	r := &route{
		symbol: "BTCUSDT",
		events: make(chan models.TradeEvent, 1),
		errs:   make(chan error, 1),
	}
	p.routes["BTCUSDT"] = []*route{r}

	p.dispatch(models.TradeEvent{Symbol: "BTCUSDT", Price: 1})
	p.dispatch(models.TradeEvent{Symbol: "BTCUSDT", Price: 2}) // dropped, must not block

	ev := <-r.events
	if ev.Price != 1 {
		t.Errorf("delivered price = %v, want 1", ev.Price)
	}
	select {
	case ev := <-r.events:
		t.Errorf("unexpected second event %+v", ev)
	default:
	}
}

func TestDispatchDuringRouteRemoval(t *testing.T) {
	p := New(Config{BufferSize: 1}, testLogger(t))
	for i := 0; i < 500; i++ {
		r := &route{
			symbol: "BTCUSDT",
			events: make(chan models.TradeEvent, 1),
			errs:   make(chan error, 1),
		}
		p.mu.Lock()
		p.routes["BTCUSDT"] = []*route{r}
		p.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.dispatch(models.TradeEvent{Symbol: "BTCUSDT", Price: 1})
		}()
		go func() {
			defer wg.Done()
			p.removeRoute(r)
		}()
		wg.Wait()
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	p := New(Config{}, testLogger(t))
	if err := p.Disconnect(); err != nil {
		t.Fatalf("disconnect on fresh provider: %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}
