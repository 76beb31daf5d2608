package detector

import (
	"errors"
	"math"
	"testing"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func feed(t *testing.T, d *Detector, symbol string, volumes ...float64) {
	t.Helper()
	for _, v := range volumes {
		if _, err := d.Process(symbol, v, 100, "binance"); err != nil {
			t.Fatalf("process %v: %v", v, err)
		}
	}
}

func TestClassificationAtThresholdBoundary(t *testing.T) {
	// window ends up as [10,20,30,40,50]; the last insert (40) ranks 4/5 = p80
	check := func(threshold float64, wantWhale bool) {
		d := New(Config{DefaultPercentile: threshold}, testLogger(t))
		feed(t, d, "BTCUSDT", 10, 20, 30, 50)
		cls, err := d.Process("BTCUSDT", 40, 100, "binance")
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if cls.Rank != 4 || cls.Percentile != 80 {
			t.Fatalf("rank/percentile = %d/%v, want 4/80", cls.Rank, cls.Percentile)
		}
		if cls.IsWhale != wantWhale {
			t.Fatalf("threshold %v: IsWhale = %v, want %v", threshold, cls.IsWhale, wantWhale)
		}
	}
	check(80, true)
	check(81, false)
}

func TestMinUSDValueANDComposition(t *testing.T) {
	d := New(Config{DefaultPercentile: 99, MinUSDValue: 1_000_000}, testLogger(t))
	feed(t, d, "ETHUSDT", 1, 2, 3, 4, 5, 6, 7, 8, 9)
	// volume 100 at price 10 tops the window (percentile 100) but is
	// worth only $1000, below the configured floor
	cls, err := d.Process("ETHUSDT", 100, 10, "binance")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if cls.Percentile != 100 {
		t.Fatalf("percentile = %v, want 100", cls.Percentile)
	}
	if cls.IsWhale {
		t.Fatalf("trade below min USD value must not classify as whale")
	}

	// same ranking with a price that clears the floor
	cls, err = d.Process("ETHUSDT", 200, 10_000, "binance")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !cls.IsWhale {
		t.Fatalf("expected whale once both criteria hold, got %+v", cls)
	}
}

func TestInsufficientDataIsNotAWhaleAndNotAnError(t *testing.T) {
	d := New(Config{}, testLogger(t))
	cls, err := d.Process("SOLUSDT", 500, 20, "coinbase")
	if err != nil {
		t.Fatalf("first trade must not error: %v", err)
	}
	if !cls.InsufficientData || cls.IsWhale {
		t.Fatalf("single-entry window: %+v", cls)
	}
}

func TestInvalidInputRaisedSynchronously(t *testing.T) {
	d := New(Config{}, testLogger(t))
	cases := []struct{ volume, price float64 }{
		{-1, 100},
		{1, -100},
		{math.NaN(), 100},
		{1, math.Inf(1)},
	}
	for _, tc := range cases {
		if _, err := d.Process("BTCUSDT", tc.volume, tc.price, "binance"); !errors.Is(err, repository.ErrInvalidInput) {
			t.Fatalf("volume=%v price=%v: expected ErrInvalidInput, got %v", tc.volume, tc.price, err)
		}
	}
	// rejected trades never touch the window
	if _, ok := d.Statistics("BTCUSDT"); ok {
		t.Fatalf("rejected input must not create tracker state")
	}
}

func TestPerCallThresholdOverride(t *testing.T) {
	d := New(Config{DefaultPercentile: 99}, testLogger(t))
	feed(t, d, "BTCUSDT", 10, 20, 30, 50)
	cls, err := d.ProcessAt("BTCUSDT", 40, 100, "binance", 75)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !cls.IsWhale || cls.Threshold != 75 {
		t.Fatalf("override threshold not honored: %+v", cls)
	}
	if _, err := d.ProcessAt("BTCUSDT", 40, 100, "binance", 0); !errors.Is(err, repository.ErrInvalidInput) {
		t.Fatalf("threshold 0 must be rejected, got %v", err)
	}
}

func TestLazyTrackerPerSymbol(t *testing.T) {
	d := New(Config{}, testLogger(t))
	feed(t, d, "BTCUSDT", 1, 2, 3)
	feed(t, d, "ETHUSDT", 10, 20)

	all := d.AllStatistics()
	if len(all) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(all))
	}
	if all["BTCUSDT"].Count != 3 || all["ETHUSDT"].Count != 2 {
		t.Fatalf("windows mixed across symbols: %+v", all)
	}
	if all["BTCUSDT"].Symbol != "BTCUSDT" {
		t.Fatalf("symbol not attached to statistics")
	}
}

func TestEnrichAttachesClassificationAndUSDValue(t *testing.T) {
	d := New(Config{DefaultPercentile: 50}, testLogger(t))
	feed(t, d, "BTCUSDT", 1, 2)
	ev, err := d.Enrich(models.TradeEvent{Symbol: "BTCUSDT", Size: 3, Price: 50000, Exchange: "binance"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if ev.Whale == nil || !ev.Whale.IsWhale {
		t.Fatalf("expected whale classification, got %+v", ev.Whale)
	}
	if ev.USDValue != 150000 {
		t.Fatalf("usd value = %v, want 150000", ev.USDValue)
	}
}
