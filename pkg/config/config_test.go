package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimal = `
stream:
  symbols: [BTCUSDT]
backend:
  type: none
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Stream.Provider != "binance" {
		t.Errorf("provider = %q, want binance", cfg.Stream.Provider)
	}
	if cfg.Detector.WindowSize != 1000 {
		t.Errorf("window size = %d, want 1000", cfg.Detector.WindowSize)
	}
	if cfg.Detector.DefaultPercentile != 99.0 {
		t.Errorf("default percentile = %v, want 99.0", cfg.Detector.DefaultPercentile)
	}
	// reconnect attempts are bounded out of the box
	if cfg.Stream.Reconnect.MaxElapsedTime != 10*time.Minute {
		t.Errorf("reconnect max elapsed = %v, want 10m", cfg.Stream.Reconnect.MaxElapsedTime)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Stream.Reconnect.InitialInterval != time.Second {
		t.Errorf("reconnect initial = %v, want 1s", cfg.Stream.Reconnect.InitialInterval)
	}
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	if _, err := Load(writeConfig(t, "backend:\n  type: none\n")); err == nil {
		t.Fatal("expected error for empty symbols")
	}
}

func TestLoadRejectsBadProvider(t *testing.T) {
	body := `
stream:
  symbols: [BTCUSDT]
  provider: kraken
backend:
  type: none
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestLoadRejectsBadPercentile(t *testing.T) {
	body := `
stream:
  symbols: [BTCUSDT]
detector:
  default_percentile: 150
backend:
  type: none
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for percentile > 100")
	}
}

func TestValidateBackendRequirements(t *testing.T) {
	body := `
stream:
  symbols: [BTCUSDT]
backend:
  type: kafka
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("kafka backend without brokers accepted")
	}

	body = `
stream:
  symbols: [BTCUSDT]
backend:
  type: clickhouse
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("clickhouse backend without host accepted")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "SOLUSDT,ADAUSDT")
	t.Setenv("PROVIDER", "coinbase")
	t.Setenv("BACKEND", "none")

	cfg, err := LoadWithEnv(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Stream.Symbols) != 2 || cfg.Stream.Symbols[0] != "SOLUSDT" {
		t.Errorf("symbols = %v, want env override", cfg.Stream.Symbols)
	}
	if cfg.Stream.Provider != "coinbase" {
		t.Errorf("provider = %q, want coinbase", cfg.Stream.Provider)
	}
}
