package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Stream struct {
		Symbols     []string      `yaml:"symbols" validate:"min=1"`
		Provider    string        `yaml:"provider" default:"binance" validate:"oneof=binance coinbase"`
		BufferSize  int           `yaml:"buffer_size" default:"1024"`
		PingInterval time.Duration `yaml:"ping_interval" default:"15s"`
		Reconnect   struct {
			InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
			MaxInterval     time.Duration `yaml:"max_interval" default:"60s"`
			Multiplier      float64       `yaml:"multiplier" default:"2.0"`
			Jitter          float64       `yaml:"jitter" default:"0.5"`
			MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" default:"10m"`
		} `yaml:"reconnect"`
		Binance struct {
			WebSocketURL string `yaml:"websocket_url" default:"wss://stream.binance.com:9443/ws"`
		} `yaml:"binance"`
		Coinbase struct {
			WebSocketURL string `yaml:"websocket_url" default:"wss://ws-feed.exchange.coinbase.com"`
		} `yaml:"coinbase"`
	} `yaml:"stream"`
	Detector struct {
		WindowSize        int     `yaml:"window_size" default:"1000" validate:"gt=0"`
		TimeWindowSeconds int     `yaml:"time_window_seconds"` // 0 disables the age bound
		DefaultPercentile float64 `yaml:"default_percentile" default:"99.0" validate:"gt=0,lte=100"`
		MinUSDValue       float64 `yaml:"min_usd_value"` // 0 disables the absolute floor
	} `yaml:"detector"`
	Backend struct {
		Type string `yaml:"type" default:"kafka" validate:"oneof=kafka clickhouse both none"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"wrdata.whale-events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"wrdata"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Cache struct {
		TTL   time.Duration `yaml:"ttl" default:"5m"`
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Stream.Provider = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Redis.Enabled = true
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Backend.Type {
	case "kafka", "both":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers required for backend %q", c.Backend.Type)
		}
	}
	if c.Backend.Type == "clickhouse" || c.Backend.Type == "both" {
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host required for backend %q", c.Backend.Type)
		}
	}
	return nil
}
