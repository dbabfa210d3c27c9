package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings. Precedence is file over environment
// over defaults, with Validate run on the merged result.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Store     StoreConfig     `toml:"store"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Relay     RelayConfig     `toml:"relay"`
	Logging   LoggingConfig   `toml:"logging"`
}

type HTTPConfig struct {
	Host         string        `toml:"host" env:"GEOCHAT_HTTP_HOST"`
	Port         int           `toml:"port" env:"GEOCHAT_HTTP_PORT"`
	ReadTimeout  time.Duration `toml:"read_timeout" env:"GEOCHAT_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `toml:"write_timeout" env:"GEOCHAT_HTTP_WRITE_TIMEOUT"`
}

type StoreConfig struct {
	Path string `toml:"path" env:"GEOCHAT_STORE_PATH"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `toml:"ping_interval" env:"GEOCHAT_WEBSOCKET_PING_INTERVAL"`
	ReadTimeout  time.Duration `toml:"read_timeout" env:"GEOCHAT_WEBSOCKET_READ_TIMEOUT"`
	WriteTimeout time.Duration `toml:"write_timeout" env:"GEOCHAT_WEBSOCKET_WRITE_TIMEOUT"`
	SendBuffer   int           `toml:"send_buffer" env:"GEOCHAT_WEBSOCKET_SEND_BUFFER"`
}

type RelayConfig struct {
	URL           string        `toml:"url" env:"GEOCHAT_RELAY_URL"`
	Timeout       time.Duration `toml:"timeout" env:"GEOCHAT_RELAY_TIMEOUT"`
	Participant   string        `toml:"participant" env:"GEOCHAT_RELAY_PARTICIPANT"`
	Seed          bool          `toml:"seed" env:"GEOCHAT_RELAY_SEED"`
	SeedLatitude  float64       `toml:"seed_latitude" env:"GEOCHAT_RELAY_SEED_LATITUDE"`
	SeedLongitude float64       `toml:"seed_longitude" env:"GEOCHAT_RELAY_SEED_LONGITUDE"`
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"GEOCHAT_LOG_LEVEL"`
	Format string `toml:"format" env:"GEOCHAT_LOG_FORMAT"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "./geochat.db",
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   100,
		},
		Relay: RelayConfig{
			URL:           "http://localhost:5005/ask",
			Timeout:       15 * time.Second,
			Participant:   "HIGMA",
			Seed:          true,
			SeedLatitude:  34.7642462,
			SeedLongitude: 137.3875706,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load merges defaults, environment variables and an optional TOML file,
// then validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay url cannot be empty")
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("relay timeout must be positive")
	}
	if c.Relay.Participant == "" {
		return fmt.Errorf("relay participant cannot be empty")
	}
	if c.Relay.Seed {
		if c.Relay.SeedLatitude < -90 || c.Relay.SeedLatitude > 90 {
			return fmt.Errorf("relay seed latitude must be between -90 and 90")
		}
		if c.Relay.SeedLongitude < -180 || c.Relay.SeedLongitude > 180 {
			return fmt.Errorf("relay seed longitude must be between -180 and 180")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
