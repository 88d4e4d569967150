package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:          ":8080",
			ReadTimeout:      Duration{Duration: 15 * time.Second},
			WriteTimeout:     Duration{Duration: 15 * time.Second},
			IdleTimeout:      Duration{Duration: 60 * time.Second},
			HandshakeTimeout: Duration{Duration: 5 * time.Second},
			RateLimit:        0,
			RateLimitWindow:  Duration{Duration: time.Minute},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
		},
		Blockbook: BlockbookConfig{
			PingInterval:  Duration{Duration: 30 * time.Second},
			FetchTimeout:  Duration{Duration: 10 * time.Second},
			ReconnectBase: Duration{Duration: time.Second},
			ReconnectCap:  Duration{Duration: 30 * time.Second},
			Chain:         "BTC",
			Currency:      "BTC",
		},
		Invoices: InvoicesConfig{
			BaseURL:             "https://api.anypayx.com",
			OptionTTL:           Duration{Duration: 15 * time.Minute},
			DefaultDenomination: "USD",
		},
		Prices: PricesConfig{
			RefreshInterval: Duration{Duration: 60 * time.Second},
		},
		Sessions: SessionsConfig{
			QueueSize:    256,
			DrainTimeout: Duration{Duration: 5 * time.Second},
		},
		AMQP: AMQPConfig{
			Exchange: "anypay.events",
		},
		Webhooks: WebhooksConfig{
			Timeout:         Duration{Duration: 10 * time.Second},
			MaxAttempts:     5,
			InitialInterval: Duration{Duration: time.Second},
			MaxInterval:     Duration{Duration: 30 * time.Second},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// validate rejects configurations the hub cannot run with.
func (c *Config) validate() error {
	if c.Sessions.QueueSize <= 0 {
		return fmt.Errorf("sessions.queue_size must be positive, got %d", c.Sessions.QueueSize)
	}
	if c.Invoices.OptionTTL.Duration <= 0 {
		return fmt.Errorf("invoices.option_ttl must be positive")
	}
	if c.Prices.RefreshInterval.Duration <= 0 {
		return fmt.Errorf("prices.refresh_interval must be positive")
	}
	if c.Blockbook.ReconnectBase.Duration > c.Blockbook.ReconnectCap.Duration {
		return fmt.Errorf("blockbook.reconnect_base exceeds reconnect_cap")
	}
	return nil
}
