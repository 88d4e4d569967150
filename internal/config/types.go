package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Blockbook BlockbookConfig `yaml:"blockbook"`
	Invoices  InvoicesConfig  `yaml:"invoices"`
	Prices    PricesConfig    `yaml:"prices"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
}

// ServerConfig holds the HTTP surface that mounts the WebSocket endpoint.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	HandshakeTimeout   Duration `yaml:"handshake_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimit          int      `yaml:"rate_limit"`        // requests per IP per window, 0 disables
	RateLimitWindow    Duration `yaml:"rate_limit_window"` //
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds the Postgres backing store configuration.
type DatabaseConfig struct {
	PostgresURL     string   `yaml:"postgres_url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// BlockbookConfig holds the block-notification provider configuration.
type BlockbookConfig struct {
	Host           string   `yaml:"host"`    // e.g. btc.blockbook.example.com
	APIKey         string   `yaml:"api_key"` // path segment on both WS and HTTP endpoints
	PingInterval   Duration `yaml:"ping_interval"`
	FetchTimeout   Duration `yaml:"fetch_timeout"`
	ReconnectBase  Duration `yaml:"reconnect_base"`
	ReconnectCap   Duration `yaml:"reconnect_cap"`
	Chain          string   `yaml:"chain"`    // chain the provider watches, informational
	Currency       string   `yaml:"currency"` //
}

// InvoicesConfig holds invoice and payment-option policy.
type InvoicesConfig struct {
	BaseURL             string   `yaml:"base_url"`             // external short-URL host
	OptionTTL           Duration `yaml:"option_ttl"`           // payment option validity window
	DefaultDenomination string   `yaml:"default_denomination"` // when the account carries none
}

// PricesConfig holds the FX cache refresh policy.
type PricesConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// SessionsConfig holds per-connection queue and shutdown policy.
type SessionsConfig struct {
	QueueSize    int      `yaml:"queue_size"`    // outbound messages buffered per session
	DrainTimeout Duration `yaml:"drain_timeout"` // writer drain budget at shutdown
}

// AMQPConfig holds the optional broker sink configuration.
type AMQPConfig struct {
	URL      string `yaml:"url"` // empty disables the sink
	Exchange string `yaml:"exchange"`
}

// WebhooksConfig holds merchant webhook delivery policy.
type WebhooksConfig struct {
	Timeout         Duration `yaml:"timeout"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}
