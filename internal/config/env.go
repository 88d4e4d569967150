package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use ANYPAY_ prefix except BASE_URL, which the wider platform
// already reads unprefixed.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "ANYPAY_SERVER_ADDRESS")

	setIfEnv(&c.Logging.Level, "ANYPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "ANYPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ANYPAY_ENVIRONMENT")

	setIfEnv(&c.Database.PostgresURL, "ANYPAY_POSTGRES_URL")
	setIntIfEnv(&c.Database.MaxOpenConns, "ANYPAY_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Database.MaxIdleConns, "ANYPAY_POSTGRES_MAX_IDLE_CONNS")

	setIfEnv(&c.Blockbook.Host, "ANYPAY_BLOCKBOOK_HOST")
	setIfEnv(&c.Blockbook.APIKey, "ANYPAY_BLOCKBOOK_API_KEY")
	setDurationIfEnv(&c.Blockbook.PingInterval, "ANYPAY_BLOCKBOOK_PING_INTERVAL")
	setDurationIfEnv(&c.Blockbook.FetchTimeout, "ANYPAY_BLOCKBOOK_FETCH_TIMEOUT")

	setIfEnv(&c.Invoices.BaseURL, "BASE_URL")
	setDurationIfEnv(&c.Invoices.OptionTTL, "ANYPAY_OPTION_TTL")
	setIfEnv(&c.Invoices.DefaultDenomination, "ANYPAY_DEFAULT_DENOMINATION")

	setDurationIfEnv(&c.Prices.RefreshInterval, "ANYPAY_PRICE_REFRESH_INTERVAL")

	setIntIfEnv(&c.Sessions.QueueSize, "ANYPAY_SESSION_QUEUE_SIZE")
	setDurationIfEnv(&c.Sessions.DrainTimeout, "ANYPAY_SESSION_DRAIN_TIMEOUT")

	setIfEnv(&c.AMQP.URL, "AMQP_URL")
	setIfEnv(&c.AMQP.Exchange, "ANYPAY_AMQP_EXCHANGE")

	setDurationIfEnv(&c.Webhooks.Timeout, "ANYPAY_WEBHOOK_TIMEOUT")
	setIntIfEnv(&c.Webhooks.MaxAttempts, "ANYPAY_WEBHOOK_MAX_ATTEMPTS")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
