package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL             = "wss://pay.tidepay.io/rt/v1"
	DefaultRestURL           = "https://pay.tidepay.io/api/v1"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultInitialDelay      = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultFallback          = FallbackPolling
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultPollInterval      = 10 * time.Second
	DefaultPollTimeout       = 10 * time.Second
	DefaultHealthInterval    = 60 * time.Second
	DefaultSampleTimeout     = 10 * time.Second
	DefaultUptimeMin         = 99.5
	DefaultPerformanceFloor  = 80.0
	DefaultAlertCooldown     = 5 * time.Minute
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 5 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

// Fallback modes.
const (
	FallbackPolling = "polling"
	FallbackNone    = "none"
)

func (c *Config) applyDefaults() {
	// Realtime defaults
	if c.Realtime.WSURL == "" {
		c.Realtime.WSURL = DefaultWSURL
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Realtime.Fallback == "" {
		c.Realtime.Fallback = DefaultFallback
	}
	if c.Realtime.Reconnect.MaxAttempts == 0 {
		c.Realtime.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Realtime.Reconnect.InitialDelay == 0 {
		c.Realtime.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Realtime.Reconnect.MaxDelay == 0 {
		c.Realtime.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Realtime.Reconnect.BackoffMultiplier == 0 {
		c.Realtime.Reconnect.BackoffMultiplier = DefaultBackoffMultiplier
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Health defaults
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.SampleTimeout == 0 {
		c.Health.SampleTimeout = DefaultSampleTimeout
	}
	if c.Health.UptimeMin == 0 {
		c.Health.UptimeMin = DefaultUptimeMin
	}
	if c.Health.PerformanceFloor == 0 {
		c.Health.PerformanceFloor = DefaultPerformanceFloor
	}
	if c.Health.AlertCooldown == 0 {
		c.Health.AlertCooldown = DefaultAlertCooldown
	}

	// Store defaults
	if c.Store.Enabled {
		applyDBDefaults(&c.Store.Postgres)
		if c.Store.BatchSize == 0 {
			c.Store.BatchSize = DefaultBatchSize
		}
		if c.Store.FlushInterval == 0 {
			c.Store.FlushInterval = DefaultFlushInterval
		}
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
