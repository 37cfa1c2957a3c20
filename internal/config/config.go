package config

import "time"

// Config is the root configuration for a dashd instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Poller   PollerConfig   `yaml:"poller"`
	Health   HealthConfig   `yaml:"health"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this dashd instance.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	Region string `yaml:"region"`
}

// RealtimeConfig holds WebSocket transport and orchestrator settings.
type RealtimeConfig struct {
	WSURL             string          `yaml:"ws_url"`
	HandshakeTimeout  time.Duration   `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"` // 0 disables heartbeat
	Reconnect         ReconnectConfig `yaml:"reconnect"`

	// Fallback selects the secondary data source when the transport cannot
	// connect: "polling" (default) or "none".
	Fallback string `yaml:"fallback"`

	// BandwidthOptimization starts the orchestrator with reduced polling
	// cadence and coalesced subscription churn. Togglable at runtime.
	BandwidthOptimization bool `yaml:"bandwidth_optimization"`
}

// ReconnectConfig holds the transport reconnection policy.
type ReconnectConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

// APIConfig holds the REST endpoint used by the polling fallback and the
// health sampler.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PollerConfig holds polling fallback settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"` // Per-request timeout
}

// HealthConfig holds subnet health monitor settings.
type HealthConfig struct {
	Interval         time.Duration  `yaml:"interval"`
	SampleTimeout    time.Duration  `yaml:"sample_timeout"`
	UptimeMin        float64        `yaml:"uptime_min"`        // Percent, critical below
	PerformanceFloor float64        `yaml:"performance_floor"` // 0-100, warning below
	AlertCooldown    time.Duration  `yaml:"alert_cooldown"`
	Subnets          []SubnetConfig `yaml:"subnets"`
}

// SubnetConfig registers a monitored backend partition.
type SubnetConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	NodeCount int    `yaml:"node_count"`
	Region    string `yaml:"region"`
}

// StoreConfig holds the optional Postgres archive for error reports and
// health scores.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
