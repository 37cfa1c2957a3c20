package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Realtime.Fallback != FallbackPolling && c.Realtime.Fallback != FallbackNone {
		return fmt.Errorf("realtime.fallback must be %q or %q, got %q",
			FallbackPolling, FallbackNone, c.Realtime.Fallback)
	}
	if c.Realtime.Reconnect.MaxAttempts < 1 {
		return errors.New("realtime.reconnect.max_attempts must be >= 1")
	}
	if c.Realtime.Reconnect.BackoffMultiplier < 1 {
		return errors.New("realtime.reconnect.backoff_multiplier must be >= 1")
	}
	if c.Realtime.Reconnect.MaxDelay < c.Realtime.Reconnect.InitialDelay {
		return fmt.Errorf("realtime.reconnect.max_delay (%s) cannot be below initial_delay (%s)",
			c.Realtime.Reconnect.MaxDelay, c.Realtime.Reconnect.InitialDelay)
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Health.UptimeMin < 0 || c.Health.UptimeMin > 100 {
		return fmt.Errorf("health.uptime_min must be between 0 and 100, got %v", c.Health.UptimeMin)
	}
	if c.Health.PerformanceFloor < 0 || c.Health.PerformanceFloor > 100 {
		return fmt.Errorf("health.performance_floor must be between 0 and 100, got %v", c.Health.PerformanceFloor)
	}
	for i, s := range c.Health.Subnets {
		if s.ID == "" {
			return fmt.Errorf("health.subnets[%d].id is required", i)
		}
	}

	if c.Store.Enabled {
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
		if c.Store.BatchSize < 1 {
			return errors.New("store.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
