package transport

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/tidepay/realtime/internal/wire"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no heartbeat reply)")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Status is the transport connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Quality bands derived from heartbeat round-trip latency.
type Quality string

const (
	QualityExcellent Quality = "excellent" // < 150ms
	QualityGood      Quality = "good"      // < 300ms
	QualityFair      Quality = "fair"      // < 600ms
	QualityPoor      Quality = "poor"
)

// QualityForLatency maps a heartbeat round-trip to a quality band.
func QualityForLatency(latency time.Duration) Quality {
	switch {
	case latency < 150*time.Millisecond:
		return QualityExcellent
	case latency < 300*time.Millisecond:
		return QualityGood
	case latency < 600*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Metrics are the transport's connection counters. Mutated only by the
// transport's own loops; callers get a copy.
type Metrics struct {
	Latency          time.Duration // Last heartbeat round-trip
	MessagesSent     int64
	MessagesReceived int64
	ReconnectCount   int64
	LastReconnect    time.Time
	Uptime           time.Duration // Since the current connection opened
	ErrorCount       int64
	MalformedFrames  int64 // Inbound frames dropped as unparsable
}

// ReconnectPolicy controls the exponential backoff reconnection loop.
type ReconnectPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// Delay returns the wait before the given zero-based attempt:
// InitialDelay * BackoffMultiplier^attempt, capped at MaxDelay.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter {
		// 0.5x to 1.5x
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// Config configures a Transport.
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration // 0 disables the heartbeat
	Reconnect         ReconnectPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Reconnect: ReconnectPolicy{
			MaxAttempts:       5,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// MessageHandler receives frames for a subscribed topic.
type MessageHandler func(env wire.Envelope)

// StatusHandler receives status transitions.
type StatusHandler func(s Status)
