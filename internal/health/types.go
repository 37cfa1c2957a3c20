package health

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Factors are the per-dimension inputs to a subnet's overall score.
type Factors struct {
	ResponseTime    float64 `json:"response_time"`
	Throughput      float64 `json:"throughput"`
	ErrorRate       float64 `json:"error_rate"`
	ConsensusHealth float64 `json:"consensus_health"`
	NodeHealth      float64 `json:"node_health"`
}

// Score is one health sample for a subnet. All values 0-100 except
// Factors.ResponseTime (milliseconds) and Factors.ErrorRate (percent).
type Score struct {
	Overall         float64   `json:"overall"`
	Uptime          float64   `json:"uptime"`
	Performance     float64   `json:"performance"`
	Reliability     float64   `json:"reliability"`
	Factors         Factors   `json:"factors"`
	Recommendations []string  `json:"recommendations,omitempty"`
	SampledAt       time.Time `json:"sampled_at"`
}

// AlertLevel is the urgency of a raised alert.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// AlertType names the rule that raised an alert.
type AlertType string

const (
	AlertUptime      AlertType = "uptime"
	AlertPerformance AlertType = "performance"
	AlertConsensus   AlertType = "consensus"
	AlertNodeHealth  AlertType = "node_health"
	AlertCapacity    AlertType = "capacity"
)

// AlertMetadata carries the measurement behind an alert.
type AlertMetadata struct {
	CurrentValue    float64 `json:"current_value"`
	Threshold       float64 `json:"threshold"`
	Trend           string  `json:"trend,omitempty"`
	EstimatedImpact string  `json:"estimated_impact,omitempty"`
}

// Alert is raised when a sampled score crosses a threshold. Acknowledged
// is the only field mutated after creation, plus ResolvedAt on resolve.
type Alert struct {
	ID           uuid.UUID     `json:"id"`
	SubnetID     string        `json:"subnet_id"`
	Level        AlertLevel    `json:"level"`
	Type         AlertType     `json:"type"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	Metadata     AlertMetadata `json:"metadata"`
}

// Sampler fetches a fresh health score for one subnet.
type Sampler interface {
	Sample(ctx context.Context, subnetID string) (Score, error)
}

// SamplerFunc is a function adapter for Sampler.
type SamplerFunc func(ctx context.Context, subnetID string) (Score, error)

func (f SamplerFunc) Sample(ctx context.Context, subnetID string) (Score, error) {
	return f(ctx, subnetID)
}

// Rule evaluates one score and optionally proposes an alert. Built-in
// uptime and performance rules are installed by default; more can be added
// with Monitor.AddRule.
type Rule func(subnetID string, s Score) (Alert, bool)

// Config holds monitor configuration.
type Config struct {
	Interval         time.Duration // Sampling interval (default: 60s)
	SampleTimeout    time.Duration // Per-subnet sample timeout (default: 10s)
	UptimeMin        float64       // Percent; critical alert below (default: 99.5)
	PerformanceFloor float64       // Warning alert below (default: 80)
	AlertCooldown    time.Duration // Dedup window per (subnet, type) (default: 5m)
	HistoryLimit     int           // Retained scores per subnet and alert records (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         60 * time.Second,
		SampleTimeout:    10 * time.Second,
		UptimeMin:        99.5,
		PerformanceFloor: 80,
		AlertCooldown:    5 * time.Minute,
		HistoryLimit:     1000,
	}
}
