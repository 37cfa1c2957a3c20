package transport

import (
	"testing"
	"time"
)

func TestReconnectPolicy_Delay(t *testing.T) {
	policy := ReconnectPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectPolicy_DelayJitter(t *testing.T) {
	policy := ReconnectPolicy{
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	// 0.5x to 1.5x of the base delay
	for i := 0; i < 100; i++ {
		d := policy.Delay(1)
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("Delay(1) = %v, want between 1s and 3s", d)
		}
	}
}

func TestQualityForLatency(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    Quality
	}{
		{50 * time.Millisecond, QualityExcellent},
		{149 * time.Millisecond, QualityExcellent},
		{150 * time.Millisecond, QualityGood},
		{299 * time.Millisecond, QualityGood},
		{300 * time.Millisecond, QualityFair},
		{599 * time.Millisecond, QualityFair},
		{600 * time.Millisecond, QualityPoor},
		{2 * time.Second, QualityPoor},
	}

	for _, tt := range tests {
		if got := QualityForLatency(tt.latency); got != tt.want {
			t.Errorf("QualityForLatency(%v) = %s, want %s", tt.latency, got, tt.want)
		}
	}
}
