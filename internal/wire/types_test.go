package wire

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	data := `{"type":"metrics_update","timestamp":1705328200123,"data":{"active_users":7},"metadata":{"source":"gateway-2"}}`

	env, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if env.Type != TopicMetrics {
		t.Errorf("Type = %s, want %s", env.Type, TopicMetrics)
	}
	if env.Timestamp != 1705328200123 {
		t.Errorf("Timestamp = %d, want 1705328200123", env.Timestamp)
	}
	if env.Metadata == nil || env.Metadata.Source != "gateway-2" {
		t.Errorf("Metadata = %+v, want source gateway-2", env.Metadata)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid frame")
	}
}

func TestIsReserved(t *testing.T) {
	for _, frameType := range []string{TypeSubscribe, TypeUnsubscribe, TypeHeartbeat, TypeHeartbeatReply} {
		if !IsReserved(frameType) {
			t.Errorf("IsReserved(%s) = false, want true", frameType)
		}
	}
	for _, topic := range []string{TopicMetrics, TopicTransactions, TopicErrors, TopicSubnetHealth} {
		if IsReserved(topic) {
			t.Errorf("IsReserved(%s) = true, want false", topic)
		}
	}
}

func TestNewHeartbeat(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 500*int(time.Millisecond), time.UTC)

	hb := NewHeartbeat(now)
	if hb.Type != TypeHeartbeat {
		t.Errorf("Type = %s, want %s", hb.Type, TypeHeartbeat)
	}
	if hb.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", hb.Timestamp, now.UnixMilli())
	}
	if got := time.UnixMilli(hb.Timestamp).UTC(); !got.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("round-trip = %v, want %v", got, now.Truncate(time.Millisecond))
	}
}
