package wire

import (
	"encoding/json"
	"time"
)

// Reserved frame types. Everything else is an application topic.
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeHeartbeat      = "heartbeat"
	TypeHeartbeatReply = "heartbeat_reply"
)

// Application topics multiplexed over one connection.
const (
	TopicMetrics        = "metrics_update"
	TopicTransactions   = "transaction_update"
	TopicErrors         = "error_update"
	TopicCanisterStatus = "canister_status"
	TopicSubnetHealth   = "subnet_health"
	TopicCycleAlert     = "cycle_alert"
)

// Envelope is the JSON frame exchanged over the persistent connection.
// Timestamp is epoch milliseconds.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Metadata  *Metadata       `json:"metadata,omitempty"`
}

// Metadata carries optional per-frame transport hints.
type Metadata struct {
	Source     string `json:"source,omitempty"`
	Version    string `json:"version,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// SubscribeFrame is sent outbound when a local subscription is added/removed.
type SubscribeFrame struct {
	Type    string `json:"type"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
}

// IsReserved reports whether a frame type is transport-internal rather
// than an application topic.
func IsReserved(frameType string) bool {
	switch frameType {
	case TypeSubscribe, TypeUnsubscribe, TypeHeartbeat, TypeHeartbeatReply:
		return true
	}
	return false
}

// Millis converts a time to the wire timestamp representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewHeartbeat builds the heartbeat frame whose timestamp the server echoes
// back in heartbeat_reply.
func NewHeartbeat(now time.Time) Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		Timestamp: Millis(now),
	}
}

// Parse decodes a raw inbound frame.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
