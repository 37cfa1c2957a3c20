package faults

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type is the fault taxonomy tag.
type Type string

const (
	TypeNetwork        Type = "network"
	TypeWebSocket      Type = "websocket"
	TypeCanister       Type = "canister"
	TypeAuthentication Type = "authentication"
	TypeValidation     Type = "validation"
	TypeRateLimit      Type = "rate_limit"
	TypeCycles         Type = "cycles"
	TypeMemory         Type = "memory"
	TypeSubnet         Type = "subnet"
	TypeUnknown        Type = "unknown"
)

// Severity of a classified fault.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups faults by who or what must act on them.
type Category string

const (
	CategoryUser       Category = "user"
	CategorySystem     Category = "system"
	CategoryNetwork    Category = "network"
	CategoryBlockchain Category = "blockchain"
)

// Context carries the metadata known at the fault site.
type Context struct {
	Component   string   `json:"component,omitempty"`
	Operation   string   `json:"operation,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	SubnetID    string   `json:"subnet_id,omitempty"`
	Breadcrumbs []string `json:"breadcrumbs,omitempty"`
}

// ActionType identifies a recovery action.
type ActionType string

const (
	ActionRetry          ActionType = "retry"
	ActionReconnect      ActionType = "reconnect"
	ActionFallback       ActionType = "fallback"
	ActionRefresh        ActionType = "refresh"
	ActionContactSupport ActionType = "contact_support"
)

// Action is one ranked recovery step. Lower Priority means try first.
// Automated actions may be invoked without user confirmation.
type Action struct {
	Type        ActionType `json:"type"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Automated   bool       `json:"automated"`

	// Run performs the action when the system has one wired; nil for
	// user-driven actions like contacting support.
	Run func(ctx context.Context) error `json:"-"`
}

// Recovery is the suggested path out of a fault.
type Recovery struct {
	Suggested  string   `json:"suggested"`
	Actions    []Action `json:"actions"`
	AutoRetry  bool     `json:"auto_retry"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
}

// Analytics tracks how often a fault recurs.
type Analytics struct {
	Frequency       int       `json:"frequency"` // Occurrences of this (type, message) so far
	Impact          string    `json:"impact"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	LastOccurrence  time.Time `json:"last_occurrence"`
}

// Report is the fully classified record produced for every fault.
// Immutable after creation except Recovery.RetryCount during a retry loop.
type Report struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Category  Category  `json:"category"`
	Context   Context   `json:"context"`
	Stack     string    `json:"stack,omitempty"`
	Recovery  Recovery  `json:"recovery"`
	Analytics Analytics `json:"analytics"`
}

// Stats aggregates the in-memory history.
type Stats struct {
	Total      int              `json:"total"`
	ByType     map[Type]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByCategory map[Category]int `json:"by_category"`
	Recurring  []string         `json:"recurring"` // Fingerprints seen more than once
}

// TrendBucket is one hour of the 24h error time series.
type TrendBucket struct {
	Hour   time.Time    `json:"hour"`
	Total  int          `json:"total"`
	ByType map[Type]int `json:"by_type"`
}
