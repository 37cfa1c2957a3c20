package model

import (
	"time"

	"github.com/google/uuid"
)

// DashboardMetrics is the aggregate metrics snapshot shown on the dashboard.
type DashboardMetrics struct {
	TotalVolume      float64   `json:"total_volume"`      // Settled volume in the display currency
	TransactionCount int64     `json:"transaction_count"` // Lifetime transaction count
	ActiveUsers      int64     `json:"active_users"`      // Users active in the current window
	SuccessRate      float64   `json:"success_rate"`      // 0-100
	AvgSettlementMs  float64   `json:"avg_settlement_ms"` // Mean settlement time
	CycleBalance     uint64    `json:"cycle_balance"`     // Remaining compute cycles
	UpdatedAt        time.Time `json:"updated_at"`
}

// TransactionStatus is the settlement state of a payment.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is a single payment visible in the live feed.
type Transaction struct {
	ID        uuid.UUID         `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Amount    float64           `json:"amount"`
	Currency  string            `json:"currency"`
	Status    TransactionStatus `json:"status"`
	SubnetID  string            `json:"subnet_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// ServiceError is an error event published by the backend, distinct from
// locally raised faults. It flows through the error_update topic.
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	SubnetID  string    `json:"subnet_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubnetInfo identifies a backend partition whose health is monitored.
type SubnetInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NodeCount int    `json:"node_count"`
	Region    string `json:"region"`
}

// DashboardSnapshot is the polling fallback payload: everything the
// streamed topics would have delivered since the last poll.
type DashboardSnapshot struct {
	Metrics      DashboardMetrics `json:"metrics"`
	Transactions []Transaction    `json:"transactions"`
	Errors       []ServiceError   `json:"errors"`
}
