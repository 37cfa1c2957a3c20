// Package model defines the domain types shared across components.
//
// Conventions:
//   - Timestamps: time.Time in memory, epoch milliseconds on the wire
//   - IDs: uuid.UUID for transactions, string for subnet IDs
//   - Money: float64 in display currency (formatting is the UI's concern)
package model
