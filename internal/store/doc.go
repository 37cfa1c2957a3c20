// Package store archives fault reports and subnet health scores to
// Postgres in batches. Disabled by default; the live dashboard reads only
// the in-memory histories.
package store
