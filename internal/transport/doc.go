// Package transport implements the persistent WebSocket connection.
//
// The transport:
//   - Owns exactly one physical connection and its read/heartbeat loops
//   - Reconnects with exponential backoff up to a configured attempt cap
//   - Measures heartbeat round-trip latency into connection metrics
//   - Multiplexes application topics to subscriber callbacks
//
// It carries no business semantics; payload handling lives in the
// orchestrator.
package transport
