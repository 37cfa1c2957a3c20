// Package poller implements the polling fallback data source.
//
// The poller:
//   - Fetches the combined dashboard snapshot over REST on a fixed interval
//   - Runs only while the streaming transport is unavailable
//   - Supports runtime interval changes for bandwidth optimization
package poller
