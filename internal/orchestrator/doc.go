// Package orchestrator unifies the streaming transport and the polling
// fallback behind one set of typed update callbacks.
//
// The transport is always preferred. Polling activates only when the
// transport cannot connect or exhausts its reconnect attempts, and at most
// one source is active at any time so no update is delivered twice.
package orchestrator
