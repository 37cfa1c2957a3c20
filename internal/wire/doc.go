// Package wire defines the message envelope shared by the WebSocket
// transport and the backend.
//
// Frames are JSON with a discriminating "type" field. Reserved types
// (subscribe, unsubscribe, heartbeat, heartbeat_reply) are consumed by the
// transport; all other types are application topics dispatched to
// subscribers. Unknown topics are forwarded untouched for forward
// compatibility.
package wire
