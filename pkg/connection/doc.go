// Package connection implements the transport-independent connection that
// application code talks to once a handshake has been accepted.
//
// A Connection owns three listener registries (message, connection and
// frame listeners) and delegates writes to a transport capability:
//
//   - StreamingContext writes enveloped frames straight to a live Socket
//     (TCP, WebSocket).
//   - PollingContext serializes messages into a MessageQueue from which the
//     peer pulls them with polling requests (HTTP polling, long polling).
//
// Lifecycle:
//
//	Unauthenticated ──handshake frame──▶ Handshaking ──accepted──▶ Established
//	                                          │                        │
//	                                          └──rejected──▶ Closed ◀──┘ close / disconnect
//
// Closing is idempotent. It notifies connection listeners, drops every
// registration and releases queued buffers.
package connection
