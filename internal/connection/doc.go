// Package connection implements the shared WebSocket connection registry.
//
// The registry:
//   - Deduplicates connections: all subscribers to one endpoint URL share a
//     single transport
//   - Drives each connection through an explicit lifecycle state machine
//   - Handles reconnection with exponential backoff and jitter
//   - Implements the application-level ping/pong heartbeat protocol
//   - Fans inbound envelopes out to subscribers in registration order with
//     per-callback fault isolation
package connection
