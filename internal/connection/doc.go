// Package connection implements the streaming transport used by the pool.
//
// A Client wraps one gorilla/websocket connection to the upstream RPC node:
//   - Dials with a handshake timeout bounded by the caller's context
//   - Moves through CONNECTING, OPEN, CLOSING and CLOSED
//   - Answers server pings and sends keepalive pings of its own
//   - Delivers every inbound frame with a local receive timestamp
//
// A Client is single-use. Reconnecting means building a new Client for the
// same logical connection id.
package connection
