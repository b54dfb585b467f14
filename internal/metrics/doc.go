// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Streaming connections by state and reconnect attempts
//   - Bound wallets, redistributed and dropped wallets
//   - Protocol errors and unrecognized frames
//   - Notification deliveries by outcome and dispatch queue drops
//   - Journal batch sizes and write failures
//
// A nil *Metrics is valid and records nothing.
package metrics
