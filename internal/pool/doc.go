// Package pool multiplexes wallet log subscriptions onto a bounded set of
// streaming connections.
//
// The Pool:
//   - Places each watched address on the first open connection with spare
//     capacity, opening a new connection while below the connection limit
//   - Keeps address -> subscribers in a registry that outlives connections
//   - Reconnects failed connections with exponential backoff and resubscribes
//     their wallets, or redistributes them once retries are exhausted
//   - Hands every logs notification to a NotificationSink
//
// All pool state is owned by one event loop goroutine. Public methods,
// transports and timers talk to it through typed events, so none of the
// state needs locking.
package pool
