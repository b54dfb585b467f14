// Package dispatch turns logs notifications into messages for subscribers.
//
// For every notification the Dispatcher resolves the owning wallet, looks
// up its subscribers, renders one message and calls the Notifier once per
// subscriber. Deliveries are best-effort: a failing or panicking Notifier
// is logged and counted, never retried, and never blocks the others.
package dispatch
