// Package protocol implements the JSON-RPC 2.0 codec for logs subscriptions.
//
// The codec:
//   - Builds logsSubscribe / logsUnsubscribe request envelopes with process-unique ids
//   - Classifies every inbound frame exactly once into a Message variant
//     (Ack, UnsubscribeAck, Notification, ErrorReply, Unknown)
//
// Downstream code switches on the concrete Message type and never re-parses raw frames.
package protocol
