// Package model defines shared data types used across the wallet watcher.
//
// Conventions:
//   - Addresses: base58 strings exactly as the chat layer supplied them (no normalization)
//   - Subscribers: int64 chat ids
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: uuid.UUID for delivery records
package model
