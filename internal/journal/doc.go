// Package journal batches delivery attempts into PostgreSQL.
//
// Each attempted notification becomes one row in the deliveries table.
// The journal is append-only and is not used to restore subscriptions.
package journal
