// Package database opens the PostgreSQL pool used by the delivery journal.
//
// The database is optional. When config.DBConfig.Host is empty the watcher
// never calls Connect and runs without a journal.
package database
