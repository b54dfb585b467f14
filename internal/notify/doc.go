// Package notify provides dispatch.Notifier implementations.
//
// Telegram treats the subscriber id as a chat id. Log writes every
// message to a slog.Logger and is used when no bot token is configured.
package notify
