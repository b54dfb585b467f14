package notify

import (
	"context"
	"log/slog"

	"github.com/rickgao/wallet-watch/internal/model"
)

// Log writes notifications to a logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, subscriber model.SubscriberID, message string) error {
	l.logger.Info("notification", "subscriber", subscriber, "message", message)
	return nil
}
