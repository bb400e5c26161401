package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes messages to the log instead of sending them. Every send succeeds.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a LogMailer. Pass nil logger to discard messages.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs msg as an email_fallback entry.
func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.logger.Info("email_fallback",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
