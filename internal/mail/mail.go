// Package mail delivers plain-text alert emails through a pluggable transport.
package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Message is a single plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message to one recipient.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a transport.
type Config struct {
	Driver string // "log", "smtp" or "resend"
	From   string
	SMTP   SMTPConfig
	Resend ResendConfig
}

// New builds the Mailer named by cfg.Driver. A resend or smtp driver without
// credentials falls back to logging the message.
func New(cfg Config, logger *zap.Logger) (Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "log":
		return NewLogMailer(logger), nil
	case "resend":
		if cfg.Resend.APIKey == "" || cfg.From == "" {
			logger.Warn("resend api key or sender missing, falling back to log mailer")
			return NewLogMailer(logger), nil
		}
		return NewResendMailer(cfg.From, cfg.Resend, logger), nil
	case "smtp":
		if cfg.SMTP.Host == "" || cfg.From == "" {
			logger.Warn("smtp host or sender missing, falling back to log mailer")
			return NewLogMailer(logger), nil
		}
		return NewSMTPMailer(cfg.From, cfg.SMTP)
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
}
