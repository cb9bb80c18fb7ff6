// Package mail hands rendered notifications off to an outbound mail
// transport. Pulse does not speak SMTP itself; delivery goes through the
// host platform's HTTP mail API, with a log-only mailer for development
// and for deployments where mail is disabled.
package mail

import (
	"context"
	"log/slog"
)

// Message is a rendered outbound email.
type Message struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends a single message. Implementations must be safe for
// concurrent use; the dispatcher calls Send from per-recipient
// goroutines.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records outbound messages without sending them.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs. Used when mail delivery
// is disabled.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger.With("component", "mail")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail suppressed", "to", msg.To, "subject", msg.Subject)
	return nil
}
