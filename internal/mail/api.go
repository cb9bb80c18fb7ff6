package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// APIConfig configures the HTTP mail API hand-off.
type APIConfig struct {
	// Endpoint is the messages URL of the mail API.
	Endpoint string
	// Secret is presented as a bearer credential.
	Secret string
	// From is the sender address stamped on every message.
	From string
	// Timeout bounds a single hand-off request.
	Timeout time.Duration
}

// APIMailer delivers messages by POSTing them to an HTTP mail API.
type APIMailer struct {
	endpoint string
	secret   string
	from     string
	client   *http.Client
	logger   *slog.Logger
}

// NewAPIMailer creates an HTTP mail API mailer.
func NewAPIMailer(cfg APIConfig, logger *slog.Logger) (*APIMailer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("mail endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIMailer{
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		from:     cfg.From,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "mail"),
	}, nil
}

func (m *APIMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.from
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.secret != "" {
		req.Header.Set("Authorization", "Bearer "+m.secret)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	m.logger.Debug("mail handed off", "to", msg.To, "subject", msg.Subject)
	return nil
}
