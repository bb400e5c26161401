package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultResendEndpoint is the Resend send-email API.
const DefaultResendEndpoint = "https://api.resend.com/emails"

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	APIKey   string
	Endpoint string
}

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	from     string
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewResendMailer creates a ResendMailer. Pass nil logger to discard logs.
func NewResendMailer(from string, cfg ResendConfig, logger *zap.Logger) *ResendMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultResendEndpoint
	}
	return &ResendMailer{
		from:     from,
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (r *ResendMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(resendPayload{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("marshaling resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		r.logger.Warn("resend returned non-2xx status",
			zap.String("to", msg.To),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("sending mail to %s: resend returned %d: %s", msg.To, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
