package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "contentsync/pkg/logx"
)

// EmailConfig configures the bulk-mail provider endpoint.
type EmailConfig struct {
	Endpoint string
	APIKey   string
	ListID   string
	Guard    GuardConfig
}

// EmailSender publishes a payload as a bulk mailing through the provider's
// HTTP API. The receipt carries the number of recipients accepted.
type EmailSender struct {
	cfg   EmailConfig
	http  *http.Client
	guard *guard
	log   logx.Logger
}

func NewEmailSender(cfg EmailConfig, log logx.Logger) *EmailSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EmailSender{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		guard: newGuard(cfg.Guard),
		log:   log,
	}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, p Payload) (Receipt, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return Receipt{}, fmt.Errorf("%w: empty subject", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Body) == "" {
		return Receipt{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var rcpt Receipt
	err := s.guard.do(ctx, func(ctx context.Context) error {
		r, err := s.post(ctx, p)
		if err != nil {
			return err
		}
		rcpt = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("bulk mail accepted",
		logx.String("correlation_id", p.CorrelationID),
		logx.Int("delivered", rcpt.Delivered),
	)
	return rcpt, nil
}

func (s *EmailSender) post(ctx context.Context, p Payload) (Receipt, error) {
	body, err := json.Marshal(map[string]any{
		"list_id": s.cfg.ListID,
		"subject": p.Subject,
		"body":    p.Body,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("email send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Receipt{}, fmt.Errorf("email send: provider status %d", resp.StatusCode)
	}

	var out struct {
		Delivered int `json:"delivered"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("email send: decode response: %w", err)
	}
	return Receipt{Delivered: out.Delivered}, nil
}
