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

// WebsiteConfig configures the CMS publishing endpoint.
type WebsiteConfig struct {
	Endpoint string
	APIKey   string
	Guard    GuardConfig
}

// WebsiteSender publishes a payload as a CMS page. The receipt carries the
// created page id and public URL.
type WebsiteSender struct {
	cfg   WebsiteConfig
	http  *http.Client
	guard *guard
	log   logx.Logger
}

func NewWebsiteSender(cfg WebsiteConfig, log logx.Logger) *WebsiteSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebsiteSender{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		guard: newGuard(cfg.Guard),
		log:   log,
	}
}

func (s *WebsiteSender) Channel() Channel { return ChannelWebsite }

func (s *WebsiteSender) Send(ctx context.Context, p Payload) (Receipt, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return Receipt{}, fmt.Errorf("%w: empty title", ErrInvalidPayload)
	}

	var rcpt Receipt
	err := s.guard.do(ctx, func(ctx context.Context) error {
		r, err := s.publish(ctx, p)
		if err != nil {
			return err
		}
		rcpt = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("page published",
		logx.String("correlation_id", p.CorrelationID),
		logx.String("url", rcpt.URL),
	)
	return rcpt, nil
}

func (s *WebsiteSender) publish(ctx context.Context, p Payload) (Receipt, error) {
	body, err := json.Marshal(map[string]any{
		"title":   p.Subject,
		"content": p.Body,
		"status":  "published",
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
		return Receipt{}, fmt.Errorf("website publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Receipt{}, fmt.Errorf("website publish: cms status %d", resp.StatusCode)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("website publish: decode response: %w", err)
	}
	return Receipt{ID: out.ID, URL: out.URL}, nil
}
