package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	logx "contentsync/pkg/logx"
)

const httpMaxBody = 8 << 20 // fetched documents are editorial text, cap hard

// HTTPFetcher retrieves documents whose id is an http(s) URL and whose body
// is the JSON encoding of a Document.
type HTTPFetcher struct {
	client *http.Client
	log    logx.Logger
}

func NewHTTPFetcher(timeout time.Duration, log logx.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, documentID string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", documentID, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", documentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %q: unexpected status %d", documentID, resp.StatusCode)
	}

	var doc Document
	dec := json.NewDecoder(io.LimitReader(resp.Body, httpMaxBody))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("fetch %q: decode: %w", documentID, err)
	}

	f.log.Debug("document fetched",
		logx.String("document", documentID),
		logx.Int("categories", len(doc)),
		logx.Duration("took", time.Since(start)),
	)
	return doc, nil
}
