package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("store disabled")

// Config configures persistence.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", persistence is disabled and dedup state
// is volatile, which is the documented default.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Version is the persisted form of a document's last-delivered fingerprint.
// Channel keys are plain strings so the store stays decoupled from the
// delivery package.
type Version struct {
	VersionID         string               `json:"version_id"`
	DocumentID        string               `json:"document_id"`
	Hash              string               `json:"hash"`
	CreatedAt         time.Time            `json:"created_at"`
	ChannelsPublished map[string]time.Time `json:"channels_published,omitempty"`
}

// JobLogEntry records one finished sync job for operator review.
// Keep it compact and schema-stable.
type JobLogEntry struct {
	At            time.Time `json:"at"`
	JobID         string    `json:"job_id"`
	DocumentID    string    `json:"document_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Status        string    `json:"status"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	DurationMS    int64     `json:"took_ms"`
	Skipped       bool      `json:"skipped,omitempty"`
	Error         string    `json:"error,omitempty"`
}
