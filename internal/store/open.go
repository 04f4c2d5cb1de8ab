// Package store persists contentsync state that should survive a restart:
// document fingerprints (the dedup oracle) and a job outcome log.
//
// The orchestrator works identically with no store at all; the job table
// itself is always in-memory.
package store

import (
	"context"
	"errors"
	"strings"

	logx "contentsync/pkg/logx"
)

// Store is the minimal persistence API used by the orchestrator.
type Store interface {
	// SaveVersion overwrites the version for its document (most-recent-wins).
	SaveVersion(ctx context.Context, v Version) error
	// Versions returns every retained version, one per document.
	Versions(ctx context.Context) ([]Version, error)
	AppendJobLog(ctx context.Context, e JobLogEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
