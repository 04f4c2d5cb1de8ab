//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "contentsync/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveVersion(ctx context.Context, v Version) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if v.DocumentID == "" {
		return nil
	}
	channels, err := json.Marshal(v.ChannelsPublished)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions(document_id, version_id, hash, created_at, channels)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(document_id) DO UPDATE SET
		   version_id=excluded.version_id,
		   hash=excluded.hash,
		   created_at=excluded.created_at,
		   channels=excluded.channels`,
		v.DocumentID, v.VersionID, v.Hash, v.CreatedAt.Format(time.RFC3339Nano), string(channels),
	)
	return err
}

func (s *sqliteStore) Versions(ctx context.Context) ([]Version, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, version_id, hash, created_at, channels FROM versions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var createdAt, channels string
		if err := rows.Scan(&v.DocumentID, &v.VersionID, &v.Hash, &createdAt, &channels); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			v.CreatedAt = t
		}
		if channels != "" {
			_ = json.Unmarshal([]byte(channels), &v.ChannelsPublished)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendJobLog(ctx context.Context, e JobLogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_log(at, job_id, document_id, correlation_id, status, ok, fail, took_ms, skipped, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.JobID, e.DocumentID, nullStr(e.CorrelationID),
		e.Status, e.Succeeded, e.Failed, e.DurationMS, boolInt(e.Skipped), nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
