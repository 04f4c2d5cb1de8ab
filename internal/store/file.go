package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "contentsync/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.joblog.jsonl             (append-only JSON Lines)
//   - <prefix>.versions.snapshot.json   (periodic snapshot)
//   - <prefix>.versions.journal.jsonl   (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	jobLogFile *os.File

	versionSnapshotPath string
	versionJournalFile  *os.File
	versions            map[string]Version // keyed by document id

	versionWrites int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	jobLogPath := prefix + ".joblog.jsonl"
	snapPath := prefix + ".versions.snapshot.json"
	journalPath := prefix + ".versions.journal.jsonl"

	jlf, err := os.OpenFile(jobLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load versions from snapshot + journal, journal wins per document.
	versions := map[string]Version{}
	_ = loadVersionSnapshot(snapPath, versions)
	_ = replayVersionJournal(journalPath, versions)

	vjf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = jlf.Close()
		return nil, err
	}

	return &fileStore{
		log:                 log,
		jobLogFile:          jlf,
		versionSnapshotPath: snapPath,
		versionJournalFile:  vjf,
		versions:            versions,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.jobLogFile != nil {
		err1 = s.jobLogFile.Close()
		s.jobLogFile = nil
	}
	if s.versionJournalFile != nil {
		err2 = s.versionJournalFile.Close()
		s.versionJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendJobLog(ctx context.Context, e JobLogEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobLogFile == nil {
		return errors.New("job log closed")
	}
	return json.NewEncoder(s.jobLogFile).Encode(e)
}

func (s *fileStore) SaveVersion(ctx context.Context, v Version) error {
	_ = ctx
	if strings.TrimSpace(v.DocumentID) == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionJournalFile == nil {
		return errors.New("version journal closed")
	}
	if s.versions == nil {
		s.versions = map[string]Version{}
	}
	s.versions[v.DocumentID] = v

	if err := json.NewEncoder(s.versionJournalFile).Encode(v); err != nil {
		return err
	}
	s.versionWrites++
	if s.versionWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("version compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) Versions(ctx context.Context) ([]Version, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v)
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	if s.versions == nil {
		return nil
	}

	tmp := s.versionSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.versions); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.versionSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.versionJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.versionJournalFile.Seek(0, 2)
	return err
}

func loadVersionSnapshot(path string, out map[string]Version) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Version
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayVersionJournal(path string, out map[string]Version) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v Version
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		if v.DocumentID == "" {
			continue
		}
		out[v.DocumentID] = v
	}
	return sc.Err()
}
