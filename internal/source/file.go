package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads documents from local JSON files ("file:<path>").
// Mostly useful for development setups and editorial dry-runs.
type FileFetcher struct {
	root string
}

// NewFileFetcher restricts lookups to the given root directory.
// An empty root allows absolute paths as-is.
func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: strings.TrimSpace(root)}
}

func (f *FileFetcher) Fetch(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(strings.TrimSpace(documentID), "file:")
	if f.root != "" {
		path = filepath.Join(f.root, filepath.Clean("/"+path))
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", documentID, err)
	}

	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("fetch %q: decode: %w", documentID, err)
	}
	return doc, nil
}
