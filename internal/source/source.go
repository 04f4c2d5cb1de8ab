// Package source retrieves editorial documents from external systems.
//
// A document id carries a scheme prefix (e.g. "https://...", "file:...")
// that selects the fetcher; routing is resolved once at construction.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoFetcher means the document id's scheme has no registered fetcher.
var ErrNoFetcher = errors.New("no fetcher for document scheme")

// Item is a single piece of editorial content inside a document.
type Item struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	URL   string   `json:"url,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Document is the fetched payload, grouped by editorial category
// (e.g. "news", "features", "announcements").
type Document map[string][]Item

// Categories returns the category names in stable order.
func (d Document) Categories() []string {
	out := make([]string, 0, len(d))
	for c := range d {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Items returns all items across categories, category-ordered.
func (d Document) Items() []Item {
	var out []Item
	for _, c := range d.Categories() {
		out = append(out, d[c]...)
	}
	return out
}

// Fetcher retrieves one document. Any returned error aborts the sync job
// it belongs to; the orchestrator never treats a fetch error as partial.
type Fetcher interface {
	Fetch(ctx context.Context, documentID string) (Document, error)
}

// Router dispatches Fetch calls by document id scheme.
type Router struct {
	byScheme map[string]Fetcher
}

func NewRouter() *Router {
	return &Router{byScheme: map[string]Fetcher{}}
}

// Register binds a scheme (without the trailing colon) to a fetcher.
// Later registrations for the same scheme win.
func (r *Router) Register(scheme string, f Fetcher) {
	s := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(scheme, ":")))
	if s == "" || f == nil {
		return
	}
	r.byScheme[s] = f
}

func (r *Router) Fetch(ctx context.Context, documentID string) (Document, error) {
	scheme := schemeOf(documentID)
	f := r.byScheme[scheme]
	if f == nil {
		return nil, fmt.Errorf("%w: %q (document %q)", ErrNoFetcher, scheme, documentID)
	}
	return f.Fetch(ctx, documentID)
}

func schemeOf(documentID string) string {
	id := strings.TrimSpace(documentID)
	if i := strings.Index(id, ":"); i > 0 {
		return strings.ToLower(id[:i])
	}
	return ""
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, documentID string) (Document, error)

func (f FetchFunc) Fetch(ctx context.Context, documentID string) (Document, error) {
	return f(ctx, documentID)
}
