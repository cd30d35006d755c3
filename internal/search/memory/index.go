// Package memory is a process-local search index with case-insensitive
// substring matching.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

type Index struct {
	mu        sync.RWMutex
	docs      map[string]audit.IndexDocument
	available bool
	failWith  error
}

func New() *Index {
	return &Index{docs: make(map[string]audit.IndexDocument), available: true}
}

func (i *Index) Name() string { return "elasticsearch" }

func (i *Index) Available() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.available
}

func (i *Index) SetAvailable(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.available = v
}

// FailWith makes subsequent Upsert and Search calls fail.
func (i *Index) FailWith(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failWith = err
}

func (i *Index) Upsert(ctx context.Context, docID string, doc audit.IndexDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failWith != nil {
		return fmt.Errorf("index document %s: %w", docID, i.failWith)
	}
	i.docs[docID] = doc
	return nil
}

// Search matches query against fields. Hits are ordered newest first since
// there is no relevance model.
func (i *Index) Search(ctx context.Context, query string, fields []string, limit int) (audit.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return audit.SearchResult{}, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.available {
		return audit.SearchResult{}, sentinel.ErrUnavailable
	}
	if i.failWith != nil {
		return audit.SearchResult{}, fmt.Errorf("search: %w", i.failWith)
	}

	q := strings.ToLower(strings.TrimSpace(query))
	hits := make([]audit.IndexDocument, 0)
	for _, doc := range i.docs {
		if matches(doc, q, fields) {
			hits = append(hits, doc)
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if !hits[a].Timestamp.Equal(hits[b].Timestamp) {
			return hits[a].Timestamp.After(hits[b].Timestamp)
		}
		return hits[a].ID > hits[b].ID
	})
	total := int64(len(hits))
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return audit.SearchResult{Hits: hits, Total: total}, nil
}

func matches(doc audit.IndexDocument, q string, fields []string) bool {
	for _, f := range fields {
		var v string
		switch f {
		case "event_type":
			v = doc.EventType
		case "user_id":
			v = doc.UserID
		case "action":
			v = doc.Action
		case "id":
			v = strconv.FormatInt(doc.ID, 10)
		}
		if v != "" && strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func (i *Index) Ping(_ context.Context) error {
	if !i.Available() {
		return sentinel.ErrUnavailable
	}
	return nil
}

// Get returns the document stored under docID.
func (i *Index) Get(docID string) (audit.IndexDocument, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.docs[docID]
	return doc, ok
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}
