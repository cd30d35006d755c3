// Package elastic indexes and searches audit records in Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

const mapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "long"},
      "event_type":  {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "user_id":     {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "action":      {"type": "text"},
      "timestamp":   {"type": "date"},
      "archive_ref": {"type": "keyword"}
    }
  }
}`

// Index writes documents into a single Elasticsearch index.
type Index struct {
	es    *elasticsearch.Client
	index string
}

// New connects to url. An empty url yields nil, which callers treat as an
// absent index.
func New(url, index string) (*Index, error) {
	if url == "" {
		return nil, nil
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if index == "" {
		index = audit.DefaultIndex
	}
	return &Index{es: es, index: index}, nil
}

func (i *Index) Name() string { return "elasticsearch" }

func (i *Index) Available() bool { return i != nil && i.es != nil }

// EnsureIndex creates the index with its mapping if it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.index}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.es.Indices.Create(i.index,
		i.es.Indices.Create.WithContext(ctx),
		i.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if !res.IsError() {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var body errorResponse
	// a concurrent creator winning the race is the only tolerated failure
	if json.Unmarshal(msg, &body) == nil && body.Error.Type == "resource_already_exists_exception" {
		return nil
	}
	return fmt.Errorf("create index %s: %s: %s", i.index, res.Status(), strings.TrimSpace(string(msg)))
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (i *Index) Upsert(ctx context.Context, docID string, doc audit.IndexDocument) error {
	if !i.Available() {
		return sentinel.ErrNotConfigured
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal index document: %w", err)
	}
	res, err := i.es.Index(i.index, bytes.NewReader(body),
		i.es.Index.WithContext(ctx),
		i.es.Index.WithDocumentID(docID),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", docID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index document "+docID, res)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source audit.IndexDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a multi_match query over fields, ranked by relevance.
func (i *Index) Search(ctx context.Context, query string, fields []string, limit int) (audit.SearchResult, error) {
	if !i.Available() {
		return audit.SearchResult{}, sentinel.ErrNotConfigured
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": fields,
			},
		},
	})
	if err != nil {
		return audit.SearchResult{}, fmt.Errorf("marshal search query: %w", err)
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.index),
		i.es.Search.WithBody(bytes.NewReader(body)),
		i.es.Search.WithSize(limit),
	)
	if err != nil {
		return audit.SearchResult{}, fmt.Errorf("search %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return audit.SearchResult{}, responseError("search "+i.index, res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return audit.SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}
	out := audit.SearchResult{
		Hits:  make([]audit.IndexDocument, 0, len(parsed.Hits.Hits)),
		Total: parsed.Hits.Total.Value,
	}
	for _, h := range parsed.Hits.Hits {
		out.Hits = append(out.Hits, h.Source)
	}
	return out, nil
}

func (i *Index) Ping(ctx context.Context) error {
	if !i.Available() {
		return sentinel.ErrNotConfigured
	}
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(msg)))
}
