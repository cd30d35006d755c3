// Package query serves read paths: structured listing from the record store
// and full-text lookup from the search index. Neither path touches the other
// adapter and neither mutates anything.
package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports"
	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filters narrow a listing. Both set means both must match.
type Filters struct {
	EventType string
	UserID    string
}

type Service struct {
	store  ports.RecordStore
	index  ports.Index
	logger *slog.Logger
}

func NewService(store ports.RecordStore, index ports.Index, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, index: index, logger: logger}
}

// ListRecords returns records newest first. No match is an empty slice.
func (s *Service) ListRecords(ctx context.Context, limit int, f Filters) ([]audit.Record, error) {
	if !ports.Usable(s.store) {
		return nil, dErrors.New(dErrors.CodeAdapterUnreachable, "record store is unavailable")
	}
	records, err := s.store.Query(ctx, audit.RecordQuery{
		EventType: strings.TrimSpace(f.EventType),
		UserID:    strings.TrimSpace(f.UserID),
		Limit:     clampLimit(limit),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list audit records", "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "failed to list audit records")
	}
	if records == nil {
		records = []audit.Record{}
	}
	return records, nil
}

// SearchRecords runs a relevance-ranked query over the index. An absent or
// failing index is SearchUnavailable, never an empty result.
func (s *Service) SearchRecords(ctx context.Context, q string, limit int) (audit.SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return audit.SearchResult{}, dErrors.New(dErrors.CodeBadRequest, "query parameter q is required")
	}
	if !ports.Usable(s.index) {
		return audit.SearchResult{}, dErrors.New(dErrors.CodeSearchUnavailable, "search index is unavailable")
	}

	res, err := s.index.Search(ctx, q, audit.SearchFields, clampLimit(limit))
	if err != nil {
		s.logger.WarnContext(ctx, "search failed", "query", q, "error", err)
		return audit.SearchResult{}, dErrors.Wrap(err, dErrors.CodeSearchUnavailable, "search index is unavailable")
	}
	if res.Hits == nil {
		res.Hits = []audit.IndexDocument{}
	}
	return res, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
