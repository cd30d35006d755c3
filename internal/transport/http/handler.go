// Package httptransport is the network boundary: it maps HTTP requests onto
// the ingestion pipeline, the query layer, the health surface and the
// broadcast registry without holding business logic of its own.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/archive/ipfs"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/health"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ingest"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/query"
	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/httputil"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// ServiceName and Version are reported by GET /.
const (
	ServiceName = "streamchain-audit-pipeline"
	Version     = "1.0.0"
)

// Submitter accepts audit events.
type Submitter interface {
	Submit(ctx context.Context, ev audit.Event) (ingest.SubmitResult, error)
}

// Querier serves the read paths.
type Querier interface {
	ListRecords(ctx context.Context, limit int, f query.Filters) ([]audit.Record, error)
	SearchRecords(ctx context.Context, q string, limit int) (audit.SearchResult, error)
}

// HealthChecker reports adapter reachability.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// ArchiveInspector reports on the archive node.
type ArchiveInspector interface {
	Status(ctx context.Context) (ipfs.Status, error)
}

// Handler wires endpoints to the services.
type Handler struct {
	submitter Submitter
	querier   Querier
	health    HealthChecker
	archive   ArchiveInspector
	live      *LiveHandler
	logger    *slog.Logger
}

// New constructs a handler. archive and live may be nil.
func New(submitter Submitter, querier Querier, checker HealthChecker, archive ArchiveInspector, live *LiveHandler, logger *slog.Logger) *Handler {
	return &Handler{
		submitter: submitter,
		querier:   querier,
		health:    checker,
		archive:   archive,
		live:      live,
		logger:    logger,
	}
}

// RegisterPublic mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	if h.live != nil {
		r.Get("/ws", h.live.HandleConnect)
	}
}

// Register mounts the API endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events", h.HandleCreateEvent)
	r.Get("/audit/records", h.HandleListRecords)
	r.Get("/audit/search", h.HandleSearch)
	r.Get("/archive/status", h.HandleArchiveStatus)
	r.Method(http.MethodPost, "/graphql", NewGraphQLHandler(h.querier, h.logger))
}

// HandleRoot handles GET /.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "StreamChain Audit Pipeline API",
		"service": ServiceName,
		"version": Version,
	})
}

// HandleHealth handles GET /health. Degraded adapters still answer 200; the
// body carries each adapter's state.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.health.Check(r.Context()))
}

type createEventResponse struct {
	Success    bool    `json:"success"`
	ID         int64   `json:"id"`
	ArchiveRef *string `json:"archive_ref"`
	Message    string  `json:"message"`
}

// HandleCreateEvent handles POST /events.
func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := requestcontext.Now(ctx)

	ev, ok := httputil.DecodeAndPrepare[audit.Event](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.submitter.Submit(ctx, *ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "event submission failed",
			"request_id", requestID,
			"event_type", ev.EventType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "event recorded",
		"request_id", requestID,
		"subject", requestcontext.Subject(ctx),
		"record_id", res.ID,
		"event_type", ev.EventType,
		"archived", res.ArchiveRef != nil,
		"client_ip", requestcontext.ClientIP(ctx),
		"user_agent", requestcontext.UserAgent(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, createEventResponse{
		Success:    true,
		ID:         res.ID,
		ArchiveRef: res.ArchiveRef,
		Message:    "Event recorded successfully",
	})
}

// HandleListRecords handles GET /audit/records.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	records, err := h.querier.ListRecords(ctx, limit, query.Filters{
		EventType: q.Get("event_type"),
		UserID:    q.Get("user_id"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// HandleSearch handles GET /audit/search.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.querier.SearchRecords(ctx, r.URL.Query().Get("q"), limit)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSearchUnavailable) {
			h.logger.WarnContext(ctx, "search unavailable",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleArchiveStatus handles GET /archive/status.
func (h *Handler) HandleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.archive == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeAdapterUnreachable, "archive is not configured"))
		return
	}
	st, err := h.archive.Status(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotConfigured) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeAdapterUnreachable, "archive is not configured"))
			return
		}
		h.logger.WarnContext(ctx, "archive status failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeAdapterUnreachable, "archive node is unreachable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "connected",
		"version": st.Version,
		"commit":  st.Commit,
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}
