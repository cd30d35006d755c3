package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/middleware"
)

// RouterConfig carries the cross-cutting pieces of the router.
type RouterConfig struct {
	Logger *slog.Logger
	// Validator guards the API routes; nil leaves them open.
	Validator middleware.JWTValidator
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// CORSOrigins restricts cross-origin callers; empty admits any origin.
	CORSOrigins []string
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))

	h.RegisterPublic(r)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		h.Register(r)
	})
	return r
}
