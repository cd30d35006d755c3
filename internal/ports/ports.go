// Package ports declares the adapters the ingestion core talks to.
//
// Every adapter is an optional capability: construction may have failed at
// startup, in which case main wires a nil or unavailable adapter and the core
// treats it as absent instead of scattering nil checks.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
)

// Capability is implemented by every adapter.
type Capability interface {
	// Name identifies the adapter in logs, metrics and the health surface.
	Name() string
	// Available reports whether the adapter was constructed and can be called.
	Available() bool
}

// Pinger is implemented by adapters that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Archive stores payloads in a content-addressable archive.
type Archive interface {
	Capability
	Store(ctx context.Context, payload map[string]any) (string, error)
}

// RecordStore is the transactional system of record.
type RecordStore interface {
	Capability
	// Append persists rec and returns the store-assigned id and timestamp.
	Append(ctx context.Context, rec audit.Record) (int64, time.Time, error)
	// Query lists records, newest first.
	Query(ctx context.Context, q audit.RecordQuery) ([]audit.Record, error)
}

// StreamPublisher publishes keyed messages to the append-only bus.
type StreamPublisher interface {
	Capability
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Index is the full-text search index.
type Index interface {
	Capability
	Upsert(ctx context.Context, docID string, doc audit.IndexDocument) error
	Search(ctx context.Context, query string, fields []string, limit int) (audit.SearchResult, error)
}

// Usable reports whether c is non-nil and available.
func Usable(c Capability) bool {
	return c != nil && !isNilInterface(c) && c.Available()
}
