package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Adapters return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrUnavailable: backend reachable in principle but currently failing
//   - ErrNotConfigured: adapter was never constructed (absent capability)
//   - ErrClosed: the handle or connection has been closed
//
// For caller-facing errors, use pkg/domain-errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("unavailable")
	ErrNotConfigured = errors.New("not configured")
	ErrClosed        = errors.New("closed")
)
