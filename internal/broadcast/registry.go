// Package broadcast manages live subscribers and fans payloads out to them.
//
// The active set is the only shared mutable state in the ingestion core.
// Mutations happen under the registry lock; Broadcast copies a snapshot under
// the read lock and sends outside it, so a slow subscriber never holds the
// lock and never delays Register or Unregister.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/metrics"
)

const defaultSendTimeout = 5 * time.Second

// Sender is one live subscriber connection. Send must honor ctx's deadline.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// State is a connection's lifecycle state. Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Handle is the registry's opaque reference to a subscriber. Handles are never
// reused: each Register call allocates a fresh id.
type Handle struct {
	id     uint64
	sender Sender
	state  atomic.Int32
}

// ID returns the handle id.
func (h *Handle) ID() uint64 { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// close moves the handle to Closed and closes its sender exactly once.
func (h *Handle) close() bool {
	if State(h.state.Swap(int32(StateClosed))) == StateClosed {
		return false
	}
	if h.sender != nil {
		_ = h.sender.Close()
	}
	return true
}

// Result summarizes one Broadcast call.
type Result struct {
	Delivered int
	Dropped   int
}

// Registry is the concurrency-safe set of active subscribers.
type Registry struct {
	mu      sync.RWMutex
	members map[uint64]*Handle
	nextID  atomic.Uint64

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithSendTimeout bounds every per-subscriber send.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithLogger sets the logger used for dropped subscribers.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		members:     make(map[uint64]*Handle),
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register admits a subscriber. The returned handle is Active and receives
// every broadcast issued after Register returns.
func (r *Registry) Register(s Sender) *Handle {
	h := &Handle{id: r.nextID.Add(1), sender: s}
	h.state.Store(int32(StateConnecting))

	r.mu.Lock()
	r.members[h.id] = h
	h.state.Store(int32(StateActive))
	r.metrics.SetSubscribers(len(r.members))
	r.mu.Unlock()

	return h
}

// Unregister removes a subscriber and closes it. Unregistering a handle that
// is already gone is a no-op.
func (r *Registry) Unregister(h *Handle) {
	if h == nil {
		return
	}
	r.remove(h)
}

func (r *Registry) remove(h *Handle) bool {
	r.mu.Lock()
	if cur, ok := r.members[h.id]; ok && cur == h {
		delete(r.members, h.id)
	}
	// gauge updates stay ordered with membership changes
	r.metrics.SetSubscribers(len(r.members))
	r.mu.Unlock()

	return h.close()
}

// Broadcast sends payload to every subscriber active at call time. Sends run
// concurrently, each bounded by the send timeout. A subscriber whose send
// fails is closed and removed before Broadcast returns; nothing is retried and
// no error is raised.
func (r *Registry) Broadcast(ctx context.Context, payload []byte) Result {
	snapshot := r.snapshot()
	if len(snapshot) == 0 {
		return Result{}
	}

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, h := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			errs[i] = h.sender.Send(sendCtx, payload)
		}()
	}
	wg.Wait()

	var res Result
	for i, err := range errs {
		if err == nil {
			res.Delivered++
			continue
		}
		if r.remove(snapshot[i]) {
			res.Dropped++
			r.logger.DebugContext(ctx, "dropped live subscriber after failed send",
				"connection_id", snapshot[i].id,
				"error", err,
			)
		}
	}
	r.metrics.AddDropped(res.Dropped)
	return res
}

func (r *Registry) snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.members))
	for _, h := range r.members {
		if h.State() == StateActive {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of active subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Close unregisters every subscriber.
func (r *Registry) Close() {
	r.mu.Lock()
	members := r.members
	r.members = make(map[uint64]*Handle)
	r.metrics.SetSubscribers(0)
	r.mu.Unlock()

	for _, h := range members {
		h.close()
	}
}
