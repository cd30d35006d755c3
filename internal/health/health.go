// Package health reports the reachability of every adapter as an independent
// boolean.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Report is the health surface payload.
type Report struct {
	Status    string            `json:"status"`
	Services  map[string]bool   `json:"services"`
	Breakers  map[string]string `json:"breakers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Checker probes a fixed set of adapters.
type Checker struct {
	adapters []ports.Capability
	timeout  time.Duration
	breakers func() map[string]string
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Checker)

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreakers adds sink breaker states to the report.
func WithBreakers(fn func() map[string]string) Option {
	return func(c *Checker) { c.breakers = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// NewChecker probes adapters, keyed by Name. Nil entries are skipped.
func NewChecker(adapters []ports.Capability, opts ...Option) *Checker {
	c := &Checker{
		timeout: 2 * time.Second,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, a := range adapters {
		if a != nil {
			c.adapters = append(c.adapters, a)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs every probe concurrently. One slow or failing adapter never
// affects another's result.
func (c *Checker) Check(ctx context.Context) Report {
	var (
		mu       sync.Mutex
		services = make(map[string]bool, len(c.adapters))
		g        errgroup.Group
	)
	for _, a := range c.adapters {
		g.Go(func() error {
			ok := c.probe(ctx, a)
			mu.Lock()
			services[a.Name()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusHealthy
	for _, ok := range services {
		if !ok {
			status = StatusDegraded
			break
		}
	}
	rep := Report{Status: status, Services: services, Timestamp: c.now().UTC()}
	if c.breakers != nil {
		rep.Breakers = c.breakers()
	}
	return rep
}

func (c *Checker) probe(ctx context.Context, a ports.Capability) bool {
	if !ports.Usable(a) {
		return false
	}
	pinger, ok := a.(ports.Pinger)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		c.logger.DebugContext(ctx, "health probe failed", "service", a.Name(), "error", err)
		return false
	}
	return true
}
