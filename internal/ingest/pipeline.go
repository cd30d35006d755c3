// Package ingest accepts audit events and propagates them to every sink.
//
// Ordering: archive (best-effort), persist (authoritative), then stream,
// index, broadcast and relay concurrently in the background. Only the persist
// step can fail a submission; once it succeeds nothing downstream can undo or
// delay the caller's result. The persist call is detached from the caller's
// cancellation and bounded by its own timeout.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/broadcast"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/metrics"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports"
	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/circuit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

const (
	defaultArchiveTimeout = 5 * time.Second
	defaultPersistTimeout = 5 * time.Second
	defaultFanoutTimeout  = 5 * time.Second
)

// Broadcaster delivers a payload to local live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) broadcast.Result
}

// RelayPublisher forwards broadcast payloads to other instances.
type RelayPublisher interface {
	ports.Capability
	Publish(ctx context.Context, payload []byte) error
}

// SubmitResult is everything the caller learns about a submission.
type SubmitResult struct {
	ID         int64   `json:"id"`
	ArchiveRef *string `json:"archive_ref"`
}

// Pipeline sequences one event through its sinks.
type Pipeline struct {
	store       ports.RecordStore
	archive     ports.Archive
	stream      ports.StreamPublisher
	index       ports.Index
	broadcaster Broadcaster
	relay       RelayPublisher

	topic          string
	archiveTimeout time.Duration
	persistTimeout time.Duration
	fanoutTimeout  time.Duration

	breakerThreshold int
	breakerCooldown  time.Duration
	breakers         map[string]*circuit.Breaker

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	inflight sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithArchive(a ports.Archive) Option { return func(p *Pipeline) { p.archive = a } }

func WithStream(s ports.StreamPublisher) Option { return func(p *Pipeline) { p.stream = s } }

func WithIndex(i ports.Index) Option { return func(p *Pipeline) { p.index = i } }

func WithBroadcaster(b Broadcaster) Option { return func(p *Pipeline) { p.broadcaster = b } }

// WithRelay adds the cross-instance relay as a fan-out sink.
func WithRelay(r RelayPublisher) Option { return func(p *Pipeline) { p.relay = r } }

// WithTopic overrides the stream topic.
func WithTopic(topic string) Option {
	return func(p *Pipeline) {
		if topic != "" {
			p.topic = topic
		}
	}
}

func WithArchiveTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.archiveTimeout = d
		}
	}
}

// WithPersistTimeout bounds the record store append. The append does not
// observe the caller's cancellation.
func WithPersistTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.persistTimeout = d
		}
	}
}

// WithFanoutTimeout bounds each post-commit sink call.
func WithFanoutTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.fanoutTimeout = d
		}
	}
}

// WithBreakerPolicy configures the per-sink circuit breakers.
func WithBreakerPolicy(threshold int, cooldown time.Duration) Option {
	return func(p *Pipeline) {
		p.breakerThreshold = threshold
		p.breakerCooldown = cooldown
	}
}

func WithLogger(logger *slog.Logger) Option { return func(p *Pipeline) { p.logger = logger } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(p *Pipeline) { p.tracer = t } }

// New creates a pipeline around the authoritative record store. Every other
// adapter is optional.
func New(store ports.RecordStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          store,
		topic:          audit.DefaultTopic,
		archiveTimeout: defaultArchiveTimeout,
		persistTimeout: defaultPersistTimeout,
		fanoutTimeout:  defaultFanoutTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("internal/ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}

	breakerOpts := []circuit.Option{
		circuit.WithFailureThreshold(p.breakerThreshold),
		circuit.WithCooldown(p.breakerCooldown),
	}
	p.breakers = map[string]*circuit.Breaker{
		SinkArchive: circuit.New(SinkArchive, breakerOpts...),
		SinkStream:  circuit.New(SinkStream, breakerOpts...),
		SinkIndex:   circuit.New(SinkIndex, breakerOpts...),
		SinkRelay:   circuit.New(SinkRelay, breakerOpts...),
	}
	return p
}

// Submit records ev. It returns once the record is persisted; fan-out
// continues in the background even if ctx is cancelled.
func (p *Pipeline) Submit(ctx context.Context, ev audit.Event) (SubmitResult, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("audit.event_type", ev.EventType))

	if err := ev.Validate(); err != nil {
		p.metrics.IncSubmission("rejected")
		return SubmitResult{}, err
	}

	if !ports.Usable(p.store) {
		p.metrics.IncSubmission("adapter_unreachable")
		span.SetStatus(codes.Error, "record store unavailable")
		p.logger.ErrorContext(ctx, "record store unavailable, rejecting submission",
			"event_type", ev.EventType,
			"user_id", ev.UserID,
		)
		return SubmitResult{}, dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeAdapterUnreachable, "record store is unavailable")
	}

	archiveRef := p.archiveEvent(ctx, ev)

	rec, err := audit.NewRecord(ev, archiveRef)
	if err != nil {
		p.metrics.IncSubmission("rejected")
		return SubmitResult{}, err
	}

	// detached: only persistTimeout bounds the append, not the caller
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	start := time.Now()
	id, ts, err := p.store.Append(persistCtx, rec)
	cancel()
	p.metrics.ObservePersist(time.Since(start))
	if err != nil {
		p.metrics.IncSubmission("persistence_failure")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		p.logger.ErrorContext(ctx, "failed to persist audit record",
			"event_type", ev.EventType,
			"user_id", ev.UserID,
			"error", err,
		)
		return SubmitResult{}, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "failed to persist audit record")
	}
	rec.ID, rec.Timestamp = id, ts
	span.SetAttributes(attribute.Int64("audit.record_id", id))

	p.fanOut(ctx, rec)

	p.metrics.IncSubmission("accepted")
	return SubmitResult{ID: id, ArchiveRef: archiveRef}, nil
}

// archiveEvent returns the content identifier, or nil when archival is
// skipped or fails.
func (p *Pipeline) archiveEvent(ctx context.Context, ev audit.Event) *string {
	var cid string
	err := p.attempt(ctx, SinkArchive, 0, p.archive, p.archiveTimeout, func(ctx context.Context) error {
		var err error
		cid, err = p.archive.Store(ctx, ev.ArchivePayload())
		return err
	})
	if err != nil || cid == "" {
		return nil
	}
	return &cid
}

// fanOut dispatches the post-commit sinks and returns immediately.
func (p *Pipeline) fanOut(ctx context.Context, rec audit.Record) {
	ctx = context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		ctx, span := p.tracer.Start(ctx, "Pipeline.fanOut",
			trace.WithAttributes(attribute.Int64("audit.record_id", rec.ID)))
		defer span.End()

		// members only log; none returns an error, so none cancels another
		var g errgroup.Group
		g.Go(func() error {
			p.publish(ctx, rec)
			return nil
		})
		g.Go(func() error {
			p.upsert(ctx, rec)
			return nil
		})
		payload, err := json.Marshal(audit.ToBroadcastMessage(rec))
		if err != nil {
			p.logSinkFailure(ctx, &SinkError{Sink: SinkBroadcast, RecordID: rec.ID, Err: err})
		} else {
			g.Go(func() error {
				p.broadcastRecord(ctx, rec.ID, payload)
				return nil
			})
			g.Go(func() error {
				p.relayRecord(ctx, rec.ID, payload)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (p *Pipeline) publish(ctx context.Context, rec audit.Record) {
	_ = p.attempt(ctx, SinkStream, rec.ID, p.stream, p.fanoutTimeout, func(ctx context.Context) error {
		payload, err := json.Marshal(audit.ToStreamMessage(rec))
		if err != nil {
			return err
		}
		return p.stream.Publish(ctx, p.topic, rec.EventType, payload)
	})
}

func (p *Pipeline) upsert(ctx context.Context, rec audit.Record) {
	_ = p.attempt(ctx, SinkIndex, rec.ID, p.index, p.fanoutTimeout, func(ctx context.Context) error {
		return p.index.Upsert(ctx, strconv.FormatInt(rec.ID, 10), audit.ToIndexDocument(rec))
	})
}

func (p *Pipeline) broadcastRecord(ctx context.Context, recordID int64, payload []byte) {
	if p.broadcaster == nil {
		return
	}
	start := time.Now()
	res := p.broadcaster.Broadcast(ctx, payload)
	outcome := metrics.OutcomeOK
	if res.Dropped > 0 {
		outcome = metrics.OutcomeFailed
		p.logger.WarnContext(ctx, "broadcast dropped subscribers",
			"record_id", recordID,
			"sink", SinkBroadcast,
			"delivered", res.Delivered,
			"dropped", res.Dropped,
		)
	}
	p.metrics.ObserveSink(SinkBroadcast, outcome, time.Since(start))
}

func (p *Pipeline) relayRecord(ctx context.Context, recordID int64, payload []byte) {
	if p.relay == nil {
		return
	}
	_ = p.attempt(ctx, SinkRelay, recordID, p.relay, p.fanoutTimeout, func(ctx context.Context) error {
		return p.relay.Publish(ctx, payload)
	})
}

// attempt runs one best-effort call: skipped when the adapter is absent or
// its breaker is open, bounded by timeout, logged on failure, never retried.
func (p *Pipeline) attempt(
	ctx context.Context,
	sink string,
	recordID int64,
	adapter ports.Capability,
	timeout time.Duration,
	call func(context.Context) error,
) error {
	if !ports.Usable(adapter) {
		p.metrics.ObserveSink(sink, metrics.OutcomeSkipped, 0)
		p.logger.DebugContext(ctx, "sink not available, skipping",
			"record_id", recordID,
			"sink", sink,
		)
		return sentinel.ErrNotConfigured
	}

	br := p.breakers[sink]
	if br != nil && !br.Allow() {
		p.metrics.ObserveSink(sink, metrics.OutcomeSkipped, 0)
		err := &SinkError{Sink: sink, RecordID: recordID, Err: circuit.ErrOpen}
		p.logSinkFailure(ctx, err)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := call(callCtx)
	elapsed := time.Since(start)

	if err != nil {
		p.metrics.ObserveSink(sink, metrics.OutcomeFailed, elapsed)
		if br != nil && br.RecordFailure().Opened {
			p.metrics.SetBreakerOpen(sink, true)
			p.logger.WarnContext(ctx, "sink circuit opened", "sink", sink)
		}
		sinkErr := &SinkError{Sink: sink, RecordID: recordID, Err: err}
		p.logSinkFailure(ctx, sinkErr)
		return sinkErr
	}

	p.metrics.ObserveSink(sink, metrics.OutcomeOK, elapsed)
	if br != nil && br.RecordSuccess().Closed {
		p.metrics.SetBreakerOpen(sink, false)
		p.logger.InfoContext(ctx, "sink circuit closed", "sink", sink)
	}
	return nil
}

func (p *Pipeline) logSinkFailure(ctx context.Context, err *SinkError) {
	attrs := []any{"sink", err.Sink, "error", err.Err}
	if err.RecordID != 0 {
		attrs = append(attrs, "record_id", err.RecordID)
	}
	p.logger.ErrorContext(ctx, "best-effort sink failed", attrs...)
}

// BreakerStates reports each guarded sink's breaker state.
func (p *Pipeline) BreakerStates() map[string]string {
	out := make(map[string]string, len(p.breakers))
	for name, br := range p.breakers {
		out[name] = br.State().String()
	}
	return out
}

// Drain blocks until every in-flight fan-out has finished or ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
