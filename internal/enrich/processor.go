package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/kafka"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports"
)

// Processor runs each consumed audit message through the enricher and the
// anomaly detector, produces the result, and feeds the window aggregator.
type Processor struct {
	enricher      *Enricher
	detector      *AnomalyDetector
	windows       *WindowAggregator
	out           ports.StreamPublisher
	enrichedTopic string
	aggTopic      string
	now           func() time.Time
	logger        *slog.Logger
}

type ProcessorOption func(*Processor)

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func WithWindow(size time.Duration) ProcessorOption {
	return func(p *Processor) { p.windows = NewWindowAggregator(size) }
}

func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

func NewProcessor(out ports.StreamPublisher, enrichedTopic, aggTopic string, opts ...ProcessorOption) *Processor {
	p := &Processor{
		out:           out,
		enrichedTopic: enrichedTopic,
		aggTopic:      aggTopic,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.enricher = NewEnricher(p.now)
	p.detector = NewAnomalyDetector(p.now)
	if p.windows == nil {
		p.windows = NewWindowAggregator(time.Minute)
	}
	return p
}

// Handle implements kafka.Handler. Messages that are not JSON objects are
// forwarded unchanged.
func (p *Processor) Handle(ctx context.Context, msg *kafka.Message) error {
	var doc map[string]any
	if err := json.Unmarshal(msg.Value, &doc); err != nil || doc == nil {
		p.logger.WarnContext(ctx, "forwarding malformed message unchanged",
			"topic", msg.Topic,
			"offset", msg.Offset,
		)
		return p.out.Publish(ctx, p.enrichedTopic, string(msg.Key), msg.Value)
	}

	p.enricher.Enrich(doc)
	p.detector.Score(doc)

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode enriched event: %w", err)
	}
	if err := p.out.Publish(ctx, p.enrichedTopic, string(msg.Key), payload); err != nil {
		return err
	}

	if et, ok := doc["event_type"].(string); ok {
		p.emit(ctx, p.windows.Add(et, p.now()))
	}
	return nil
}

// Tick closes the current window if it has elapsed.
func (p *Processor) Tick(ctx context.Context) {
	p.emit(ctx, p.windows.Flush(p.now()))
}

// Run ticks until ctx is done, then flushes the open window.
func (p *Processor) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.emit(context.WithoutCancel(ctx), p.windows.FlushAll())
			return nil
		case <-t.C:
			p.Tick(ctx)
		}
	}
}

func (p *Processor) emit(ctx context.Context, aggs []Aggregation) {
	for _, a := range aggs {
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := p.out.Publish(ctx, p.aggTopic, a.EventType, payload); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish aggregation",
				"event_type", a.EventType,
				"window_start", a.WindowStart,
				"error", err,
			)
			continue
		}
		p.logger.DebugContext(ctx, "aggregation published",
			"event_type", a.EventType,
			"count", a.Count,
		)
	}
}
