package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/kafka"
	streammem "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/stream/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestEnrichAddsGeolocationAndRisk(t *testing.T) {
	clock := newFakeClock()
	e := NewEnricher(clock.Now)

	tests := []struct {
		name    string
		doc     map[string]any
		country any
		risk    float64
	}{
		{"internal ip", map[string]any{"event_type": "USER_AUTHENTICATION", "metadata": map[string]any{"ip": "10.1.2.3"}}, CountryInternal, 0.3},
		{"private 192.168", map[string]any{"event_type": "DATA_ACCESS", "metadata": map[string]any{"ip": "192.168.0.9"}}, CountryInternal, 0.5},
		{"external ip raises risk", map[string]any{"event_type": "PAYMENT_TRANSACTION", "metadata": map[string]any{"ip": "8.8.8.8"}}, CountryUnknown, 0.9},
		{"no ip", map[string]any{"event_type": "login"}, nil, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, e.Enrich(tt.doc))
			assert.Equal(t, clock.Now().UnixMilli(), tt.doc["processed_timestamp"])
			assert.Equal(t, Version, tt.doc["enrichment_version"])
			assert.InDelta(t, tt.risk, tt.doc["risk_score"], 1e-9)
			if tt.country == nil {
				assert.NotContains(t, tt.doc, "geolocation")
				return
			}
			geo := tt.doc["geolocation"].(map[string]any)
			assert.Equal(t, tt.country, geo["country"])
			assert.Equal(t, CountryUnknown, geo["city"])
		})
	}
}

func TestRiskScoreIsCapped(t *testing.T) {
	assert.LessOrEqual(t, riskScore("PAYMENT_TRANSACTION", map[string]any{"country": "Unknown"}), 1.0)
}

func TestEnrichLeavesMalformedDocUntouched(t *testing.T) {
	doc := map[string]any{"user_id": "u1"}
	assert.False(t, NewEnricher(nil).Enrich(doc))
	assert.Equal(t, map[string]any{"user_id": "u1"}, doc)
}

func TestAnomalyScoreNeedsThreeEvents(t *testing.T) {
	clock := newFakeClock()
	d := NewAnomalyDetector(clock.Now)

	for i := 0; i < 2; i++ {
		doc := map[string]any{"event_type": "login", "user_id": "u1"}
		require.True(t, d.Score(doc))
		assert.Equal(t, 0.0, doc["anomaly_score"])
		assert.Equal(t, false, doc["is_anomaly"])
		clock.Advance(10 * time.Second)
	}
}

func TestAnomalyDetectsBurst(t *testing.T) {
	clock := newFakeClock()
	d := NewAnomalyDetector(clock.Now)
	score := func() map[string]any {
		doc := map[string]any{"event_type": "login", "user_id": "u1"}
		d.Score(doc)
		return doc
	}

	score()
	clock.Advance(10 * time.Second)
	score()
	clock.Advance(10 * time.Second)
	steady := score()
	assert.Equal(t, 0.1, steady["anomaly_score"])
	assert.Equal(t, false, steady["is_anomaly"])

	clock.Advance(200 * time.Millisecond)
	burst := score()
	assert.Equal(t, 0.9, burst["anomaly_score"])
	assert.Equal(t, true, burst["is_anomaly"])
}

func TestAnomalyKeysAreIndependent(t *testing.T) {
	d := NewAnomalyDetector(newFakeClock().Now)
	d.Score(map[string]any{"event_type": "login", "user_id": "u1"})
	d.Score(map[string]any{"event_type": "login", "user_id": "u2"})
	d.Score(map[string]any{"event_type": "logout", "user_id": "u1"})
	assert.Equal(t, 3, d.Keys())
	assert.False(t, d.Score(map[string]any{"event_type": "login"}))
}

func TestBandScore(t *testing.T) {
	assert.Equal(t, 0.9, bandScore(0.05))
	assert.Equal(t, 0.7, bandScore(0.2))
	assert.Equal(t, 0.5, bandScore(0.4))
	assert.Equal(t, 0.1, bandScore(1))
}

func TestWindowAggregatorTumbles(t *testing.T) {
	w := NewWindowAggregator(time.Minute)
	base := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)

	assert.Empty(t, w.Add("login", base))
	assert.Empty(t, w.Add("login", base.Add(10*time.Second)))
	assert.Empty(t, w.Add("logout", base.Add(20*time.Second)))

	flushed := w.Add("login", base.Add(time.Minute))
	require.Len(t, flushed, 2)
	assert.Equal(t, Aggregation{
		EventType:   "login",
		Count:       2,
		WindowStart: base.Truncate(time.Minute),
		WindowEnd:   base.Truncate(time.Minute).Add(time.Minute),
	}, flushed[0])
	assert.Equal(t, "logout", flushed[1].EventType)
	assert.Equal(t, int64(1), flushed[1].Count)

	assert.Empty(t, w.Flush(base.Add(time.Minute)))
	out := w.Flush(base.Add(2 * time.Minute))
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Count)
	assert.Empty(t, w.FlushAll())
}

func newTestProcessor(clock *fakeClock) (*Processor, *streammem.Publisher) {
	out := streammem.New()
	p := NewProcessor(out, "enriched-events", "event-aggregations",
		WithClock(clock.Now),
		WithWindow(time.Minute),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return p, out
}

func TestProcessorProducesEnrichedEvent(t *testing.T) {
	clock := newFakeClock()
	p, out := newTestProcessor(clock)
	ctx := context.Background()

	msg := &kafka.Message{
		Topic: "audit-events",
		Key:   []byte("7"),
		Value: []byte(`{"id":7,"event_type":"DATA_ACCESS","user_id":"u1","metadata":{"ip":"1.2.3.4"}}`),
	}
	require.NoError(t, p.Handle(ctx, msg))

	produced := out.Messages("enriched-events")
	require.Len(t, produced, 1)
	assert.Equal(t, "7", produced[0].Key)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(produced[0].Payload, &doc))
	assert.Equal(t, float64(7), doc["id"])
	assert.InDelta(t, 0.7, doc["risk_score"], 1e-9)
	assert.Equal(t, 0.0, doc["anomaly_score"])
	assert.Equal(t, "1.0", doc["enrichment_version"])

	clock.Advance(2 * time.Minute)
	p.Tick(ctx)
	aggs := out.Messages("event-aggregations")
	require.Len(t, aggs, 1)
	var agg Aggregation
	require.NoError(t, json.Unmarshal(aggs[0].Payload, &agg))
	assert.Equal(t, "DATA_ACCESS", agg.EventType)
	assert.Equal(t, int64(1), agg.Count)
}

func TestProcessorForwardsMalformedMessage(t *testing.T) {
	p, out := newTestProcessor(newFakeClock())

	require.NoError(t, p.Handle(context.Background(), &kafka.Message{Value: []byte("not json")}))

	produced := out.Messages("enriched-events")
	require.Len(t, produced, 1)
	assert.Equal(t, []byte("not json"), produced[0].Payload)
	assert.Empty(t, out.Messages("event-aggregations"))
}

func TestProcessorRunFlushesOnShutdown(t *testing.T) {
	p, out := newTestProcessor(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Handle(ctx, &kafka.Message{Value: []byte(`{"event_type":"login","user_id":"u1"}`)}))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, time.Hour) }()
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, out.Messages("event-aggregations"), 1)
}
