package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/metrics"
)

type fakeSender struct {
	mu       sync.Mutex
	received [][]byte
	sendErr  error
	block    bool
	closed   atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, payload []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSender) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeSender) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func newTestRegistry(opts ...Option) *Registry {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewRegistry(opts...)
}

func TestRegisterMakesHandleActive(t *testing.T) {
	r := newTestRegistry()
	h := r.Register(&fakeSender{})

	assert.Equal(t, StateActive, h.State())
	assert.Equal(t, 1, r.Len())
}

func TestHandlesAreNeverReused(t *testing.T) {
	r := newTestRegistry()
	first := r.Register(&fakeSender{})
	r.Unregister(first)
	second := r.Register(&fakeSender{})

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateClosed, first.State())
}

func TestBroadcastDeliversToEveryActiveSubscriber(t *testing.T) {
	r := newTestRegistry()
	senders := []*fakeSender{{}, {}, {}}
	for _, s := range senders {
		r.Register(s)
	}

	res := r.Broadcast(context.Background(), []byte(`{"type":"new_event"}`))

	assert.Equal(t, Result{Delivered: 3}, res)
	for _, s := range senders {
		require.Len(t, s.messages(), 1)
		assert.JSONEq(t, `{"type":"new_event"}`, string(s.messages()[0]))
	}
}

func TestBroadcastRemovesFailedSubscriber(t *testing.T) {
	r := newTestRegistry()
	a, c := &fakeSender{}, &fakeSender{}
	b := &fakeSender{sendErr: errors.New("broken pipe")}
	r.Register(a)
	hb := r.Register(b)
	r.Register(c)

	res := r.Broadcast(context.Background(), []byte("x"))

	assert.Equal(t, Result{Delivered: 2, Dropped: 1}, res)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, StateClosed, hb.State())
	assert.Equal(t, int32(1), b.closed.Load())
	assert.Len(t, a.messages(), 1)
	assert.Len(t, c.messages(), 1)

	res = r.Broadcast(context.Background(), []byte("y"))
	assert.Equal(t, Result{Delivered: 2}, res)
}

func TestBroadcastWithNoSubscribersIsNoop(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, Result{}, r.Broadcast(context.Background(), []byte("x")))
}

func TestBroadcastBoundedBySendTimeout(t *testing.T) {
	r := newTestRegistry(WithSendTimeout(20 * time.Millisecond))
	healthy := &fakeSender{}
	r.Register(&fakeSender{block: true})
	r.Register(healthy)

	start := time.Now()
	res := r.Broadcast(context.Background(), []byte("x"))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Result{Delivered: 1, Dropped: 1}, res)
	assert.Len(t, healthy.messages(), 1)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	s := &fakeSender{}
	h := r.Register(s)

	r.Unregister(h)
	r.Unregister(h)
	r.Unregister(nil)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int32(1), s.closed.Load())
}

func TestUnregisteredSubscriberReceivesNothing(t *testing.T) {
	r := newTestRegistry()
	s := &fakeSender{}
	h := r.Register(s)
	r.Unregister(h)

	r.Broadcast(context.Background(), []byte("x"))

	assert.Empty(t, s.messages())
}

func TestConcurrentRegisterAndBroadcast(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := r.Register(&fakeSender{})
			r.Unregister(h)
		}()
		go func() {
			defer wg.Done()
			r.Broadcast(context.Background(), []byte("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	r := newTestRegistry()
	a, b := &fakeSender{}, &fakeSender{}
	ha := r.Register(a)
	r.Register(b)

	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, ha.State())
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
}

func TestSubscriberGaugeTracksMembershipUnderChurn(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := newTestRegistry(WithMetrics(m))

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Register(&fakeSender{})
			if i%2 == 0 {
				r.Unregister(h)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, r.Len())
	assert.Equal(t, float64(32), testutil.ToFloat64(m.BroadcastSubscribers))

	r.Close()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.BroadcastSubscribers))
}
