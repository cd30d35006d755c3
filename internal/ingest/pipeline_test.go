package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	archivemem "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/archive/memory"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/broadcast"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/metrics"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports/mocks"
	searchmem "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/search/memory"
	streammem "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/stream/memory"
	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	storemem "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit/store/memory"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSender) Close() error { return nil }

func (s *recordingSender) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type PipelineSuite struct {
	suite.Suite
	ctx      context.Context
	archive  *archivemem.Archive
	store    *storemem.InMemoryStore
	stream   *streammem.Publisher
	index    *searchmem.Index
	registry *broadcast.Registry
	sub      *recordingSender
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.archive = archivemem.New()
	s.store = storemem.NewInMemoryStore()
	s.stream = streammem.New()
	s.index = searchmem.New()
	s.registry = broadcast.NewRegistry(broadcast.WithLogger(discardLogger()))
	s.sub = &recordingSender{}
	s.registry.Register(s.sub)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.pipeline = New(s.store,
		WithArchive(s.archive),
		WithStream(s.stream),
		WithIndex(s.index),
		WithBroadcaster(s.registry),
		WithLogger(discardLogger()),
		WithMetrics(s.metrics),
	)
}

func (s *PipelineSuite) drain() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(s.pipeline.Drain(ctx))
}

func loginEvent() audit.Event {
	return audit.Event{
		EventType: "login",
		UserID:    "u1",
		Action:    "signed in",
		Metadata:  map[string]any{"ip": "10.0.0.1"},
	}
}

func (s *PipelineSuite) TestHealthySubmissionReachesEverySink() {
	res, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().NoError(err)
	s.drain()

	s.Equal(int64(1), res.ID)
	s.Require().NotNil(res.ArchiveRef)
	_, archived := s.archive.Get(*res.ArchiveRef)
	s.True(archived)

	records, err := s.store.Query(s.ctx, audit.RecordQuery{Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("login", records[0].EventType)
	s.Equal("u1", records[0].UserID)
	s.Require().NotNil(records[0].ArchiveRef)
	s.Equal(*res.ArchiveRef, *records[0].ArchiveRef)
	s.JSONEq(`{"ip":"10.0.0.1"}`, records[0].Metadata)
	s.Nil(records[0].Verified)
	s.Nil(records[0].ChainTxHash)

	msgs := s.stream.Messages(audit.DefaultTopic)
	s.Require().Len(msgs, 1)
	s.Equal("login", msgs[0].Key)
	var streamed audit.StreamMessage
	s.Require().NoError(json.Unmarshal(msgs[0].Payload, &streamed))
	s.Equal(int64(1), streamed.ID)
	s.Equal("10.0.0.1", streamed.Metadata["ip"])

	doc, ok := s.index.Get("1")
	s.Require().True(ok)
	s.Equal("signed in", doc.Action)

	payloads := s.sub.received()
	s.Require().Len(payloads, 1)
	var msg audit.BroadcastMessage
	s.Require().NoError(json.Unmarshal(payloads[0], &msg))
	s.Equal(audit.BroadcastTypeNewEvent, msg.Type)
	s.Equal(int64(1), msg.Data.ID)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("accepted")))
}

func (s *PipelineSuite) TestArchiveFailureDoesNotPreventPersistence() {
	s.archive.FailWith(errors.New("node offline"))

	res, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().NoError(err)
	s.drain()

	s.Nil(res.ArchiveRef)
	records, err := s.store.Query(s.ctx, audit.RecordQuery{})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Nil(records[0].ArchiveRef)
	s.Len(s.stream.Messages(""), 1)
}

func (s *PipelineSuite) TestArchiveAbsentIsSkipped() {
	s.archive.SetAvailable(false)

	res, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().NoError(err)
	s.drain()

	s.Nil(res.ArchiveRef)
	s.Equal(0, s.archive.Len())
	s.Equal(1, s.store.Len())
}

func (s *PipelineSuite) TestInvalidEventIsRejectedBeforeAnySideEffect() {
	_, err := s.pipeline.Submit(s.ctx, audit.Event{EventType: "login", UserID: " "})
	s.Require().Error(err)
	s.drain()

	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Equal(0, s.archive.Len())
	s.Equal(0, s.store.Len())
	s.Empty(s.stream.Messages(""))
	s.Empty(s.sub.received())
}

func (s *PipelineSuite) TestStoreUnavailableIsAdapterUnreachable() {
	s.store.SetAvailable(false)

	_, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().Error(err)
	s.drain()

	s.True(dErrors.HasCode(err, dErrors.CodeAdapterUnreachable))
	s.True(dErrors.IsRetryable(err))
	s.Equal(0, s.archive.Len(), "no archive blob for a record that was never persisted")
	s.Empty(s.stream.Messages(""))
	s.Equal(0, s.index.Len())
	s.Empty(s.sub.received())
}

func (s *PipelineSuite) TestStreamFailureIsIsolated() {
	s.stream.FailWith(errors.New("broker down"))

	res, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().NoError(err)
	s.drain()

	s.Equal(int64(1), res.ID)
	_, indexed := s.index.Get("1")
	s.True(indexed)
	s.Len(s.sub.received(), 1)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.SinkOutcomes.WithLabelValues(SinkStream, metrics.OutcomeFailed)))
}

func (s *PipelineSuite) TestIndexAbsentIsIsolated() {
	s.index.SetAvailable(false)

	_, err := s.pipeline.Submit(s.ctx, loginEvent())
	s.Require().NoError(err)
	s.drain()

	s.Equal(0, s.index.Len())
	s.Len(s.stream.Messages(""), 1)
	s.Len(s.sub.received(), 1)
}

func (s *PipelineSuite) TestFanOutSurvivesCallerCancellation() {
	ctx, cancel := context.WithCancel(s.ctx)
	_, err := s.pipeline.Submit(ctx, loginEvent())
	cancel()
	s.Require().NoError(err)
	s.drain()

	s.Len(s.stream.Messages(""), 1)
	s.Equal(1, s.index.Len())
	s.Len(s.sub.received(), 1)
}

func (s *PipelineSuite) TestListingIsNewestFirst() {
	for _, user := range []string{"u1", "u2", "u3"} {
		ev := loginEvent()
		ev.UserID = user
		_, err := s.pipeline.Submit(s.ctx, ev)
		s.Require().NoError(err)
	}
	s.drain()

	records, err := s.store.Query(s.ctx, audit.RecordQuery{Limit: 3})
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal([]int64{3, 2, 1}, []int64{records[0].ID, records[1].ID, records[2].ID})
}

func TestPersistenceFailureProducesNoSideEffects(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	// strict mocks: any call on these fails the test
	stream := mocks.NewMockStreamPublisher(ctrl)
	index := mocks.NewMockIndex(ctrl)

	store.EXPECT().Available().Return(true).AnyTimes()
	store.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(int64(0), time.Time{}, errors.New("connection reset"))

	registry := broadcast.NewRegistry(broadcast.WithLogger(discardLogger()))
	sub := &recordingSender{}
	registry.Register(sub)

	p := New(store,
		WithArchive(archivemem.New()),
		WithStream(stream),
		WithIndex(index),
		WithBroadcaster(registry),
		WithLogger(discardLogger()),
	)

	_, err := p.Submit(context.Background(), loginEvent())
	require.Error(t, err)
	require.NoError(t, p.Drain(context.Background()))

	assert.True(t, dErrors.HasCode(err, dErrors.CodePersistenceFailure))
	assert.True(t, dErrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, sub.received())
}

func TestSlowSinkDoesNotDelaySubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndex(ctrl)
	index.EXPECT().Available().Return(true).AnyTimes()

	release := make(chan struct{})
	index.EXPECT().Upsert(gomock.Any(), "1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ audit.IndexDocument) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

	stream := streammem.New()
	p := New(storemem.NewInMemoryStore(),
		WithStream(stream),
		WithIndex(index),
		WithFanoutTimeout(time.Second),
		WithLogger(discardLogger()),
	)

	start := time.Now()
	res, err := p.Submit(context.Background(), loginEvent())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ID)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// the stream sink is not held back by the blocked index call
	require.Eventually(t, func() bool { return len(stream.Messages("")) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, p.Drain(context.Background()))
}

func TestSinkBreakerOpensAfterRepeatedFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStreamPublisher(ctrl)
	stream.EXPECT().Available().Return(true).AnyTimes()
	// the third submission must be short-circuited
	stream.EXPECT().Publish(gomock.Any(), audit.DefaultTopic, "login", gomock.Any()).
		Return(errors.New("broker down")).Times(2)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := New(storemem.NewInMemoryStore(),
		WithStream(stream),
		WithBreakerPolicy(2, time.Hour),
		WithLogger(discardLogger()),
		WithMetrics(m),
	)

	for range 3 {
		_, err := p.Submit(context.Background(), loginEvent())
		require.NoError(t, err)
		require.NoError(t, p.Drain(context.Background()))
	}

	assert.Equal(t, "open", p.BreakerStates()[SinkStream])
	assert.Equal(t, "closed", p.BreakerStates()[SinkIndex])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerOpen.WithLabelValues(SinkStream)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkOutcomes.WithLabelValues(SinkStream, metrics.OutcomeSkipped)))
}

type fakeRelay struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *fakeRelay) Name() string    { return "relay" }
func (r *fakeRelay) Available() bool { return true }
func (r *fakeRelay) Publish(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestRelayReceivesBroadcastPayload(t *testing.T) {
	relay := &fakeRelay{}
	p := New(storemem.NewInMemoryStore(), WithRelay(relay), WithLogger(discardLogger()))

	_, err := p.Submit(context.Background(), loginEvent())
	require.NoError(t, err)
	require.NoError(t, p.Drain(context.Background()))

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.payloads, 1)
	assert.Contains(t, string(relay.payloads[0]), `"type":"new_event"`)
}

func TestDrainHonorsContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndex(ctrl)
	index.EXPECT().Available().Return(true).AnyTimes()
	index.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ audit.IndexDocument) error {
			<-ctx.Done()
			return ctx.Err()
		})

	p := New(storemem.NewInMemoryStore(),
		WithIndex(index),
		WithFanoutTimeout(200*time.Millisecond),
		WithLogger(discardLogger()),
	)
	_, err := p.Submit(context.Background(), loginEvent())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Drain(ctx), context.DeadlineExceeded)
	assert.NoError(t, p.Drain(context.Background()))
}

// cancellingStore commits the record, then cancels the caller's request the
// way a disconnecting client would, and reports whatever its ctx says.
type cancellingStore struct {
	*storemem.InMemoryStore
	cancelCaller context.CancelFunc
}

func (s *cancellingStore) Append(ctx context.Context, rec audit.Record) (int64, time.Time, error) {
	id, ts, err := s.InMemoryStore.Append(ctx, rec)
	if err != nil {
		return 0, time.Time{}, err
	}
	s.cancelCaller()
	// give a caller-derived ctx time to observe the cancel
	time.Sleep(10 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	return id, ts, nil
}

func TestCommittedRecordSurvivesClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{InMemoryStore: storemem.NewInMemoryStore(), cancelCaller: cancel}
	stream := streammem.New()
	p := New(store, WithStream(stream), WithLogger(discardLogger()))

	res, err := p.Submit(ctx, loginEvent())
	require.NoError(t, err)
	require.NoError(t, p.Drain(context.Background()))

	assert.Equal(t, int64(1), res.ID)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, stream.Messages(""), 1, "fan-out runs for the committed record")
}

func TestPersistTimeoutBoundsAppend(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	store.EXPECT().Available().Return(true).AnyTimes()
	store.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ audit.Record) (int64, time.Time, error) {
			<-ctx.Done()
			return 0, time.Time{}, ctx.Err()
		})

	p := New(store, WithPersistTimeout(20*time.Millisecond), WithLogger(discardLogger()))

	start := time.Now()
	_, err := p.Submit(context.Background(), loginEvent())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePersistenceFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type slowBroadcaster struct {
	release chan struct{}
}

func (b *slowBroadcaster) Broadcast(ctx context.Context, _ []byte) broadcast.Result {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return broadcast.Result{Delivered: 1}
}

func TestSlowBroadcastDoesNotDelayRelay(t *testing.T) {
	relay := &fakeRelay{}
	slow := &slowBroadcaster{release: make(chan struct{})}
	p := New(storemem.NewInMemoryStore(),
		WithBroadcaster(slow),
		WithRelay(relay),
		WithLogger(discardLogger()),
	)

	_, err := p.Submit(context.Background(), loginEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return len(relay.payloads) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	close(slow.release)
	require.NoError(t, p.Drain(context.Background()))
}
