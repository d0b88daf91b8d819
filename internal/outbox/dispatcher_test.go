package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(events.TypeActivityRecorded, "activity_events", "activity_events-value", "2024-06-01")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(store, producer, registry, WithBatchSize(5))

	beforeDelivered := delivered("activity_events")
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "activity_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	record := producer.writes[0].messages[0]
	require.Equal(t, []byte("2024-06-01"), record.Key)
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, `{"id":1}`, string(record.Value[5:]))
	require.Equal(t, events.TypeActivityRecorded, headerString(record, "event_type"))
	require.Equal(t, "activity_events-value", headerString(record, "schema_subject"))
	require.Equal(t, eventUUID(events.TypeActivityRecorded, "1"), headerString(record, "event_id"))

	require.InDelta(t, beforeDelivered+1, delivered("activity_events"), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)
	require.Equal(t, []int64{1}, store.published)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(events.TypeStreakArchived, "streak_events", "streak_events-value", "2024-06-02")

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(store, producer, &stubRegistry{id: 7})

	beforeDLQ := testutil.ToFloat64(eventsCounter.WithLabelValues("streak_events", outcomeDeadLettered))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(eventsCounter.WithLabelValues("streak_events", outcomeDeadLettered)), 0.0001)
	require.Len(t, store.dlq, 1)
	require.Contains(t, store.dlq[0].Reason, "kafka write failed (topic=streak_events)")
	require.Equal(t, []int64{1}, store.published)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(events.TypeActivityRecorded, "activity_events", "activity_events-value", "2024-06-01")
	store.seed(events.TypeActivityRecorded, "activity_events", "activity_events-value", "2024-06-01")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := NewDispatcher(store, producer, registry, WithBatchSize(5))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema registry should be invoked once due to cache")
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed("activity.unknown", "activity_events", "activity_events-value", "k")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(store, producer, registry, WithBatchSize(5))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes, "unknown schema should skip kafka writes")
	require.Empty(t, registry.calls, "schema registry should not be invoked when metadata missing")
	require.Len(t, store.dlq, 1)
	require.Contains(t, store.dlq[0].Reason, "no schema metadata for event_type=activity.unknown")
	require.Equal(t, []int64{1}, store.published)
}

func TestDispatcherIsolatesFailingTopic(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(events.TypeActivityRecorded, "activity_events", "activity_events-value", "2024-06-01")
	store.seed(events.TypeStreakArchived, "streak_events", "streak_events-value", "2024-06-01")
	store.seed("activity.unknown", "activity_events", "activity_events-value", "k")

	producer := &stubProducer{failTopic: "streak_events"}
	dispatcher := NewDispatcher(store, producer, &stubRegistry{id: 3})

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "activity_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	require.Len(t, store.dlq, 2)
	require.Equal(t, int64(3), store.dlq[0].EventID)
	require.Equal(t, int64(2), store.dlq[1].EventID)
	require.ElementsMatch(t, []int64{1, 2, 3}, store.published)
}

func TestDispatcherRegistryFailureDeadLetters(t *testing.T) {
	store := newFakeStore()
	store.seed(events.TypeActivityRecorded, "activity_events", "activity_events-value", "2024-06-01")

	producer := &stubProducer{}
	dispatcher := NewDispatcher(store, producer, &stubRegistry{err: errors.New("registry down")})

	require.NoError(t, dispatcher.processBatch(context.Background()))

	require.Empty(t, producer.writes)
	require.Len(t, store.dlq, 1)
	require.Contains(t, store.dlq[0].Reason, "registry down")
}

func TestDispatcherStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newFakeStore()
	dispatcher := NewDispatcher(store, &stubProducer{}, &stubRegistry{id: 1}, WithPollInterval(time.Millisecond))

	go dispatcher.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDLQManagerRequeuesDueEntries(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.dlq = append(store.dlq, DLQEntry{ID: 1, EventType: events.TypeActivityRecorded, Topic: "activity_events", SchemaSubject: "activity_events-value"})

	before := dlqActions("activity_events", events.TypeActivityRecorded, dlqActionRequeued)

	report, err := NewDLQManager(store, 3, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, DLQReport{Requeued: 1}, report)
	require.Empty(t, store.dlq)
	require.Len(t, store.outbox, 1)
	require.InDelta(t, before+1, dlqActions("activity_events", events.TypeActivityRecorded, dlqActionRequeued), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	store := newFakeStore()
	store.dlq = append(store.dlq, DLQEntry{ID: 1, EventType: events.TypeStreakArchived, Topic: "streak_events", SchemaSubject: "streak_events-value", RetryCount: 3})

	report, err := NewDLQManager(store, 3, time.Second).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, DLQReport{Quarantined: 1}, report)
	require.Equal(t, map[int64]string{1: retryLimitReason}, store.quarantined)
	require.Empty(t, store.outbox)
}

func TestDLQManagerSchedulesRetryOnRequeueFailure(t *testing.T) {
	store := newFakeStore()
	store.dlq = append(store.dlq, DLQEntry{ID: 4, EventType: events.TypeStreakArchived, Topic: "streak_events", RetryCount: 1})
	before := dlqActions("streak_events", events.TypeStreakArchived, dlqActionRetry)

	report, err := NewDLQManager(store, 5, time.Second).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, DLQReport{Rescheduled: 1}, report)
	require.False(t, report.Empty())
	require.Equal(t, 2*time.Second, store.retries[4])
	require.Len(t, store.dlq, 1)
	require.InDelta(t, before+1, dlqActions("streak_events", events.TypeStreakArchived, dlqActionRetry), 0.0001)
}

func TestReplayedFailuresReachQuarantine(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(events.TypeStreakArchived, "streak_events", "streak_events-value", "2024-06-02")

	dispatcher := NewDispatcher(store, &stubProducer{err: errors.New("broker unavailable")}, &stubRegistry{id: 5},
		WithReplayBackoff(time.Second))
	manager := NewDLQManager(store, 2, time.Second)

	var reports []DLQReport
	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, dispatcher.processBatch(ctx))
		report, err := manager.RunOnce(ctx, 10)
		require.NoError(t, err)
		reports = append(reports, report)
	}

	require.Equal(t, []DLQReport{{Requeued: 1}, {Requeued: 1}, {Quarantined: 1}}, reports)
	require.Equal(t, []time.Duration{0, time.Second, 2 * time.Second}, store.dlqDelays)
	require.Len(t, store.quarantined, 1)
	require.Empty(t, store.outbox)
	require.Empty(t, store.dlq)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	m := NewDLQManager(newFakeStore(), 0, 0)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(12))
}

type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	outbox      []Message
	published   []int64
	dlq         []DLQEntry
	quarantined map[int64]string
	retries     map[int64]time.Duration
	dlqDelays   []time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, quarantined: map[int64]string{}, retries: map[int64]time.Duration{}}
}

func (s *fakeStore) seed(eventType, topic, subject, key string) {
	id := s.nextID
	s.nextID++
	payload, _ := json.Marshal(map[string]int64{"id": id})
	s.outbox = append(s.outbox, Message{
		EventID:       id,
		AggregateType: "activity",
		AggregateID:   "1",
		EventType:     eventType,
		Topic:         topic,
		SchemaSubject: subject,
		PartitionKey:  key,
		Payload:       payload,
	})
}

func (s *fakeStore) ClaimOutbox(_ context.Context, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outbox) > limit {
		claimed := append([]Message(nil), s.outbox[:limit]...)
		s.outbox = s.outbox[limit:]
		return claimed, nil
	}
	claimed := s.outbox
	s.outbox = nil
	return claimed, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ids...)
	return nil
}

func (s *fakeStore) WriteDLQ(_ context.Context, msg Message, reason string, retryAfter time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlqDelays = append(s.dlqDelays, retryAfter)
	s.dlq = append(s.dlq, DLQEntry{
		ID:            int64(len(s.dlq) + 1),
		EventID:       msg.EventID,
		EventType:     msg.EventType,
		Topic:         msg.Topic,
		Payload:       msg.Payload,
		Reason:        reason,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		SchemaSubject: msg.SchemaSubject,
		PartitionKey:  msg.PartitionKey,
		RetryCount:    msg.ReplayCount,
	})
	return nil
}

func (s *fakeStore) DueDLQEntries(_ context.Context, limit int) ([]DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DLQEntry, 0, limit)
	for _, e := range s.dlq {
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) QuarantineDLQ(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined[id] = reason
	s.removeDLQ(id)
	return nil
}

func (s *fakeStore) RequeueDLQ(_ context.Context, entry DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, Message{
		EventID:       s.nextID,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		EventType:     entry.EventType,
		Topic:         entry.Topic,
		SchemaSubject: entry.SchemaSubject,
		PartitionKey:  entry.PartitionKey,
		Payload:       entry.Payload,
		ReplayCount:   entry.RetryCount + 1,
	})
	s.nextID++
	s.removeDLQ(entry.ID)
	return nil
}

func (s *fakeStore) ScheduleDLQRetry(_ context.Context, id int64, delay time.Duration, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[id] = delay
	return nil
}

func (s *fakeStore) CountDLQBacklog(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlq), nil
}

func (s *fakeStore) removeDLQ(id int64) {
	kept := s.dlq[:0]
	for _, e := range s.dlq {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.dlq = kept
}

type stubProducer struct {
	mu        sync.Mutex
	err       error
	failTopic string
	writes    []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if topic == s.failTopic {
		return errors.New("broker unavailable")
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []string
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	if s.err != nil {
		return 0, s.err
	}
	return s.id, nil
}

func headerString(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func delivered(topic string) float64 {
	return testutil.ToFloat64(eventsCounter.WithLabelValues(topic, outcomeDelivered))
}

func dlqActions(topic, eventType, action string) float64 {
	return testutil.ToFloat64(dlqEntriesCounter.WithLabelValues(topic, eventType, action))
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}
