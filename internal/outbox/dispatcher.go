// Package outbox persists and delivers domain events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"example.com/streaks/internal/logger"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 25
	defaultReplayDelay  = time.Minute
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the outbox is polled.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithBatchSize caps the number of rows claimed per poll.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithReplayBackoff sets the base delay before a replayed event that failed again is retried.
// First failures are always due immediately.
func WithReplayBackoff(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.replayDelay = base
		}
	}
}

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(log *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// Dispatcher claims outbox rows and publishes them to Kafka in the registry wire format.
// Every claimed row ends up either published or in the DLQ.
type Dispatcher struct {
	store        Store
	producer     messageWriter
	registry     schemaRegistrar
	log          *logger.Logger
	pollInterval time.Duration
	batchSize    int
	replayDelay  time.Duration
	now          func() time.Time

	schemaIDs sync.Map
	done      chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, producer messageWriter, registry schemaRegistrar, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		producer:     producer,
		registry:     registry,
		log:          logger.NewNop(),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		replayDelay:  defaultReplayDelay,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("outbox dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// pending groups the records bound for one topic with their outbox rows.
type pending struct {
	rows    []Message
	records []kafka.Message
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := d.now()

	claimed, err := d.store.ClaimOutbox(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("claim outbox: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(d.now().Sub(start).Seconds()) }()

	byTopic := make(map[string]*pending)
	order := make([]string, 0, 2)
	for _, msg := range claimed {
		record, err := d.encode(ctx, msg)
		if err != nil {
			if dlqErr := d.deadLetter(ctx, []Message{msg}, err); dlqErr != nil {
				return dlqErr
			}
			continue
		}
		p, ok := byTopic[msg.Topic]
		if !ok {
			p = &pending{}
			byTopic[msg.Topic] = p
			order = append(order, msg.Topic)
		}
		p.rows = append(p.rows, msg)
		p.records = append(p.records, record)
	}

	for _, topic := range order {
		p := byTopic[topic]
		if err := d.producer.WriteMessages(ctx, topic, p.records...); err != nil {
			d.log.Warn("outbox publish failed", "topic", topic, "batch", len(p.rows), "error", err)
			if dlqErr := d.deadLetter(ctx, p.rows, err); dlqErr != nil {
				return dlqErr
			}
			continue
		}
		recordOutcome(topic, outcomeDelivered, len(p.rows))
	}

	return d.store.MarkPublished(ctx, eventIDs(claimed))
}

func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	schema, ok := schemaFor(msg.EventType)
	if !ok {
		return kafka.Message{}, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	schemaID, err := d.schemaID(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  d.now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "event_id", Value: []byte(eventUUID(msg.EventType, msg.AggregateID))},
		},
	}, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	if id, ok := d.schemaIDs.Load(subject); ok {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("schema %s: %w", subject, err)
	}
	d.schemaIDs.Store(subject, id)
	return id, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, rows []Message, cause error) error {
	for _, msg := range rows {
		reason := fmt.Sprintf("%s (topic=%s)", cause, msg.Topic)
		var retryAfter time.Duration
		if msg.ReplayCount > 0 {
			retryAfter = backoff(d.replayDelay, msg.ReplayCount)
		}
		if err := d.store.WriteDLQ(ctx, msg, reason, retryAfter); err != nil {
			return fmt.Errorf("write dlq for event %d: %w", msg.EventID, err)
		}
		recordOutcome(msg.Topic, outcomeDeadLettered, 1)
	}
	return nil
}

func eventIDs(rows []Message) []int64 {
	ids := make([]int64, len(rows))
	for i, msg := range rows {
		ids[i] = msg.EventID
	}
	return ids
}

// eventUUID derives a stable id for an event so replays from the DLQ carry the same id.
func eventUUID(eventType, aggregateID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(aggregateID+":"+eventType)).String()
}

// encodeWireFormat frames payload as magic byte 0, a big-endian schema id, then the body.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
