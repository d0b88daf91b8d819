package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/streaks/internal/events"
)

// ErrUnknownTopic is returned for topics outside the event catalog.
var ErrUnknownTopic = errors.New("topic is not in the event catalog")

// KafkaProducer keeps one writer per catalog topic. Records are hashed on their key, so every
// event for one calendar day lands on the same partition and keeps its order.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration
	allowed      map[string]struct{}

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for the topics in events.Topics.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	allowed := make(map[string]struct{})
	for _, topic := range events.Topics() {
		allowed[topic] = struct{}{}
	}
	return &KafkaProducer{
		brokers:      brokers,
		batchTimeout: 50 * time.Millisecond,
		allowed:      allowed,
		writers:      make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes msgs to topic synchronously, waiting for all in-sync replicas.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, err := p.writerForTopic(topic)
	if err != nil {
		return err
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), topic, err)
	}
	return nil
}

func (p *KafkaProducer) writerForTopic(topic string) (*kafka.Writer, error) {
	if _, ok := p.allowed[topic]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer, nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: p.batchTimeout,
	}
	p.writers[topic] = writer
	return writer, nil
}

// Close flushes and releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
