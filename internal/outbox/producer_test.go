package outbox

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/events"
)

func TestProducerRejectsUnknownTopic(t *testing.T) {
	producer := NewKafkaProducer([]string{"localhost:9092"})
	defer producer.Close()

	err := producer.WriteMessages(context.Background(), "ontology_events", kafka.Message{Value: []byte("{}")})
	require.ErrorIs(t, err, ErrUnknownTopic)
}

func TestProducerReusesWriterPerTopic(t *testing.T) {
	producer := NewKafkaProducer([]string{"localhost:9092"})
	defer producer.Close()

	topic := events.Topics()[0]
	first, err := producer.writerForTopic(topic)
	require.NoError(t, err)
	second, err := producer.writerForTopic(topic)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, kafka.RequireAll, first.RequiredAcks)

	require.NoError(t, producer.Close())
	require.Empty(t, producer.writers)
}
