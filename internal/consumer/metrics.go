package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
	outcomeDecodeError  = "decode_error"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka records read, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	deliveryLagGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streak_service",
		Subsystem: "consumer",
		Name:      "delivery_lag_seconds",
		Help:      "Seconds between the broker timestamp and processing of the latest record per topic.",
	}, []string{"topic"})

	eventLogAppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streak_service",
		Subsystem: "consumer",
		Name:      "event_log_append_seconds",
		Help:      "Latency of writing one record to the event log.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(messagesCounter, deliveryLagGauge, eventLogAppendDuration)
}

func recordProcessed(msg Message, now time.Time) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcomeProcessed).Inc()
	if !msg.Timestamp.IsZero() {
		deliveryLagGauge.WithLabelValues(msg.Topic).Set(now.Sub(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcomeHandlerError).Inc()
}

// Undecodable records have no trustworthy event type.
func recordDecodeError(topic string) {
	messagesCounter.WithLabelValues(topic, "", outcomeDecodeError).Inc()
}
