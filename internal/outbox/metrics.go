package outbox

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeDelivered    = "delivered"
	outcomeDeadLettered = "dead_lettered"

	dlqActionRequeued    = "requeued"
	dlqActionRetry       = "retry_scheduled"
	dlqActionQuarantined = "quarantined"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by the dispatcher, by topic and outcome.",
	}, []string{"topic", "outcome"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streak_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent delivering and settling a claimed outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqEntriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "Dead-letter entries handled by the DLQ manager, by action.",
	}, []string{"topic", "event_type", "action"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streak_service",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Dead-letter entries not yet quarantined.",
	})
)

func init() {
	prometheus.MustRegister(eventsCounter, batchDuration, dlqEntriesCounter, dlqBacklogGauge)
}

func recordOutcome(topic, outcome string, n int) {
	if n > 0 {
		eventsCounter.WithLabelValues(topic, outcome).Add(float64(n))
	}
}

func recordDLQAction(entry DLQEntry, action string) {
	dlqEntriesCounter.WithLabelValues(entry.Topic, entry.EventType, action).Inc()
}

func refreshBacklog(ctx context.Context, store DLQStore) error {
	count, err := store.CountDLQBacklog(ctx)
	if err != nil {
		return err
	}
	dlqBacklogGauge.Set(float64(count))
	return nil
}
