package consumer

import (
	"context"
	"time"

	"example.com/streaks/internal/events"
)

// EventLog stores delivered events for auditing.
type EventLog interface {
	AppendEventLog(ctx context.Context, entry events.LogEntry) error
}

// PersistenceHandler writes consumed events into the event_log table.
type PersistenceHandler struct {
	log EventLog
	now func() time.Time
}

// NewPersistenceHandler constructs a handler backed by the provided event log.
func NewPersistenceHandler(log EventLog) *PersistenceHandler {
	return &PersistenceHandler{log: log, now: time.Now}
}

// Handle stores the event payload. Records without a broker timestamp are stamped on receipt.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	received := msg.Timestamp
	if received.IsZero() {
		received = h.now()
	}
	start := time.Now()
	defer func() { eventLogAppendDuration.Observe(time.Since(start).Seconds()) }()

	return h.log.AppendEventLog(ctx, events.LogEntry{
		EventType:     msg.EventType,
		SchemaID:      msg.SchemaID,
		SchemaSubject: msg.SchemaSubject,
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Payload:       msg.Payload,
		ReceivedAt:    received.UTC(),
	})
}
