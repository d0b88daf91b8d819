package outbox

import (
	"context"
	"encoding/json"
	"time"
)

// Message represents a row claimed from the outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	// ReplayCount is the number of times the event has been requeued from the DLQ.
	ReplayCount int
}

// DLQEntry represents an outbox_dlq row selected for processing.
type DLQEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

// Store is the outbox side of a persistence backend.
type Store interface {
	// ClaimOutbox marks up to limit unpublished rows as claimed and returns them in event order.
	ClaimOutbox(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, eventIDs []int64) error
	// WriteDLQ records a failed message with retry_count set to msg.ReplayCount, due for
	// retry after retryAfter.
	WriteDLQ(ctx context.Context, msg Message, reason string, retryAfter time.Duration) error
}

// DLQStore is the dead-letter side of a persistence backend.
type DLQStore interface {
	// DueDLQEntries returns unquarantined entries whose retry time has passed, oldest first.
	DueDLQEntries(ctx context.Context, limit int) ([]DLQEntry, error)
	QuarantineDLQ(ctx context.Context, id int64, reason string) error
	// RequeueDLQ reinserts the entry into the outbox with ReplayCount = RetryCount+1 and
	// removes it from the DLQ atomically.
	RequeueDLQ(ctx context.Context, entry DLQEntry) error
	ScheduleDLQRetry(ctx context.Context, id int64, delay time.Duration, reason string) error
	CountDLQBacklog(ctx context.Context) (int, error)
}
