package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	retryLimitReason = "retry limit reached"
	maxBackoff       = time.Hour
)

// DLQReport summarises one DLQManager pass.
type DLQReport struct {
	Requeued    int
	Rescheduled int
	Quarantined int
}

// Empty reports whether the pass touched nothing.
func (r DLQReport) Empty() bool {
	return r.Requeued == 0 && r.Rescheduled == 0 && r.Quarantined == 0
}

// DLQManager moves due dead-letter entries back into the outbox, backing off on failure and
// quarantining entries that exceed maxRetries. RetryCount counts replays of the event, so an
// event that keeps failing after each requeue still reaches quarantine.
type DLQManager struct {
	store      DLQStore
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager. Non-positive arguments fall back to 5 retries and
// a one minute base delay.
func NewDLQManager(store DLQStore, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{store: store, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce handles up to batchSize due entries. Per-entry failures are joined into the
// returned error; the remaining entries are still processed.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (DLQReport, error) {
	var report DLQReport

	entries, err := m.store.DueDLQEntries(ctx, batchSize)
	if err != nil {
		return report, fmt.Errorf("load dlq entries: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		action, err := m.settle(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		recordDLQAction(entry, action)
		switch action {
		case dlqActionRequeued:
			report.Requeued++
		case dlqActionRetry:
			report.Rescheduled++
		case dlqActionQuarantined:
			report.Quarantined++
		}
	}

	if err := refreshBacklog(ctx, m.store); err != nil {
		errs = append(errs, fmt.Errorf("count dlq backlog: %w", err))
	}
	return report, errors.Join(errs...)
}

func (m *DLQManager) settle(ctx context.Context, entry DLQEntry) (string, error) {
	if entry.RetryCount >= m.maxRetries {
		return dlqActionQuarantined, m.store.QuarantineDLQ(ctx, entry.ID, retryLimitReason)
	}

	requeueErr := m.requeue(ctx, entry)
	if requeueErr == nil {
		return dlqActionRequeued, nil
	}
	delay := m.backoffDelay(entry.RetryCount + 1)
	return dlqActionRetry, m.store.ScheduleDLQRetry(ctx, entry.ID, delay, requeueErr.Error())
}

func (m *DLQManager) requeue(ctx context.Context, entry DLQEntry) error {
	if entry.SchemaSubject == "" {
		return errors.New("missing schema_subject")
	}
	return m.store.RequeueDLQ(ctx, entry)
}

func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	return backoff(m.baseDelay, attempt)
}

// backoff doubles base per attempt, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		return maxBackoff
	}
	delay := base << uint(attempt-1)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}
