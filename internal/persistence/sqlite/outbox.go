package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/streaks/internal/events"
	"example.com/streaks/internal/outbox"
)

// ClaimOutbox implements outbox.Store.
func (s *Store) ClaimOutbox(ctx context.Context, limit int) ([]outbox.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replay_count
           FROM outbox
          WHERE published_at IS NULL
          ORDER BY event_id
          LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]outbox.Message, 0)
	ids := make([]any, 0)
	for rows.Next() {
		var (
			msg     outbox.Message
			payload string
		)
		if err := rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &payload, &msg.ReplayCount); err != nil {
			rows.Close()
			return nil, err
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]any{s.now()}, ids...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET claimed_at = ? WHERE event_id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPublished implements outbox.Store.
func (s *Store) MarkPublished(ctx context.Context, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, s.now())
	for _, id := range eventIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE event_id IN (`+placeholders(len(eventIDs))+`)`, args...)
	return err
}

// WriteDLQ implements outbox.Store.
func (s *Store) WriteDLQ(ctx context.Context, msg outbox.Message, reason string, retryAfter time.Duration) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at, created_at)
         VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		msg.EventID, msg.EventType, msg.Topic, string(msg.Payload), reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		msg.ReplayCount, formatTime(now.Add(retryAfter)), formatTime(now),
	)
	return err
}

// DueDLQEntries implements outbox.DLQStore.
func (s *Store) DueDLQEntries(ctx context.Context, limit int) ([]outbox.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
           FROM outbox_dlq
          WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= ?)
          ORDER BY created_at, dlq_id
          LIMIT ?`, s.now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]outbox.DLQEntry, 0)
	for rows.Next() {
		var (
			e       outbox.DLQEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Topic, &payload, &e.Reason, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QuarantineDLQ implements outbox.DLQStore.
func (s *Store) QuarantineDLQ(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_dlq SET quarantined_at = ?, quarantine_reason = ? WHERE dlq_id = ?`, s.now(), reason, id)
	return err
}

// RequeueDLQ implements outbox.DLQStore. The replayed row has no dedupe key so it never
// collides with the original, already published row.
func (s *Store) RequeueDLQ(ctx context.Context, entry outbox.DLQEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replay_count, created_at)
         VALUES (?,?,?,?,?,?,?,?,?)`,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, string(entry.Payload), entry.RetryCount+1, s.now(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = ?`, entry.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// ScheduleDLQRetry implements outbox.DLQStore.
func (s *Store) ScheduleDLQRetry(ctx context.Context, id int64, delay time.Duration, reason string) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = ?,
                next_retry_at = ?,
                reason = ?
          WHERE dlq_id = ?`,
		formatTime(now), formatTime(now.Add(delay)), reason, id,
	)
	return err
}

// CountDLQBacklog implements outbox.DLQStore.
func (s *Store) CountDLQBacklog(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count)
	return count, err
}

// AppendEventLog implements consumer.EventLog.
func (s *Store) AppendEventLog(ctx context.Context, entry events.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (event_type, schema_id, schema_subject, topic, record_partition, record_offset, payload, received_at)
         VALUES (?,?,?,?,?,?,?,?)`,
		entry.EventType, entry.SchemaID, entry.SchemaSubject, entry.Topic, entry.Partition, entry.Offset, string(entry.Payload), formatTime(entry.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
