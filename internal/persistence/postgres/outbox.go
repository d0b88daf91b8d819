package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/streaks/internal/events"
	"example.com/streaks/internal/outbox"
)

// ClaimOutbox implements outbox.Store. Rows locked by another dispatcher are skipped.
func (s *Store) ClaimOutbox(ctx context.Context, limit int) (messages []outbox.Message, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replay_count
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	for rows.Next() {
		var (
			msg     outbox.Message
			payload []byte
		)
		if err = rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &payload, &msg.ReplayCount); err != nil {
			rows.Close()
			return nil, err
		}
		msg.Payload = payload
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPublished implements outbox.Store.
func (s *Store) MarkPublished(ctx context.Context, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs)
	return err
}

// WriteDLQ implements outbox.Store.
func (s *Store) WriteDLQ(ctx context.Context, msg outbox.Message, reason string, retryAfter time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW() + make_interval(secs => $11))`,
		msg.EventID, msg.EventType, msg.Topic, []byte(msg.Payload), reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		msg.ReplayCount, retryAfter.Seconds(),
	)
	return err
}

// DueDLQEntries implements outbox.DLQStore.
func (s *Store) DueDLQEntries(ctx context.Context, limit int) ([]outbox.DLQEntry, error) {
	const query = `SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
                    FROM outbox_dlq
                   WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
                   ORDER BY created_at
                   LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]outbox.DLQEntry, 0)
	for rows.Next() {
		var e outbox.DLQEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Topic, &e.Payload, &e.Reason, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QuarantineDLQ implements outbox.DLQStore.
func (s *Store) QuarantineDLQ(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, reason, id)
	return err
}

// RequeueDLQ implements outbox.DLQStore.
func (s *Store) RequeueDLQ(ctx context.Context, entry outbox.DLQEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replay_count)
                   VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err := tx.Exec(ctx, stmt,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
		entry.RetryCount+1,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ScheduleDLQRetry implements outbox.DLQStore.
func (s *Store) ScheduleDLQRetry(ctx context.Context, id int64, delay time.Duration, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + make_interval(secs => $1),
                reason = $2
          WHERE dlq_id = $3`,
		delay.Seconds(), reason, id,
	)
	return err
}

// CountDLQBacklog implements outbox.DLQStore.
func (s *Store) CountDLQBacklog(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count)
	return count, err
}

// AppendEventLog implements consumer.EventLog.
func (s *Store) AppendEventLog(ctx context.Context, entry events.LogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO event_log (event_type, schema_id, schema_subject, topic, record_partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.EventType,
		entry.SchemaID,
		entry.SchemaSubject,
		entry.Topic,
		entry.Partition,
		entry.Offset,
		[]byte(entry.Payload),
		entry.ReceivedAt,
	)
	return err
}
