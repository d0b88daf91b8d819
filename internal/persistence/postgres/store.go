// Package postgres persists the activity log, streak ledger, and outbox in Postgres.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/events"
)

//go:embed schema.sql
var schema string

// recordLockKey serialises RecordActivity transactions across processes.
const recordLockKey int64 = 0x73747265616b

// Store provides Postgres-backed persistence for activities, streaks, and outbox events.
type Store struct {
	pool   *pgxpool.Pool
	events bool
}

// NewStore constructs a Store. When withEvents is set, inserts also write outbox rows.
func NewStore(pool *pgxpool.Pool, withEvents bool) *Store {
	return &Store{pool: pool, events: withEvents}
}

// Connect opens a pool against url and applies the schema.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migration: %w", err)
	}
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping implements domain.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx implements domain.Store. The transaction holds an advisory lock so concurrent
// writers see each other's activity dates.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, recordLockKey); err != nil {
		return fmt.Errorf("acquire record lock: %w", err)
	}
	if err = fn(ctx, &storeTx{q: tx, events: s.events}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LastActivityDate implements domain.Reader.
func (s *Store) LastActivityDate(ctx context.Context) (calendar.Date, bool, error) {
	return lastActivityDate(ctx, s.pool)
}

// HasActivityOn implements domain.Reader.
func (s *Store) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	return hasActivityOn(ctx, s.pool, date)
}

// RunEndingAt implements domain.Reader.
func (s *Store) RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error) {
	return runEndingAt(ctx, s.pool, end)
}

// ListActivities implements domain.Store.
func (s *Store) ListActivities(ctx context.Context, query domain.ActivityQuery) ([]domain.Activity, *domain.Cursor, error) {
	args := []any{query.Limit}
	stmt := `SELECT id, description, type, intensity, duration, mood, created_at, activity_date
        FROM activities WHERE TRUE`

	if r := query.Range; r != nil {
		args = append(args, r.From.Time(), r.To.Time())
		stmt += fmt.Sprintf(` AND activity_date BETWEEN $%d::date AND $%d::date`, len(args)-1, len(args))
	}
	if c := query.Cursor; c != nil {
		args = append(args, c.CreatedAt, c.ID)
		stmt += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	stmt += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, query.Limit)
	for rows.Next() {
		var (
			a   domain.Activity
			day time.Time
		)
		if err := rows.Scan(&a.ID, &a.Description, &a.Type, &a.Intensity, &a.DurationMin, &a.Mood, &a.CreatedAt, &day); err != nil {
			return nil, nil, err
		}
		a.ActivityDate = calendar.DateOf(day)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if query.Limit > 0 && len(results) == query.Limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ListStreaks implements domain.Store.
func (s *Store) ListStreaks(ctx context.Context) ([]domain.Streak, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, length, start_date, end_date, archived_at FROM streaks ORDER BY end_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	streaks := make([]domain.Streak, 0)
	for rows.Next() {
		var (
			st         domain.Streak
			start, end time.Time
		)
		if err := rows.Scan(&st.ID, &st.Length, &start, &end, &st.ArchivedAt); err != nil {
			return nil, err
		}
		st.StartDate = calendar.DateOf(start)
		st.EndDate = calendar.DateOf(end)
		streaks = append(streaks, st)
	}
	return streaks, rows.Err()
}

// Totals implements domain.Store.
func (s *Store) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT activity_date) FROM activities`).Scan(&t.Activities, &t.ActiveDays)
	return t, err
}

type storeTx struct {
	q      querier
	events bool
}

func (t *storeTx) LastActivityDate(ctx context.Context) (calendar.Date, bool, error) {
	return lastActivityDate(ctx, t.q)
}

func (t *storeTx) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	return hasActivityOn(ctx, t.q, date)
}

func (t *storeTx) RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error) {
	return runEndingAt(ctx, t.q, end)
}

func (t *storeTx) InsertActivity(ctx context.Context, activity domain.Activity) (int64, error) {
	const stmt = `INSERT INTO activities (description, type, intensity, duration, mood, created_at, activity_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7::date)
        RETURNING id`

	var id int64
	err := t.q.QueryRow(ctx, stmt,
		activity.Description,
		activity.Type,
		activity.Intensity,
		activity.DurationMin,
		activity.Mood,
		activity.CreatedAt,
		activity.ActivityDate.Time(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	if t.events {
		activity.ID = id
		env, err := events.NewActivityRecorded(activity)
		if err != nil {
			return 0, err
		}
		if err := t.insertOutbox(ctx, env); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (t *storeTx) ArchiveStreak(ctx context.Context, streak domain.Streak) (int64, bool, error) {
	const stmt = `INSERT INTO streaks (length, start_date, end_date, archived_at)
        VALUES ($1,$2::date,$3::date,$4)
        ON CONFLICT (end_date) DO NOTHING
        RETURNING id`

	err := t.q.QueryRow(ctx, stmt,
		streak.Length,
		streak.StartDate.Time(),
		streak.EndDate.Time(),
		streak.ArchivedAt,
	).Scan(&streak.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if t.events {
		env, err := events.NewStreakArchived(streak)
		if err != nil {
			return 0, false, err
		}
		if err := t.insertOutbox(ctx, env); err != nil {
			return 0, false, err
		}
	}
	return streak.ID, true, nil
}

func (t *storeTx) insertOutbox(ctx context.Context, env events.Envelope) error {
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := t.q.Exec(ctx, stmt,
		env.AggregateType,
		env.AggregateID,
		env.EventType,
		env.Topic,
		env.SchemaSubject,
		env.PartitionKey,
		[]byte(env.Payload),
		env.DedupeKey,
	)
	return err
}

func lastActivityDate(ctx context.Context, q querier) (calendar.Date, bool, error) {
	var last *time.Time
	if err := q.QueryRow(ctx, `SELECT MAX(activity_date) FROM activities`).Scan(&last); err != nil {
		return calendar.Date{}, false, err
	}
	if last == nil {
		return calendar.Date{}, false, nil
	}
	return calendar.DateOf(*last), true, nil
}

func hasActivityOn(ctx context.Context, q querier, date calendar.Date) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE activity_date = $1::date)`, date.Time()).Scan(&exists)
	return exists, err
}

// runEndingAt walks back one day at a time from end while the preceding day is active.
func runEndingAt(ctx context.Context, q querier, end calendar.Date) (calendar.Date, int, error) {
	const stmt = `WITH RECURSIVE run(d) AS (
            SELECT $1::date
            UNION ALL
            SELECT run.d - 1 FROM run
             WHERE EXISTS (SELECT 1 FROM activities a WHERE a.activity_date = run.d - 1)
        )
        SELECT MIN(d), COUNT(*) FROM run`

	var (
		start  time.Time
		length int
	)
	if err := q.QueryRow(ctx, stmt, end.Time()).Scan(&start, &length); err != nil {
		return calendar.Date{}, 0, err
	}
	return calendar.DateOf(start), length, nil
}
