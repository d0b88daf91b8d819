// Package sqlite stores the activity log, streak ledger, and outbox in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/events"
)

//go:embed schema.sql
var schema string

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a domain.Store backed by SQLite. It also implements the outbox and
// event log stores when events are enabled.
type Store struct {
	db     *sql.DB
	events bool
	clock  calendar.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithEvents writes outbox rows alongside activity and streak inserts.
func WithEvents(enabled bool) Option {
	return func(s *Store) {
		s.events = enabled
	}
}

// WithClock overrides the clock used for outbox bookkeeping timestamps.
func WithClock(clock calendar.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, so a read-then-write in WithinTx
	// waits on busy_timeout behind another process instead of failing its lock upgrade.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One connection serialises writers in this process and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, clock: calendar.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migration: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements domain.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() string {
	return formatTime(s.clock.Now())
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithinTx implements domain.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &storeTx{q: sqlTx, store: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LastActivityDate implements domain.Reader.
func (s *Store) LastActivityDate(ctx context.Context) (calendar.Date, bool, error) {
	return lastActivityDate(ctx, s.db)
}

// HasActivityOn implements domain.Reader.
func (s *Store) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	return hasActivityOn(ctx, s.db, date)
}

// RunEndingAt implements domain.Reader.
func (s *Store) RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error) {
	return runEndingAt(ctx, s.db, end)
}

// ListActivities implements domain.Store.
func (s *Store) ListActivities(ctx context.Context, query domain.ActivityQuery) ([]domain.Activity, *domain.Cursor, error) {
	stmt := `SELECT id, description, type, intensity, duration, mood, created_at, activity_date
        FROM activities WHERE 1=1`
	args := make([]any, 0, 5)

	if r := query.Range; r != nil {
		stmt += ` AND activity_date BETWEEN ? AND ?`
		args = append(args, r.From.String(), r.To.String())
	}
	if c := query.Cursor; c != nil {
		stmt += ` AND (created_at, id) < (?, ?)`
		args = append(args, formatTime(c.CreatedAt), c.ID)
	}
	stmt += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, query.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, query.Limit)
	for rows.Next() {
		var (
			a                  domain.Activity
			createdAt, dateStr string
		)
		if err := rows.Scan(&a.ID, &a.Description, &a.Type, &a.Intensity, &a.DurationMin, &a.Mood, &createdAt, &dateStr); err != nil {
			return nil, nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, nil, err
		}
		if a.ActivityDate, err = calendar.ParseDate(dateStr); err != nil {
			return nil, nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if query.Limit > 0 && len(results) == query.Limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListStreaks implements domain.Store.
func (s *Store) ListStreaks(ctx context.Context) ([]domain.Streak, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, length, start_date, end_date, archived_at FROM streaks ORDER BY end_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	streaks := make([]domain.Streak, 0)
	for rows.Next() {
		var (
			st                   domain.Streak
			start, end, archived string
		)
		if err := rows.Scan(&st.ID, &st.Length, &start, &end, &archived); err != nil {
			return nil, err
		}
		if st.StartDate, err = calendar.ParseDate(start); err != nil {
			return nil, err
		}
		if st.EndDate, err = calendar.ParseDate(end); err != nil {
			return nil, err
		}
		if st.ArchivedAt, err = parseTime(archived); err != nil {
			return nil, err
		}
		streaks = append(streaks, st)
	}
	return streaks, rows.Err()
}

// Totals implements domain.Store.
func (s *Store) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT activity_date) FROM activities`).Scan(&t.Activities, &t.ActiveDays)
	return t, err
}

type storeTx struct {
	q     querier
	store *Store
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
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO activities (description, type, intensity, duration, mood, created_at, activity_date)
         VALUES (?,?,?,?,?,?,?)`,
		activity.Description,
		activity.Type,
		activity.Intensity,
		activity.DurationMin,
		activity.Mood,
		formatTime(activity.CreatedAt),
		activity.ActivityDate.String(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if t.store.events {
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
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO streaks (length, start_date, end_date, archived_at) VALUES (?,?,?,?)
         ON CONFLICT (end_date) DO NOTHING`,
		streak.Length,
		streak.StartDate.String(),
		streak.EndDate.String(),
		formatTime(streak.ArchivedAt),
	)
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	if streak.ID, err = res.LastInsertId(); err != nil {
		return 0, false, err
	}

	if t.store.events {
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
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key, created_at)
         VALUES (?,?,?,?,?,?,?,?,?)`,
		env.AggregateType,
		env.AggregateID,
		env.EventType,
		env.Topic,
		env.SchemaSubject,
		env.PartitionKey,
		string(env.Payload),
		env.DedupeKey,
		t.store.now(),
	)
	return err
}

func lastActivityDate(ctx context.Context, q querier) (calendar.Date, bool, error) {
	var last sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT MAX(activity_date) FROM activities`).Scan(&last); err != nil {
		return calendar.Date{}, false, err
	}
	if !last.Valid {
		return calendar.Date{}, false, nil
	}
	d, err := calendar.ParseDate(last.String)
	if err != nil {
		return calendar.Date{}, false, err
	}
	return d, true, nil
}

func hasActivityOn(ctx context.Context, q querier, date calendar.Date) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE activity_date = ?)`, date.String()).Scan(&exists)
	return exists, err
}

// runEndingAt walks back one day at a time from end while the preceding day is active.
func runEndingAt(ctx context.Context, q querier, end calendar.Date) (calendar.Date, int, error) {
	const stmt = `WITH RECURSIVE run(d) AS (
            SELECT date(?)
            UNION ALL
            SELECT date(run.d, '-1 day') FROM run
             WHERE EXISTS (SELECT 1 FROM activities WHERE activity_date = date(run.d, '-1 day'))
        )
        SELECT MIN(d), COUNT(*) FROM run`

	var (
		start  string
		length int
	)
	if err := q.QueryRowContext(ctx, stmt, end.String()).Scan(&start, &length); err != nil {
		return calendar.Date{}, 0, err
	}
	d, err := calendar.ParseDate(start)
	if err != nil {
		return calendar.Date{}, 0, err
	}
	return d, length, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	// Rows written by the column default carry millisecond precision.
	if t, err2 := time.Parse(time.RFC3339Nano, value); err2 == nil {
		return t, nil
	}
	return time.Time{}, errors.Join(fmt.Errorf("parse timestamp %q", value), err)
}
