package domain

import (
	"context"

	"example.com/streaks/internal/calendar"
)

// Reader holds the queries the engine runs both inside and outside a transaction.
type Reader interface {
	// LastActivityDate returns the maximum activity date in the log, if any.
	LastActivityDate(ctx context.Context) (calendar.Date, bool, error)
	HasActivityOn(ctx context.Context, date calendar.Date) (bool, error)
	// RunEndingAt walks backward from end, one day at a time, while the previous day has an
	// activity, and returns the first day of the run and its length. end counts as active.
	RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error)
}

// Tx is the write side of the activity log and streak ledger, bound to one transaction.
type Tx interface {
	Reader
	InsertActivity(ctx context.Context, activity Activity) (int64, error)
	// ArchiveStreak inserts streak and returns its ledger id, unless one with the same EndDate
	// exists, in which case it reports created=false and leaves the ledger untouched.
	ArchiveStreak(ctx context.Context, streak Streak) (id int64, created bool, err error)
}

// Store is the persistent activity log and streak ledger.
type Store interface {
	Reader
	// WithinTx runs fn in a single atomic transaction. fn's error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListActivities(ctx context.Context, query ActivityQuery) ([]Activity, *Cursor, error)
	ListStreaks(ctx context.Context) ([]Streak, error)
	Totals(ctx context.Context) (Totals, error)
	Ping(ctx context.Context) error
}
