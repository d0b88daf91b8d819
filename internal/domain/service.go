// Package domain defines the activity log, the streak ledger, and the streak engine over them.
package domain

import (
	"context"
	"fmt"
	"time"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/logger"
	"example.com/streaks/internal/observability"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used to stamp activities.
func WithClock(clock calendar.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLocation sets the zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service is the streak engine. It archives broken streaks as activities are recorded and
// computes the live streak on demand; the streak itself is never stored as a counter.
type Service struct {
	store Store
	clock calendar.Clock
	loc   *time.Location
	log   *logger.Logger
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: calendar.SystemClock{},
		loc:   time.Local,
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current calendar date in the service's zone.
func (s *Service) Today() calendar.Date {
	return calendar.Today(s.clock, s.loc)
}

// RecordActivity logs an activity for today. If the gap since the last active day breaks the
// previous streak, that streak is archived in the same transaction as the insert.
func (s *Service) RecordActivity(ctx context.Context, input ActivityInput) (*RecordResult, error) {
	input = input.normalized()
	now := s.clock.Now().In(s.loc)
	today := calendar.DateOf(now)

	var (
		result   RecordResult
		conflict bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		archived, dup, err := s.archiveBrokenStreak(ctx, tx, today, now)
		if err != nil {
			return err
		}

		activity := Activity{
			Description:  input.Description,
			Type:         input.Type,
			Intensity:    input.Intensity,
			DurationMin:  input.DurationMin,
			Mood:         input.Mood,
			CreatedAt:    now,
			ActivityDate: today,
		}
		id, err := tx.InsertActivity(ctx, activity)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		activity.ID = id

		result = RecordResult{Activity: activity, Archived: archived}
		conflict = dup
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}

	observability.RecordActivityRecorded(now)
	if conflict {
		observability.RecordArchiveConflict()
	}
	if a := result.Archived; a != nil {
		observability.RecordStreakArchived(a.Length)
		s.log.Info("streak archived",
			"length", a.Length,
			"start_date", a.StartDate.String(),
			"end_date", a.EndDate.String(),
		)
	}
	return &result, nil
}

// archiveBrokenStreak archives the run ending on the last active day when today breaks it.
// The second return value reports an archival skipped on an existing end date.
func (s *Service) archiveBrokenStreak(ctx context.Context, tx Tx, today calendar.Date, now time.Time) (*Streak, bool, error) {
	last, ok, err := tx.LastActivityDate(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read last activity date: %w", err)
	}
	if !ok || last == today || !calendar.Breaks(last, today) {
		return nil, false, nil
	}

	start, length, err := tx.RunEndingAt(ctx, last)
	if err != nil {
		return nil, false, fmt.Errorf("walk streak ending %s: %w", last, err)
	}

	streak := Streak{Length: length, StartDate: start, EndDate: last, ArchivedAt: now}
	id, created, err := tx.ArchiveStreak(ctx, streak)
	if err != nil {
		return nil, false, fmt.Errorf("archive streak ending %s: %w", last, err)
	}
	if !created {
		s.log.Debug("streak already archived", "end_date", last.String())
		return nil, true, nil
	}
	streak.ID = id
	return &streak, false, nil
}

// CurrentStreakLength returns the live streak: consecutive active days ending today, or
// yesterday when nothing has been logged yet today. Zero when neither day is active.
func (s *Service) CurrentStreakLength(ctx context.Context) (int, error) {
	length, err := s.currentStreak(ctx, s.Today())
	if err != nil {
		return 0, err
	}
	observability.SetCurrentStreak(length)
	return length, nil
}

func (s *Service) currentStreak(ctx context.Context, today calendar.Date) (int, error) {
	for _, anchor := range calendar.AnchorCandidates(today) {
		ok, err := s.store.HasActivityOn(ctx, anchor)
		if err != nil {
			return 0, fmt.Errorf("current streak: %w", err)
		}
		if !ok {
			continue
		}
		_, length, err := s.store.RunEndingAt(ctx, anchor)
		if err != nil {
			return 0, fmt.Errorf("current streak: %w", err)
		}
		return length, nil
	}
	return 0, nil
}

// PastStreaks returns archived streaks, most recent end date first.
func (s *Service) PastStreaks(ctx context.Context) ([]Streak, error) {
	streaks, err := s.store.ListStreaks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	return streaks, nil
}

// HasLoggedToday reports whether any activity is dated today.
func (s *Service) HasLoggedToday(ctx context.Context) (bool, error) {
	return s.HasActivityOn(ctx, s.Today())
}

// HasActivityOn reports whether any activity is dated date.
func (s *Service) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	ok, err := s.store.HasActivityOn(ctx, date)
	if err != nil {
		return false, fmt.Errorf("has activity on %s: %w", date, err)
	}
	return ok, nil
}

// ListActivities returns activities newest first, with an optional inclusive date range.
func (s *Service) ListActivities(ctx context.Context, query ActivityQuery) ([]Activity, *Cursor, error) {
	if query.Range != nil && query.Range.From.After(query.Range.To) {
		return nil, nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidQuery, query.Range.From, query.Range.To)
	}
	if query.Limit <= 0 {
		query.Limit = defaultListLimit
	}
	if query.Limit > maxListLimit {
		query.Limit = maxListLimit
	}

	activities, next, err := s.store.ListActivities(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("list activities: %w", err)
	}
	for i := range activities {
		activities[i].CreatedAt = activities[i].CreatedAt.In(s.loc)
	}
	return activities, next, nil
}

// Stats combines the live streak with ledger and log aggregates.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	today := s.Today()

	current, err := s.currentStreak(ctx, today)
	if err != nil {
		return Stats{}, err
	}
	streaks, err := s.PastStreaks(ctx)
	if err != nil {
		return Stats{}, err
	}
	totals, err := s.store.Totals(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("totals: %w", err)
	}
	loggedToday, err := s.HasActivityOn(ctx, today)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		CurrentStreak:   current,
		LongestStreak:   current,
		TotalActiveDays: totals.ActiveDays,
		TotalActivities: totals.Activities,
		LoggedToday:     loggedToday,
	}
	for _, streak := range streaks {
		if streak.Length > stats.LongestStreak {
			stats.LongestStreak = streak.Length
		}
	}

	last, ok, err := s.store.LastActivityDate(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("read last activity date: %w", err)
	}
	if ok {
		stats.LastActivityDate = &last
		// A broken run is only archived on the next log, so count it here too.
		_, length, err := s.store.RunEndingAt(ctx, last)
		if err != nil {
			return Stats{}, fmt.Errorf("walk streak ending %s: %w", last, err)
		}
		if length > stats.LongestStreak {
			stats.LongestStreak = length
		}
	}
	return stats, nil
}
