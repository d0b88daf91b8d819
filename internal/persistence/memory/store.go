// Package memory keeps the activity log and streak ledger in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
)

// Store is an in-memory domain.Store for tests and ephemeral runs.
type Store struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	activities []domain.Activity
	streaks    []domain.Streak
	nextActID  int64
	nextStrkID int64
}

func (s state) clone() state {
	out := s
	out.activities = append([]domain.Activity(nil), s.activities...)
	out.streaks = append([]domain.Streak(nil), s.streaks...)
	return out
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{state: state{nextActID: 1, nextStrkID: 1}}
}

// WithinTx implements domain.Store. Writers are serialised and fn works on a copy that
// replaces the live state only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// LastActivityDate implements domain.Reader.
func (s *Store) LastActivityDate(ctx context.Context) (calendar.Date, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := lastActivityDate(&s.state)
	return d, ok, nil
}

// HasActivityOn implements domain.Reader.
func (s *Store) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasActivityOn(&s.state, date), nil
}

// RunEndingAt implements domain.Reader.
func (s *Store) RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runEndingAt(&s.state, end)
}

// ListActivities implements domain.Store.
func (s *Store) ListActivities(ctx context.Context, query domain.ActivityQuery) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := append([]domain.Activity(nil), s.state.activities...)
	sort.Slice(sorted, func(i, j int) bool {
		return newerThan(sorted[i].CreatedAt.UnixNano(), sorted[i].ID, sorted[j].CreatedAt.UnixNano(), sorted[j].ID)
	})

	results := make([]domain.Activity, 0, query.Limit)
	for _, a := range sorted {
		if query.Range != nil && (a.ActivityDate.Before(query.Range.From) || a.ActivityDate.After(query.Range.To)) {
			continue
		}
		if c := query.Cursor; c != nil && !newerThan(c.CreatedAt.UnixNano(), c.ID, a.CreatedAt.UnixNano(), a.ID) {
			continue
		}
		results = append(results, a)
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
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
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.Streak(nil), s.state.streaks...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndDate.After(out[j].EndDate)
	})
	return out, nil
}

// Totals implements domain.Store.
func (s *Store) Totals(ctx context.Context) (domain.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[calendar.Date]struct{})
	for _, a := range s.state.activities {
		days[a.ActivityDate] = struct{}{}
	}
	return domain.Totals{Activities: len(s.state.activities), ActiveDays: len(days)}, nil
}

// Ping implements domain.Store.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memTx struct {
	st state
}

func (t *memTx) LastActivityDate(ctx context.Context) (calendar.Date, bool, error) {
	d, ok := lastActivityDate(&t.st)
	return d, ok, nil
}

func (t *memTx) HasActivityOn(ctx context.Context, date calendar.Date) (bool, error) {
	return hasActivityOn(&t.st, date), nil
}

func (t *memTx) RunEndingAt(ctx context.Context, end calendar.Date) (calendar.Date, int, error) {
	return runEndingAt(&t.st, end)
}

func (t *memTx) InsertActivity(ctx context.Context, activity domain.Activity) (int64, error) {
	activity.ID = t.st.nextActID
	t.st.nextActID++
	t.st.activities = append(t.st.activities, activity)
	return activity.ID, nil
}

func (t *memTx) ArchiveStreak(ctx context.Context, streak domain.Streak) (int64, bool, error) {
	for _, existing := range t.st.streaks {
		if existing.EndDate == streak.EndDate {
			return 0, false, nil
		}
	}
	streak.ID = t.st.nextStrkID
	t.st.nextStrkID++
	t.st.streaks = append(t.st.streaks, streak)
	return streak.ID, true, nil
}

func lastActivityDate(st *state) (calendar.Date, bool) {
	var (
		last  calendar.Date
		found bool
	)
	for _, a := range st.activities {
		if !found || a.ActivityDate.After(last) {
			last = a.ActivityDate
			found = true
		}
	}
	return last, found
}

func hasActivityOn(st *state, date calendar.Date) bool {
	for _, a := range st.activities {
		if a.ActivityDate == date {
			return true
		}
	}
	return false
}

func runEndingAt(st *state, end calendar.Date) (calendar.Date, int, error) {
	return calendar.RunEndingAt(func(d calendar.Date) (bool, error) {
		return hasActivityOn(st, d), nil
	}, end)
}

func newerThan(aTS, aID, bTS, bID int64) bool {
	if aTS != bTS {
		return aTS > bTS
	}
	return aID > bID
}
