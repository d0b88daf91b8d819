package domain

import (
	"time"

	"example.com/streaks/internal/calendar"
)

// Streak is an archived run of consecutive active days that has been broken.
// EndDate is unique across the ledger.
type Streak struct {
	ID         int64
	Length     int
	StartDate  calendar.Date
	EndDate    calendar.Date
	ArchivedAt time.Time
}

// Totals aggregates the activity log.
type Totals struct {
	Activities int
	ActiveDays int
}

// Stats summarises streak history for display.
type Stats struct {
	CurrentStreak    int
	LongestStreak    int
	TotalActiveDays  int
	TotalActivities  int
	LastActivityDate *calendar.Date
	LoggedToday      bool
}

// RecordResult is returned by RecordActivity.
type RecordResult struct {
	Activity Activity
	// Archived is set when logging this activity broke, and archived, the previous streak.
	Archived *Streak
}
