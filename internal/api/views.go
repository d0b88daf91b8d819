package api

import (
	"time"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/persistence"
)

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Description string `json:"description"`
	Type        string `json:"type"`
	Intensity   string `json:"intensity"`
	DurationMin int    `json:"duration_min"`
	Mood        string `json:"mood"`
}

func (r CreateActivityRequest) toInput() domain.ActivityInput {
	return domain.ActivityInput{
		Description: r.Description,
		Type:        r.Type,
		Intensity:   r.Intensity,
		DurationMin: r.DurationMin,
		Mood:        r.Mood,
	}
}

// CreateActivityResponse describes the response body for create.
type CreateActivityResponse struct {
	Activity       ActivityView `json:"activity"`
	ArchivedStreak *StreakView  `json:"archived_streak,omitempty"`
}

// ActivityView exposes a logged activity.
type ActivityView struct {
	ID           int64         `json:"id"`
	Description  string        `json:"description"`
	Type         string        `json:"type"`
	Intensity    string        `json:"intensity"`
	DurationMin  int           `json:"duration_min"`
	Mood         string        `json:"mood"`
	CreatedAt    time.Time     `json:"created_at"`
	ActivityDate calendar.Date `json:"activity_date"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StreakView exposes an archived streak.
type StreakView struct {
	ID         int64         `json:"id"`
	Length     int           `json:"length"`
	StartDate  calendar.Date `json:"start_date"`
	EndDate    calendar.Date `json:"end_date"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// ListStreaksResponse lists archived streaks, most recent first.
type ListStreaksResponse struct {
	Items []StreakView `json:"items"`
}

// CurrentStreakResponse reports the live streak.
type CurrentStreakResponse struct {
	Length int           `json:"length"`
	AsOf   calendar.Date `json:"as_of"`
}

// DayResponse reports whether a day has any activity.
type DayResponse struct {
	Date   calendar.Date `json:"date"`
	Logged bool          `json:"logged"`
}

// StatsResponse mirrors domain.Stats.
type StatsResponse struct {
	CurrentStreak    int            `json:"current_streak"`
	LongestStreak    int            `json:"longest_streak"`
	TotalActiveDays  int            `json:"total_active_days"`
	TotalActivities  int            `json:"total_activities"`
	LastActivityDate *calendar.Date `json:"last_activity_date,omitempty"`
	LoggedToday      bool           `json:"logged_today"`
}

// NewCreateActivityResponse renders the outcome of recording an activity.
func NewCreateActivityResponse(result domain.RecordResult) CreateActivityResponse {
	resp := CreateActivityResponse{Activity: toActivityView(result.Activity)}
	if result.Archived != nil {
		view := toStreakView(*result.Archived)
		resp.ArchivedStreak = &view
	}
	return resp
}

// NewListActivitiesResponse renders one page of activities.
func NewListActivitiesResponse(activities []domain.Activity, next *domain.Cursor) ListActivitiesResponse {
	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	return ListActivitiesResponse{Items: items, NextCursor: persistence.EncodeCursor(next)}
}

// NewListStreaksResponse renders the streak ledger.
func NewListStreaksResponse(streaks []domain.Streak) ListStreaksResponse {
	items := make([]StreakView, 0, len(streaks))
	for _, s := range streaks {
		items = append(items, toStreakView(s))
	}
	return ListStreaksResponse{Items: items}
}

// NewStatsResponse renders streak statistics.
func NewStatsResponse(stats domain.Stats) StatsResponse {
	return StatsResponse{
		CurrentStreak:    stats.CurrentStreak,
		LongestStreak:    stats.LongestStreak,
		TotalActiveDays:  stats.TotalActiveDays,
		TotalActivities:  stats.TotalActivities,
		LastActivityDate: stats.LastActivityDate,
		LoggedToday:      stats.LoggedToday,
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:           a.ID,
		Description:  a.Description,
		Type:         a.Type,
		Intensity:    a.Intensity,
		DurationMin:  a.DurationMin,
		Mood:         a.Mood,
		CreatedAt:    a.CreatedAt,
		ActivityDate: a.ActivityDate,
	}
}

func toStreakView(s domain.Streak) StreakView {
	return StreakView{
		ID:         s.ID,
		Length:     s.Length,
		StartDate:  s.StartDate,
		EndDate:    s.EndDate,
		ArchivedAt: s.ArchivedAt,
	}
}
