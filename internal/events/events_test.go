package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
)

func TestNewActivityRecorded(t *testing.T) {
	env, err := NewActivityRecorded(domain.Activity{
		ID:           7,
		Description:  "swim",
		Type:         "swim",
		Intensity:    "high",
		DurationMin:  45,
		Mood:         "great",
		CreatedAt:    time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC),
		ActivityDate: calendar.MustParseDate("2024-06-01"),
	})
	require.NoError(t, err)
	require.Equal(t, "activity_events", env.Topic)
	require.Equal(t, "activity_events-value", env.SchemaSubject)
	require.Equal(t, "2024-06-01", env.PartitionKey)
	require.Equal(t, "7", env.AggregateID)
	require.Equal(t, "7:activity.recorded", env.DedupeKey)

	var payload ActivityRecorded
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, int64(7), payload.ActivityID)
	require.Equal(t, "2024-06-01", payload.ActivityDate)
}

func TestNewStreakArchived(t *testing.T) {
	env, err := NewStreakArchived(domain.Streak{
		ID:        3,
		Length:    2,
		StartDate: calendar.MustParseDate("2024-06-01"),
		EndDate:   calendar.MustParseDate("2024-06-02"),
	})
	require.NoError(t, err)
	require.Equal(t, "streak_events", env.Topic)
	require.Equal(t, "streak", env.AggregateType)
	require.Equal(t, "2024-06-02", env.PartitionKey)
	require.JSONEq(t, `{"streak_id":3,"length":2,"start_date":"2024-06-01","end_date":"2024-06-02","archived_at":"0001-01-01T00:00:00Z"}`, string(env.Payload))
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("activity.deleted")
	require.False(t, ok)
	require.ElementsMatch(t, []string{"activity_events", "streak_events"}, Topics())
}
