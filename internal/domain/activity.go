package domain

import (
	"fmt"
	"strings"
	"time"

	"example.com/streaks/internal/calendar"
)

const (
	defaultIntensity = "medium"
	defaultMood      = "neutral"
)

// Activity is one logged occurrence, counted toward ActivityDate.
type Activity struct {
	ID           int64
	Description  string
	Type         string
	Intensity    string
	DurationMin  int
	Mood         string
	CreatedAt    time.Time
	ActivityDate calendar.Date
}

// ActivityInput captures the attributes supplied by a caller when logging an activity.
type ActivityInput struct {
	Description string
	Type        string
	Intensity   string
	DurationMin int
	Mood        string
}

// Validate rejects malformed input. Transports call it before handing input to the Service.
func (in ActivityInput) Validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidActivity)
	}
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidActivity)
	}
	if in.DurationMin <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidActivity)
	}
	return nil
}

func (in ActivityInput) normalized() ActivityInput {
	in.Description = strings.TrimSpace(in.Description)
	in.Type = strings.TrimSpace(in.Type)
	in.Intensity = strings.TrimSpace(in.Intensity)
	in.Mood = strings.TrimSpace(in.Mood)
	if in.Intensity == "" {
		in.Intensity = defaultIntensity
	}
	if in.Mood == "" {
		in.Mood = defaultMood
	}
	return in
}

// DateRange is an inclusive range of activity dates.
type DateRange struct {
	From calendar.Date
	To   calendar.Date
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// ActivityQuery filters and pages ListActivities.
type ActivityQuery struct {
	Range  *DateRange
	Cursor *Cursor
	Limit  int
}
