// Package events defines the payloads the streak service emits and how each is routed.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"example.com/streaks/internal/domain"
)

const (
	TypeActivityRecorded = "activity.recorded"
	TypeStreakArchived   = "streak.archived"
)

// ActivityRecorded is emitted for every activity committed to the log.
type ActivityRecorded struct {
	ActivityID   int64     `json:"activity_id"`
	ActivityDate string    `json:"activity_date"`
	Description  string    `json:"description"`
	Type         string    `json:"type"`
	Intensity    string    `json:"intensity"`
	DurationMin  int       `json:"duration_min"`
	Mood         string    `json:"mood"`
	CreatedAt    time.Time `json:"created_at"`
}

// StreakArchived is emitted when a broken streak enters the ledger.
type StreakArchived struct {
	StreakID   int64     `json:"streak_id"`
	Length     int       `json:"length"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Route says where an event type is published.
type Route struct {
	AggregateType string
	Topic         string
	SchemaSubject string
}

var catalog = map[string]Route{
	TypeActivityRecorded: {
		AggregateType: "activity",
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
	},
	TypeStreakArchived: {
		AggregateType: "streak",
		Topic:         "streak_events",
		SchemaSubject: "streak_events-value",
	},
}

// Lookup returns the route for eventType.
func Lookup(eventType string) (Route, bool) {
	r, ok := catalog[eventType]
	return r, ok
}

// Topics lists every topic the service publishes to.
func Topics() []string {
	return []string{catalog[TypeActivityRecorded].Topic, catalog[TypeStreakArchived].Topic}
}

// Envelope is an event ready to be written to the outbox.
type Envelope struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	DedupeKey     string
	Payload       json.RawMessage
}

// NewActivityRecorded builds the envelope for a stored activity. Activities are keyed by
// day so all events for one day land on the same partition.
func NewActivityRecorded(a domain.Activity) (Envelope, error) {
	return build(TypeActivityRecorded, strconv.FormatInt(a.ID, 10), a.ActivityDate.String(), ActivityRecorded{
		ActivityID:   a.ID,
		ActivityDate: a.ActivityDate.String(),
		Description:  a.Description,
		Type:         a.Type,
		Intensity:    a.Intensity,
		DurationMin:  a.DurationMin,
		Mood:         a.Mood,
		CreatedAt:    a.CreatedAt.UTC(),
	})
}

// NewStreakArchived builds the envelope for an archived streak.
func NewStreakArchived(s domain.Streak) (Envelope, error) {
	return build(TypeStreakArchived, s.EndDate.String(), s.EndDate.String(), StreakArchived{
		StreakID:   s.ID,
		Length:     s.Length,
		StartDate:  s.StartDate.String(),
		EndDate:    s.EndDate.String(),
		ArchivedAt: s.ArchivedAt.UTC(),
	})
}

func build(eventType, aggregateID, partitionKey string, payload any) (Envelope, error) {
	route, ok := Lookup(eventType)
	if !ok {
		return Envelope{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Envelope{
		AggregateType: route.AggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         route.Topic,
		SchemaSubject: route.SchemaSubject,
		PartitionKey:  partitionKey,
		DedupeKey:     fmt.Sprintf("%s:%s", aggregateID, eventType),
		Payload:       body,
	}, nil
}

// LogEntry is a delivered event as recorded by the consumer's audit trail.
type LogEntry struct {
	EventType     string
	SchemaID      int
	SchemaSubject string
	Topic         string
	Partition     int
	Offset        int64
	Payload       json.RawMessage
	ReceivedAt    time.Time
}
