package outbox

import "example.com/streaks/internal/events"

// schemaFor returns the JSON schema registered for eventType.
func schemaFor(eventType string) (string, bool) {
	switch eventType {
	case events.TypeActivityRecorded:
		return activityRecordedSchema, true
	case events.TypeStreakArchived:
		return streakArchivedSchema, true
	default:
		return "", false
	}
}

const activityRecordedSchema = `{
  "type": "object",
  "title": "ActivityRecorded",
  "properties": {
    "activity_id": {"type": "integer"},
    "activity_date": {"type": "string", "format": "date"},
    "description": {"type": "string"},
    "type": {"type": "string"},
    "intensity": {"type": "string"},
    "duration_min": {"type": "integer"},
    "mood": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "activity_date", "type", "duration_min", "created_at"],
  "additionalProperties": false
}`

const streakArchivedSchema = `{
  "type": "object",
  "title": "StreakArchived",
  "properties": {
    "streak_id": {"type": "integer"},
    "length": {"type": "integer", "minimum": 1},
    "start_date": {"type": "string", "format": "date"},
    "end_date": {"type": "string", "format": "date"},
    "archived_at": {"type": "string", "format": "date-time"}
  },
  "required": ["streak_id", "length", "start_date", "end_date", "archived_at"],
  "additionalProperties": false
}`
