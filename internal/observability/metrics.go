package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesRecordedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "activities_recorded_total",
		Help:      "Number of activities committed to the activity log.",
	})
	streaksArchivedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "streaks_archived_total",
		Help:      "Number of broken streaks committed to the streak ledger.",
	})
	archiveConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "archive_conflicts_total",
		Help:      "Number of archival attempts skipped because the end date was already archived.",
	})
	archivedLengthHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "archived_streak_length_days",
		Help:      "Length in days of streaks at the moment they were archived.",
		Buckets:   []float64{1, 2, 3, 5, 7, 14, 30, 60, 100, 365},
	})
	currentStreakGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "current_streak_days",
		Help:      "Most recently computed live streak length.",
	})
	activityRecordedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streak_service",
		Subsystem: "engine",
		Name:      "last_activity_recorded_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity committed to the log.",
	})
)

func init() {
	prometheus.MustRegister(
		activitiesRecordedCounter,
		streaksArchivedCounter,
		archiveConflictCounter,
		archivedLengthHistogram,
		currentStreakGauge,
		activityRecordedGauge,
	)
}

// RecordActivityRecorded counts a committed activity and moves the watermark gauge.
func RecordActivityRecorded(ts time.Time) {
	activitiesRecordedCounter.Inc()
	if ts.IsZero() {
		return
	}
	activityRecordedGauge.Set(float64(ts.Unix()))
}

// RecordStreakArchived counts a committed archival.
func RecordStreakArchived(length int) {
	streaksArchivedCounter.Inc()
	archivedLengthHistogram.Observe(float64(length))
}

// RecordArchiveConflict counts an archival that hit an existing end date.
func RecordArchiveConflict() {
	archiveConflictCounter.Inc()
}

// SetCurrentStreak publishes the last computed live streak.
func SetCurrentStreak(days int) {
	currentStreakGauge.Set(float64(days))
}
