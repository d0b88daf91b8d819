package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/api"
	"example.com/streaks/internal/auth"
	"example.com/streaks/internal/config"
)

func runCLI(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "streaks.db"),
		Timezone:    "UTC",
		JWTSecret:   "cli-secret",
		JWTIssuer:   "streaks.cli",
	}
}

func TestLogThenInspect(t *testing.T) {
	cfg := testConfig(t)

	out, err := runCLI(t, cfg, "today")
	require.NoError(t, err)
	require.Contains(t, out, "Nothing logged today")

	out, err = runCLI(t, cfg, "log", "-d", "push ups", "-t", "strength", "-m", "15")
	require.NoError(t, err)
	require.Contains(t, out, `"push ups"`)

	out, err = runCLI(t, cfg, "current")
	require.NoError(t, err)
	require.Contains(t, out, "Current streak: 1 day")

	out, err = runCLI(t, cfg, "--json", "today")
	require.NoError(t, err)
	var today map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &today))
	require.Equal(t, true, today["logged"])

	out, err = runCLI(t, cfg, "history")
	require.NoError(t, err)
	require.Contains(t, out, "No past streaks")

	out, err = runCLI(t, cfg, "activities")
	require.NoError(t, err)
	require.Contains(t, out, "push ups")

	out, err = runCLI(t, cfg, "stats")
	require.NoError(t, err)
	require.Contains(t, out, "Activities:   1")
}

func TestLogRejectsInvalidInput(t *testing.T) {
	cfg := testConfig(t)

	_, err := runCLI(t, cfg, "log", "-d", "nap", "-t", "rest")
	require.Error(t, err)
	require.Contains(t, err.Error(), "duration")

	out, err := runCLI(t, cfg, "stats")
	require.NoError(t, err)
	require.Contains(t, out, "Activities:   0")
}

func TestActivitiesRangeFlags(t *testing.T) {
	cfg := testConfig(t)

	_, err := runCLI(t, cfg, "activities", "--from", "2024-06-01")
	require.Error(t, err)

	out, err := runCLI(t, cfg, "activities", "--from", "2024-06-01", "--to", "2024-06-02")
	require.NoError(t, err)
	require.Contains(t, out, "No activities")
}

func TestTokenIsAcceptedByAuth(t *testing.T) {
	cfg := testConfig(t)

	out, err := runCLI(t, cfg, "token", "--subject", "me", "--scopes", "streaks:read")
	require.NoError(t, err)

	claims, err := auth.ParseClaims(out, auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	require.NoError(t, err)
	require.Equal(t, "me", claims.Subject)
	require.True(t, claims.HasScope(auth.ScopeStreaksRead))
	require.False(t, claims.HasScope(auth.ScopeActivitiesWrite))
}

func TestJSONOutputMatchesAPIViews(t *testing.T) {
	cfg := testConfig(t)

	out, err := runCLI(t, cfg, "--json", "log", "-d", "swim", "-t", "cardio", "-m", "30")
	require.NoError(t, err)
	var created api.CreateActivityResponse
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotZero(t, created.Activity.ID)
	require.Equal(t, 30, created.Activity.DurationMin)
	require.Nil(t, created.ArchivedStreak)

	out, err = runCLI(t, cfg, "--json", "stats")
	require.NoError(t, err)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, float64(1), stats["current_streak"])
	require.Equal(t, float64(1), stats["total_activities"])
	require.Equal(t, true, stats["logged_today"])
	require.NotContains(t, stats, "LongestStreak")

	out, err = runCLI(t, cfg, "--json", "history")
	require.NoError(t, err)
	var history map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Equal(t, []interface{}{}, history["items"])
}
