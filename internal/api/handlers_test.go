package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/auth"
	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/persistence/memory"
)

type testEnv struct {
	router *mux.Router
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)}
	store := memory.NewStore()
	clock := calendar.ClockFunc(func() time.Time { return env.now })
	service := domain.NewService(store, domain.WithClock(clock), domain.WithLocation(time.UTC))

	env.router = mux.NewRouter()
	NewHandler(service, store, nil).RegisterRoutes(env.router)
	return env
}

func (e *testEnv) setDay(value string) {
	d := calendar.MustParseDate(value)
	e.now = time.Date(d.Year, d.Month, d.Day, 9, 30, 0, 0, time.UTC)
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if scopes != nil {
		claims := &auth.Claims{Subject: "tester", Scopes: map[string]struct{}{}, ExpiresAt: time.Now().Add(time.Hour)}
		for _, s := range scopes {
			claims.Scopes[s] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func validRequest() CreateActivityRequest {
	return CreateActivityRequest{Description: "evening walk", Type: "walk", DurationMin: 25}
}

func TestCreateActivityArchivesBrokenStreak(t *testing.T) {
	env := newTestEnv(t)

	for _, day := range []string{"2024-06-01", "2024-06-02"} {
		env.setDay(day)
		rec := env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesWrite)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[CreateActivityResponse](t, rec)
		require.Nil(t, resp.ArchivedStreak)
		require.Equal(t, day, resp.Activity.ActivityDate.String())
		require.Equal(t, "medium", resp.Activity.Intensity)
	}

	env.setDay("2024-06-05")
	rec := env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[CreateActivityResponse](t, rec)
	require.NotNil(t, resp.ArchivedStreak)
	require.Equal(t, 2, resp.ArchivedStreak.Length)
	require.Equal(t, "2024-06-01", resp.ArchivedStreak.StartDate.String())
	require.Equal(t, "2024-06-02", resp.ArchivedStreak.EndDate.String())
	require.NotZero(t, resp.ArchivedStreak.ID)

	rec = env.do(t, http.MethodGet, "/v1/streaks", nil, auth.ScopeStreaksRead)
	require.Equal(t, http.StatusOK, rec.Code)
	streaks := decode[ListStreaksResponse](t, rec)
	require.Len(t, streaks.Items, 1)
	require.Equal(t, streaks.Items[0].ID, resp.ArchivedStreak.ID)

	rec = env.do(t, http.MethodGet, "/v1/streaks/current", nil, auth.ScopeStreaksRead)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[CurrentStreakResponse](t, rec)
	require.Equal(t, 1, current.Length)
	require.Equal(t, "2024-06-05", current.AsOf.String())
}

func TestCreateActivityRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/activities", CreateActivityRequest{Type: "run", DurationMin: 10}, auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decode[map[string]string](t, rec)["type"])

	req := httptest.NewRequest(http.MethodPost, "/v1/activities", bytes.NewBufferString("{"))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Subject: "x", Scopes: map[string]struct{}{auth.ScopeActivitiesWrite: {}}}))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decode[map[string]string](t, rec)["type"])

	rec = env.do(t, http.MethodGet, "/v1/streaks/current", nil, auth.ScopeStreaksRead)
	require.Equal(t, 0, decode[CurrentStreakResponse](t, rec).Length)
}

func TestScopesEnforced(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/activities", validRequest())
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/streaks/stats", nil, auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/activities", nil, auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDayEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.setDay("2024-06-03")

	rec := env.do(t, http.MethodGet, "/v1/activities/today", nil, auth.ScopeStreaksRead)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[DayResponse](t, rec).Logged)

	rec = env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/activities/today", nil, auth.ScopeStreaksRead)
	day := decode[DayResponse](t, rec)
	require.True(t, day.Logged)
	require.Equal(t, "2024-06-03", day.Date.String())

	rec = env.do(t, http.MethodGet, "/v1/activities/days/2024-06-03", nil, auth.ScopeActivitiesRead)
	require.True(t, decode[DayResponse](t, rec).Logged)

	rec = env.do(t, http.MethodGet, "/v1/activities/days/2024-06-02", nil, auth.ScopeActivitiesRead)
	require.False(t, decode[DayResponse](t, rec).Logged)

	rec = env.do(t, http.MethodGet, "/v1/activities/days/june-third", nil, auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActivitiesPagingAndRange(t *testing.T) {
	env := newTestEnv(t)
	for _, day := range []string{"2024-06-01", "2024-06-02", "2024-06-03"} {
		env.setDay(day)
		rec := env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesWrite)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/activities?limit=2", nil, auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[ListActivitiesResponse](t, rec)
	require.Len(t, page.Items, 2)
	require.Equal(t, "2024-06-03", page.Items[0].ActivityDate.String())
	require.NotEmpty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/v1/activities?limit=2&cursor="+page.NextCursor, nil, auth.ScopeActivitiesRead)
	page = decode[ListActivitiesResponse](t, rec)
	require.Len(t, page.Items, 1)
	require.Equal(t, "2024-06-01", page.Items[0].ActivityDate.String())
	require.Empty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/v1/activities?from=2024-06-02&to=2024-06-02", nil, auth.ScopeActivitiesRead)
	page = decode[ListActivitiesResponse](t, rec)
	require.Len(t, page.Items, 1)
	require.Equal(t, "2024-06-02", page.Items[0].ActivityDate.String())

	for _, target := range []string{
		"/v1/activities?from=2024-06-03&to=2024-06-01",
		"/v1/activities?from=2024-06-01",
		"/v1/activities?limit=-1",
		"/v1/activities?cursor=%21%21",
	} {
		rec = env.do(t, http.MethodGet, target, nil, auth.ScopeActivitiesRead)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	for _, day := range []string{"2024-06-01", "2024-06-02", "2024-06-03", "2024-06-06"} {
		env.setDay(day)
		rec := env.do(t, http.MethodPost, "/v1/activities", validRequest(), auth.ScopeActivitiesWrite)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/streaks/stats", nil, auth.ScopeStreaksRead)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	require.Equal(t, 1, stats.CurrentStreak)
	require.Equal(t, 3, stats.LongestStreak)
	require.Equal(t, 4, stats.TotalActiveDays)
	require.Equal(t, 4, stats.TotalActivities)
	require.True(t, stats.LoggedToday)
	require.NotNil(t, stats.LastActivityDate)
	require.Equal(t, "2024-06-06", stats.LastActivityDate.String())
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	router := mux.NewRouter()
	NewHandler(domain.NewService(memory.NewStore()), downStore{}, nil).RegisterRoutes(router)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnsupportedMethod(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, "/v1/activities", nil, auth.ScopeActivitiesWrite)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "method_not_allowed", decode[map[string]string](t, rec)["type"])
}
