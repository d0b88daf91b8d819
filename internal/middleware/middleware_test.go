package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	handler := limiter.Middleware(okHandler())

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/streaks", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, call("10.0.0.1"))
	require.Equal(t, http.StatusOK, call("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	require.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestRateLimiterHonoursForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	limiter.mu.Lock()
	_, tracked := limiter.visitors["192.0.2.7"]
	limiter.mu.Unlock()
	require.True(t, tracked)
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	limiter.limiter("a")
	now = now.Add(2 * time.Minute)
	limiter.limiter("b")
	now = now.Add(2 * time.Minute)
	limiter.evictIdle()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.NotContains(t, limiter.visitors, "a")
	require.Contains(t, limiter.visitors, "b")
}

func TestMonitorUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Monitor)
	router.Handle("/v1/activities/days/{date}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	counter := httpRequestsTotal.WithLabelValues("/v1/activities/days/{date}", http.MethodGet, "403")
	rejections := authRejections.WithLabelValues("403")
	before := testutil.ToFloat64(counter)
	rejectedBefore := testutil.ToFloat64(rejections)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activities/days/2024-06-01", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
	require.InDelta(t, rejectedBefore+1, testutil.ToFloat64(rejections), 0.001)
}

func TestRequestLoggerAssignsID(t *testing.T) {
	var seen string
	handler := RequestLogger(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "fixed-id", seen)
}
