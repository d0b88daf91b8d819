// Package api exposes HTTP handlers for the streak service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"example.com/streaks/internal/auth"
	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/logger"
	"example.com/streaks/internal/persistence"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	store   Pinger
	log     *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, store Pinger, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{service: service, store: store, log: log}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/activities", h.createActivity).Methods(http.MethodPost)
	v1.HandleFunc("/activities", h.listActivities).Methods(http.MethodGet)
	v1.HandleFunc("/activities/today", h.loggedToday).Methods(http.MethodGet)
	v1.HandleFunc("/activities/days/{date}", h.activityOnDay).Methods(http.MethodGet)
	v1.HandleFunc("/streaks", h.pastStreaks).Methods(http.MethodGet)
	v1.HandleFunc("/streaks/current", h.currentStreak).Methods(http.MethodGet)
	v1.HandleFunc("/streaks/stats", h.stats).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
}

// healthz reports whether the store answers a ping.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesWrite) {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	input := req.toInput()
	if err := input.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.RecordActivity(r.Context(), input)
	if err != nil {
		h.serverError(w, "record activity", err)
		return
	}

	writeJSON(w, http.StatusCreated, NewCreateActivityResponse(*result))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite) {
		return
	}

	query, err := parseActivityQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), query)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.serverError(w, "list activities", err)
		return
	}

	writeJSON(w, http.StatusOK, NewListActivitiesResponse(activities, next))
}

func (h *Handler) loggedToday(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeStreaksRead) {
		return
	}
	logged, err := h.service.HasLoggedToday(r.Context())
	if err != nil {
		h.serverError(w, "has logged today", err)
		return
	}
	writeJSON(w, http.StatusOK, DayResponse{Date: h.service.Today(), Logged: logged})
}

func (h *Handler) activityOnDay(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeStreaksRead) {
		return
	}
	date, err := calendar.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}
	logged, err := h.service.HasActivityOn(r.Context(), date)
	if err != nil {
		h.serverError(w, "has activity on", err)
		return
	}
	writeJSON(w, http.StatusOK, DayResponse{Date: date, Logged: logged})
}

func (h *Handler) currentStreak(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeStreaksRead) {
		return
	}
	length, err := h.service.CurrentStreakLength(r.Context())
	if err != nil {
		h.serverError(w, "current streak", err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentStreakResponse{Length: length, AsOf: h.service.Today()})
}

func (h *Handler) pastStreaks(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeStreaksRead) {
		return
	}
	streaks, err := h.service.PastStreaks(r.Context())
	if err != nil {
		h.serverError(w, "past streaks", err)
		return
	}
	writeJSON(w, http.StatusOK, NewListStreaksResponse(streaks))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeStreaksRead) {
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.serverError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatsResponse(stats))
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// requireScope writes 401/403 unless the caller holds at least one of scopes.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return false
}

func parseActivityQuery(r *http.Request) (domain.ActivityQuery, error) {
	values := r.URL.Query()
	var query domain.ActivityQuery

	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return query, errors.New("limit must be a positive integer")
		}
		query.Limit = parsed
	}

	cursor, err := persistence.DecodeCursor(values.Get("cursor"))
	if err != nil {
		return query, errors.New("invalid cursor")
	}
	query.Cursor = cursor

	from, to := values.Get("from"), values.Get("to")
	if from == "" && to == "" {
		return query, nil
	}
	if from == "" || to == "" {
		return query, errors.New("from and to must be supplied together")
	}
	fromDate, err := calendar.ParseDate(from)
	if err != nil {
		return query, errors.New("from must be YYYY-MM-DD")
	}
	toDate, err := calendar.ParseDate(to)
	if err != nil {
		return query, errors.New("to must be YYYY-MM-DD")
	}
	query.Range = &domain.DateRange{From: fromDate, To: toDate}
	return query, nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
