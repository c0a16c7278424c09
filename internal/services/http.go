package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"

	"poolguard/internal/pipeline"
)

// MountPoint describes a mounted HTTP endpoint
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

// Server exposes the services over HTTP on a goa muxer
type Server struct {
	Mounts []*MountPoint

	health   *HealthImplementation
	analysis *AnalysisImplementation
	system   *SystemImplementation
	alerts   *AlertsImplementation
	auth     *AuthImplementation
	errorh   func(context.Context, http.ResponseWriter, error)
}

// NewServer creates the HTTP server for the services. system, alerts and
// auth may be nil, in which case their endpoints are not mounted.
func NewServer(
	health *HealthImplementation,
	analysis *AnalysisImplementation,
	system *SystemImplementation,
	alerts *AlertsImplementation,
	authSvc *AuthImplementation,
	logger *log.Logger,
) *Server {
	return &Server{
		health:   health,
		analysis: analysis,
		system:   system,
		alerts:   alerts,
		auth:     authSvc,
		errorh:   ErrorHandler(logger),
	}
}

// Mount configures the mux to serve the service endpoints
func (s *Server) Mount(mux goahttp.Muxer) {
	s.handle(mux, "Healthz", "GET", "/healthz", s.healthz)
	s.handle(mux, "Readyz", "GET", "/readyz", s.readyz)
	s.handle(mux, "Analysis", "GET", "/analysis", s.analysisHandler)
	if s.system != nil {
		s.handle(mux, "Status", "GET", "/status", s.status)
	}
	if s.alerts != nil {
		s.handle(mux, "Alerts", "GET", "/alerts", s.listAlerts)
		s.handle(mux, "Alert", "GET", "/alerts/{id}", s.getAlert(mux))
	}
	if s.auth != nil {
		s.handle(mux, "Login", "POST", "/auth/login", s.login)
		s.handle(mux, "AuthStatus", "GET", "/auth/status", s.authStatus)
	}
}

// MountHandler mounts an additional handler, recording it in Mounts
func (s *Server) MountHandler(mux goahttp.Muxer, method, verb, pattern string, h http.Handler) {
	s.handle(mux, method, verb, pattern, h.ServeHTTP)
}

func (s *Server) handle(mux goahttp.Muxer, method, verb, pattern string, h http.HandlerFunc) {
	mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, &MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.errorh(ctx, w, err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Healthz(r.Context()); err != nil {
		s.encode(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readyz(r.Context()); err != nil {
		s.encode(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) analysisHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	result, ok := s.analysis.Latest(r.Context())
	if !ok {
		s.encode(r.Context(), w, http.StatusOK, struct{}{})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, result)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, s.system.Status(r.Context()))
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q, err := parseAlertsQuery(r)
	if err != nil {
		s.encode(r.Context(), w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	alerts, err := s.alerts.List(r.Context(), q)
	if err != nil {
		s.historyUnavailable(w, r, err)
		return
	}
	if total, err := s.alerts.Count(r.Context()); err == nil {
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
	}
	s.encode(r.Context(), w, http.StatusOK, alerts)
}

func (s *Server) getAlert(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alert, err := s.alerts.Get(r.Context(), mux.Vars(r)["id"])
		switch {
		case errors.Is(err, ErrAlertNotFound):
			s.encode(r.Context(), w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			s.historyUnavailable(w, r, err)
		default:
			s.encode(r.Context(), w, http.StatusOK, alert)
		}
	}
}

func (s *Server) historyUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	id := requestID(r.Context())
	log.Printf("[%s] ERROR: alert history: %v", id, err)
	s.encode(r.Context(), w, http.StatusInternalServerError, map[string]string{"error": "alert history unavailable", "id": id})
}

func parseAlertsQuery(r *http.Request) (AlertsQuery, error) {
	var q AlertsQuery
	values := r.URL.Query()

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	if v := values.Get("level"); v != "" {
		level, err := pipeline.ParseWarningLevel(v)
		if err != nil {
			return q, err
		}
		q.MinLevel = level
	}
	if v := values.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = &t
	}
	return q, nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.encode(r.Context(), w, http.StatusBadRequest, map[string]string{"error": "invalid login payload"})
		return
	}

	result, err := s.auth.Login(r.Context(), &payload)
	if err != nil {
		var unauthorized *UnauthorizedError
		if errors.As(err, &unauthorized) {
			s.encode(r.Context(), w, http.StatusUnauthorized, unauthorized)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		s.errorh(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, result)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, s.auth.Status(r.Context()))
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(middleware.RequestIDKey).(string); ok {
		return id
	}
	return "-"
}

// ErrorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func ErrorHandler(logger *log.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id := requestID(ctx)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
}
