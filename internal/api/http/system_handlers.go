package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/audit"
	"github.com/mind-engage/psyportal/internal/db"
)

func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyzHandler pings the database through the circuit breaker. The cause
// of a failure is logged, never returned.
func ReadyzHandler(d *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := d.Ping(r.Context())
		state := "closed"
		if br := d.Breaker(); br != nil {
			state = br.State().String()
		}
		if err != nil {
			zap.L().Warn("readiness check failed",
				zap.String("db_state", state),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "db": state})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "db": state})
	}
}

// ListEventsHandler pages the audit log newest first; pass the last seq
// seen as before= to continue.
func ListEventsHandler(log *audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := audit.ListOpts{Type: q.Get("type")}
		if v, err := strconv.Atoi(q.Get("limit")); err == nil {
			opts.Limit = v
		}
		if v, err := strconv.ParseInt(q.Get("before"), 10, 64); err == nil {
			opts.Before = v
		}
		out, err := log.List(r.Context(), opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
