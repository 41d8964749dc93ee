package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/assessment"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/scoring"
)

const permResultViewAll = "result:view-all"

type submitReq struct {
	Answers map[string]scoring.Answer `json:"answers" validate:"required"`
}

func SubmitResultHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitReq
		if !decode(w, r, &req) {
			return
		}
		res, err := store.SubmitResult(r.Context(), chi.URLParam(r, "testID"), auth.SubjectFromContext(r.Context()), req.Answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// ListResultsHandler pins the user filter to the caller unless they may see
// every result.
func ListResultsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		limit, offset := page(r)
		opts := assessment.ResultListOpts{
			TestID: strings.TrimSpace(r.URL.Query().Get("test_id")),
			UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
			Limit:  limit,
			Offset: offset,
		}
		if !id.Can(permResultViewAll) {
			opts.UserID = id.UserID
		}
		out, err := store.ListResults(r.Context(), opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetResultHandler answers 404 for results the caller may not see.
func GetResultHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		res, err := store.GetResult(r.Context(), chi.URLParam(r, "resultID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.UserID != id.UserID && !id.Can(permResultViewAll) {
			writeError(w, r, apperr.NotFoundf("result"))
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func DeleteResultHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteResult(r.Context(), chi.URLParam(r, "resultID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExportResultsHandler renders the CSV into memory first so a failure still
// gets a proper error status.
func ExportResultsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		var buf bytes.Buffer
		if err := store.ExportResults(r.Context(), testID, &buf); err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "results-"+testID+".csv"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}
