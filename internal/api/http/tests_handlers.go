package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/assessment"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
)

const permTestManage = "test:manage"

// ListTestsHandler shows drafts to test managers only.
func ListTestsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		limit, offset := page(r)
		out, err := store.ListTests(r.Context(), assessment.ListOpts{
			Q:                  strings.TrimSpace(r.URL.Query().Get("q")),
			IncludeUnpublished: id.Can(permTestManage),
			Limit:              limit,
			Offset:             offset,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetTestHandler returns the full test to managers and the public view,
// without cutoffs, to everyone else.
func GetTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.GetTest(r.Context(), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if auth.IdentityFromContext(r.Context()).Can(permTestManage) {
			writeJSON(w, http.StatusOK, t)
			return
		}
		if !t.Published {
			writeError(w, r, apperr.NotFoundf("test"))
			return
		}
		writeJSON(w, http.StatusOK, t.Public())
	}
}

func CreateTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Test
		if !decode(w, r, &in) {
			return
		}
		t, err := store.CreateTest(r.Context(), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func UpdateTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Test
		if !decode(w, r, &in) {
			return
		}
		t, err := store.UpdateTest(r.Context(), chi.URLParam(r, "testID"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

type publishReq struct {
	Published *bool `json:"published" validate:"required"`
}

func PublishTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishReq
		if !decode(w, r, &req) {
			return
		}
		t, err := store.SetPublished(r.Context(), chi.URLParam(r, "testID"), *req.Published, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func DeleteTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteTest(r.Context(), chi.URLParam(r, "testID"), auth.SubjectFromContext(r.Context())); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AddSubskalaHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Subskala
		if !decode(w, r, &in) {
			return
		}
		sk, err := store.AddSubskala(r.Context(), chi.URLParam(r, "testID"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sk)
	}
}

func UpdateSubskalaHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Subskala
		if !decode(w, r, &in) {
			return
		}
		in.ID = chi.URLParam(r, "subskalaID")
		sk, err := store.UpdateSubskala(r.Context(), chi.URLParam(r, "testID"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sk)
	}
}

func DeleteSubskalaHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DeleteSubskala(r.Context(), chi.URLParam(r, "testID"), chi.URLParam(r, "subskalaID"),
			auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AddQuestionHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Question
		if !decode(w, r, &in) {
			return
		}
		q, err := store.AddQuestion(r.Context(), chi.URLParam(r, "testID"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func UpdateQuestionHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.Question
		if !decode(w, r, &in) {
			return
		}
		in.ID = chi.URLParam(r, "questionID")
		q, err := store.UpdateQuestion(r.Context(), chi.URLParam(r, "testID"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func DeleteQuestionHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DeleteQuestion(r.Context(), chi.URLParam(r, "testID"), chi.URLParam(r, "questionID"),
			auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
