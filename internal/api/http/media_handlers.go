package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/storage"
)

// recordMedia logs a media event. The blob change already happened, so a
// failure here is reported but not returned to the client.
func recordMedia(r *http.Request, events *audit.Log, typ, key string, data any) {
	if events == nil {
		return
	}
	if err := events.Record(r.Context(), typ, key, auth.SubjectFromContext(r.Context()), data); err != nil {
		zap.L().Warn("media audit event not recorded", zap.String("type", typ), zap.String("key", key), zap.Error(err))
	}
}

// UploadMediaHandler stores multipart file= as an image.
func UploadMediaHandler(m *storage.Media, events *audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, storage.MaxMediaSize+1<<20)
		f, _, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "file exceeds 10 MiB"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "file required"})
			return
		}
		defer f.Close()

		up, err := m.Save(r.Context(), f)
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "file exceeds 10 MiB"})
		case errors.Is(err, storage.ErrUnsupported):
			writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: err.Error()})
		case err != nil:
			writeError(w, r, err)
		default:
			recordMedia(r, events, audit.MediaUploaded, up.Key,
				map[string]any{"content_type": up.ContentType, "size": up.Size})
			writeJSON(w, http.StatusCreated, up)
		}
	}
}

// ServeMediaHandler streams the blob at whatever follows /media/.
func ServeMediaHandler(m *storage.Media) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ct, err := m.Open(r.Context(), chi.URLParam(r, "*"))
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		_, _ = io.Copy(w, rc)
	}
}

func DeleteMediaHandler(m *storage.Media, events *audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		err := m.Delete(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		recordMedia(r, events, audit.MediaDeleted, key, nil)
		w.WriteHeader(http.StatusNoContent)
	}
}
