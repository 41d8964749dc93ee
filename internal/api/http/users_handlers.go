package http

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/psyportal/internal/apperr"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/users"
)

const maxBulkUpload = 5 << 20

// BulkUpsertUsersHandler accepts a JSON array body, or a multipart file=
// holding CSV or JSON.
func BulkUpsertUsersHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []users.BulkRow
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, maxBulkUpload)
			f, _, err := r.FormFile("file")
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "file required"})
				return
			}
			defer f.Close()
			br := bufio.NewReader(f)
			// sniff CSV vs JSON by first non-space byte
			head, _ := br.Peek(64)
			head = bytes.TrimLeft(head, " \t\r\n\ufeff")
			if len(head) == 0 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty file"})
				return
			}
			if head[0] == '[' {
				if err := json.NewDecoder(br).Decode(&rows); err != nil {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
					return
				}
			} else {
				rows, err = parseCSV(br)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad csv: " + err.Error()})
					return
				}
			}
		} else {
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBulkUpload))
			if err := dec.Decode(&rows); err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected JSON array or multipart file"})
				return
			}
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}

		ins, upd, err := store.BulkUpsert(r.Context(), rows, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

func parseCSV(r io.Reader) ([]users.BulkRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, k := range []string{"username", "email"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	var rows []users.BulkRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, users.BulkRow{
			ID:       col(rec, "id"),
			Username: col(rec, "username"),
			Email:    col(rec, "email"),
			FullName: col(rec, "full_name"),
			Role:     strings.ToLower(col(rec, "role")),
			Password: col(rec, "password"),
		})
	}
	return rows, nil
}

func ListUsersHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := page(r)
		out, err := store.List(r.Context(), users.ListOpts{
			Role:   strings.TrimSpace(r.URL.Query().Get("role")),
			Q:      strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetUserHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := store.Get(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

type updateUserRoleReq struct {
	Role string `json:"role" validate:"required,oneof=admin psychologist user"`
}

// UpdateUserRoleHandler refuses to demote the last admin.
func UpdateUserRoleHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateUserRoleReq
		if !decode(w, r, &req) {
			return
		}
		err := store.SetRole(r.Context(), chi.URLParam(r, "userID"), req.Role, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteUserHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.Delete(r.Context(), chi.URLParam(r, "userID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

func ChangePasswordHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.SubjectFromContext(r.Context())
		if userID == "" {
			writeError(w, r, apperr.ErrUnauthorized)
			return
		}
		var req changePasswordReq
		if !decode(w, r, &req) {
			return
		}
		if err := store.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
