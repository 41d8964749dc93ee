package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/breaker"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	Missing []string          `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a JSON body. Server side failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.Status(err)
	body := errorBody{Error: err.Error()}
	var inc *apperr.IncompleteError
	if errors.As(err, &inc) {
		body.Missing = inc.Missing
	}
	var open *breaker.OpenError
	if errors.As(err, &open) {
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(open.RetryAfter.Seconds())))))
	}
	if code >= 500 {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		body.Error = http.StatusText(code)
	}
	writeJSON(w, code, body)
}

// decode reads a JSON body into dst and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := map[string]string{}
			for _, fe := range verrs {
				rule := fe.Tag()
				if fe.Param() != "" {
					rule += "=" + fe.Param()
				}
				fields[fe.Field()] = rule
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
			return false
		}
		writeError(w, r, err)
		return false
	}
	return true
}

// page reads limit and offset query parameters. Bad values fall back to defaults.
func page(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
