package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/psyportal/internal/assessment"
	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/breaker"
	"github.com/mind-engage/psyportal/internal/cache"
	"github.com/mind-engage/psyportal/internal/content"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/ratelimit"
	"github.com/mind-engage/psyportal/internal/rbac"
	"github.com/mind-engage/psyportal/internal/storage"
	"github.com/mind-engage/psyportal/internal/users"
)

type env struct {
	t       *testing.T
	h       http.Handler
	db      *db.DB
	users   *users.SQLStore
	auth    *auth.AuthService
	admin   string
	psych   string
	patient string
}

func newEnv(t *testing.T, tweak func(*Deps)) *env {
	t.Helper()
	auth.BcryptCost = bcrypt.MinCost
	base := db.OpenTest(t)
	d := db.New(base.SQL, base.Driver, db.NewBreaker(breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}, zap.NewNop()))
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	mem := cache.NewMemory(128, time.Minute)
	deps := Deps{
		DB:                 d,
		Auth:               auth.NewAuthService("test-secret", time.Hour),
		Users:              users.NewSQLStore(d),
		Tests:              assessment.NewCachedStore(assessment.NewSQLStore(d, nil), mem, time.Minute),
		Content:            content.NewSQLStore(d, mem, time.Minute),
		Media:              storage.NewMedia(blobs),
		Events:             audit.NewLog(d),
		CORSOrigins:        []string{"*"},
		EnableRegistration: true,
	}
	if tweak != nil {
		tweak(&deps)
	}
	e := &env{t: t, h: NewRouter(deps), db: d, users: deps.Users, auth: deps.Auth}
	e.admin = e.account("admin1", rbac.RoleAdmin)
	e.psych = e.account("psych1", rbac.RolePsychologist)
	e.patient = e.account("pat1", rbac.RoleUser)
	return e
}

// account creates a user and returns a bearer token for it.
func (e *env) account(name, role string) string {
	e.t.Helper()
	u, err := e.users.Create(context.Background(), users.NewUser{
		Username: name, Email: name + "@example.org", Password: "password123", Role: role,
	}, "")
	require.NoError(e.t, err)
	tok, err := e.auth.IssueJWT(u.ID, u.Role)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(e.t, err)
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do("GET", "/healthz", "", nil).Code)
	rec := e.do("GET", "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","db":"closed"}`, rec.Body.String())
}

func TestDatabaseOutage(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.db.SQL.Close())

	rec := e.do("GET", "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","db":"closed"}`, rec.Body.String())

	rec = e.do("GET", "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","db":"open"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sql:")

	rec = e.do("GET", "/faqs", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), decodeBody[errorBody](t, rec).Error)
}

func TestRegisterPasswordLimits(t *testing.T) {
	e := newEnv(t, nil)
	reg := func(name, pw string) *httptest.ResponseRecorder {
		return e.do("POST", "/auth/register", "", map[string]string{
			"username": name, "email": name + "@example.org", "password": pw,
		})
	}

	rec := reg("longpw", strings.Repeat("x", 80))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decodeBody[errorBody](t, rec).Fields, "password")

	// 40 characters but 80 bytes
	rec = reg("umlauts", strings.Repeat("ü", 40))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusCreated, reg("maxpw", strings.Repeat("x", 72)).Code)
}

func TestRegisterLoginMe(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do("POST", "/auth/register", "", map[string]string{
		"username": "newbie", "email": "newbie@example.org", "password": "longenough", "full_name": "New Bie",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decodeBody[tokenResp](t, rec)
	assert.Equal(t, rbac.RoleUser, reg.User.Role)
	assert.Equal(t, "Bearer", reg.TokenType)

	rec = e.do("POST", "/auth/register", "", map[string]string{
		"username": "newbie", "email": "other@example.org", "password": "longenough",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do("POST", "/auth/register", "", map[string]string{"username": "x", "email": "bad", "password": "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "min=3", body.Fields["username"])
	assert.Equal(t, "email", body.Fields["email"])
	assert.Equal(t, "min=8", body.Fields["password"])

	rec = e.do("POST", "/auth/login", "", map[string]string{"username": "NEWBIE@example.org", "password": "longenough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decodeBody[tokenResp](t, rec)
	assert.Equal(t, int64(3600), login.ExpiresIn)

	bad := e.do("POST", "/auth/login", "", map[string]string{"username": "newbie", "password": "wrongpass"})
	unknown := e.do("POST", "/auth/login", "", map[string]string{"username": "ghost", "password": "wrongpass"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, bad.Body.String(), unknown.Body.String())

	rec = e.do("GET", "/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "newbie", decodeBody[users.User](t, rec).Username)

	assert.Equal(t, http.StatusUnauthorized, e.do("GET", "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do("GET", "/auth/me", "garbage", nil).Code)
}

func TestRegistrationDisabled(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.EnableRegistration = false })
	rec := e.do("POST", "/auth/register", "", map[string]string{
		"username": "newbie", "email": "newbie@example.org", "password": "longenough",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRateLimit(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.AuthLimiter = ratelimit.PerMinute("auth", 1, 2) })
	creds := map[string]string{"username": "pat1", "password": "password123"}
	assert.Equal(t, http.StatusOK, e.do("POST", "/auth/login", "", creds).Code)
	assert.Equal(t, http.StatusOK, e.do("POST", "/auth/login", "", creds).Code)
	rec := e.do("POST", "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other routes are not charged to the auth bucket
	assert.Equal(t, http.StatusOK, e.do("GET", "/faqs", "", nil).Code)
}

func TestRoleChangesApplyToIssuedTokens(t *testing.T) {
	e := newEnv(t, nil)
	me := decodeBody[users.User](t, e.do("GET", "/auth/me", e.psych, nil))

	assert.Equal(t, http.StatusOK, e.do("GET", "/users", e.psych, nil).Code)
	rec := e.do("PATCH", "/users/"+me.ID+"/role", e.admin, map[string]string{"role": "user"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusForbidden, e.do("GET", "/users", e.psych, nil).Code)

	assert.Equal(t, http.StatusForbidden, e.do("DELETE", "/users/"+me.ID, e.psych, nil).Code)
	require.Equal(t, http.StatusNoContent, e.do("DELETE", "/users/"+me.ID, e.admin, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do("GET", "/auth/me", e.psych, nil).Code)

	adminID := decodeBody[users.User](t, e.do("GET", "/auth/me", e.admin, nil)).ID
	assert.Equal(t, http.StatusBadRequest, e.do("DELETE", "/users/"+adminID, e.admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do("PATCH", "/users/"+adminID+"/role", e.admin, map[string]string{"role": "user"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do("PATCH", "/users/"+adminID+"/role", e.admin, map[string]string{"role": "root"}).Code)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do("POST", "/users/change-password", e.patient, map[string]string{"old_password": "nope-nope", "new_password": "brandnew123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do("POST", "/users/change-password", e.patient, map[string]string{"old_password": "password123", "new_password": "brandnew123"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do("POST", "/auth/login", "", map[string]string{"username": "pat1", "password": "brandnew123"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBulkUpsertCSV(t *testing.T) {
	e := newEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "users.csv")
	require.NoError(t, err)
	_, _ = io.WriteString(fw, "username,email,full_name,role,password\n"+
		"bulk1,bulk1@example.org,Bulk One,user,password123\n"+
		"pat1,pat1@example.org,Patient,user,\n")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/users/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.admin)
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"inserted":1,"updated":1}`, rec.Body.String())

	rec = e.do("POST", "/users/bulk", e.admin, `[{"username":"bulk2","email":"bulk2@example.org"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusForbidden, e.do("POST", "/users/bulk", e.psych, `[]`).Code)
}

const moodTest = `{
  "title": "Mood Screen",
  "published": true,
  "total_normal_cutoff": 2,
  "total_borderline_cutoff": 4,
  "subskalas": [{"name": "Mood", "direction": "higher", "normal_cutoff": 1, "borderline_cutoff": 2, "include_in_total": true}],
  "questions": [
    {"text": "Low mood", "type": "likert", "subskala_name": "Mood",
     "options": [{"label": "no", "value": 0}, {"label": "some", "value": 1}, {"label": "a lot", "value": 2}]},
    {"text": "Low energy", "type": "likert", "subskala_name": "Mood",
     "options": [{"label": "no", "value": 0}, {"label": "some", "value": 1}, {"label": "a lot", "value": 2}]},
    {"text": "Anything else?", "type": "text"}
  ]
}`

func TestTotalIncludesSubskalasByDefault(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do("POST", "/tests", e.psych, `{
  "title": "Single Scale",
  "published": true,
  "total_normal_cutoff": 2,
  "total_borderline_cutoff": 4,
  "subskalas": [{"name": "Mood", "normal_cutoff": 1, "borderline_cutoff": 2}],
  "questions": [{"text": "Low mood", "type": "likert", "subskala_name": "Mood",
    "options": [{"label": "no", "value": 0}, {"label": "yes", "value": 3}]}]
}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tt := decodeBody[assessment.Test](t, rec)
	require.Len(t, tt.Subskalas, 1)
	require.NotNil(t, tt.Subskalas[0].IncludeInTotal)
	assert.True(t, *tt.Subskalas[0].IncludeInTotal)

	rec = e.do("POST", "/tests/"+tt.ID+"/results", e.patient,
		map[string]any{"answers": map[string]any{tt.Questions[0].ID: 3}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[assessment.Result](t, rec)
	assert.Equal(t, 3.0, res.Total)
	assert.Equal(t, "Borderline", string(res.TotalLabel))
}

func TestTestAndResultFlow(t *testing.T) {
	e := newEnv(t, nil)

	assert.Equal(t, http.StatusForbidden, e.do("POST", "/tests", e.patient, moodTest).Code)
	rec := e.do("POST", "/tests", e.psych, moodTest)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tt := decodeBody[assessment.Test](t, rec)
	require.Len(t, tt.Questions, 3)
	assert.Equal(t, "mood-screen", tt.Slug)

	rec = e.do("GET", "/tests/mood-screen", e.patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "normal_cutoff")
	assert.Contains(t, e.do("GET", "/tests/mood-screen", e.psych, nil).Body.String(), "normal_cutoff")

	list := decodeBody[[]assessment.TestSummary](t, e.do("GET", "/tests", e.patient, nil))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].QuestionCount)

	q1, q2, q3 := tt.Questions[0].ID, tt.Questions[1].ID, tt.Questions[2].ID
	rec = e.do("POST", "/tests/"+tt.ID+"/results", e.patient, map[string]any{"answers": map[string]any{q1: 2}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{q2}, decodeBody[errorBody](t, rec).Missing)

	rec = e.do("POST", "/tests/"+tt.ID+"/results", e.patient, map[string]any{"answers": map[string]any{q1: 7, q2: 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do("POST", "/tests/"+tt.ID+"/results", e.patient, map[string]any{"answers": map[string]any{q1: 2, q2: 1, q3: "fine"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[assessment.Result](t, rec)
	require.Len(t, res.Scores, 1)
	assert.Equal(t, 3.0, res.Scores[0].Score)
	assert.Equal(t, "Abnormal", string(res.Scores[0].Label))
	assert.Equal(t, "Borderline", string(res.TotalLabel))

	// results are private to their owner
	other := e.account("pat2", rbac.RoleUser)
	assert.Equal(t, http.StatusNotFound, e.do("GET", "/results/"+res.ID, other, nil).Code)
	assert.Equal(t, http.StatusOK, e.do("GET", "/results/"+res.ID, e.patient, nil).Code)
	assert.Equal(t, http.StatusOK, e.do("GET", "/results/"+res.ID, e.psych, nil).Code)
	assert.Empty(t, decodeBody[[]assessment.Result](t, e.do("GET", "/results", other, nil)))
	mine := decodeBody[[]assessment.Result](t, e.do("GET", "/results?user_id="+res.UserID, other, nil))
	assert.Empty(t, mine)
	assert.Len(t, decodeBody[[]assessment.Result](t, e.do("GET", "/results?test_id=mood-screen", e.psych, nil)), 1)

	// structure is locked, metadata is not
	var edit map[string]any
	require.NoError(t, json.Unmarshal(e.do("GET", "/tests/"+tt.ID, e.psych, nil).Body.Bytes(), &edit))
	edit["description"] = "updated"
	assert.Equal(t, http.StatusOK, e.do("PUT", "/tests/"+tt.ID, e.psych, edit).Code)
	rec = e.do("DELETE", "/tests/"+tt.ID+"/questions/"+q3, e.psych, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do("GET", "/tests/"+tt.ID+"/results/export", e.psych, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "result_id,user_id,username,created_at,Mood_score,Mood_label,total,total_label"))
	assert.Equal(t, http.StatusForbidden, e.do("GET", "/tests/"+tt.ID+"/results/export", e.patient, nil).Code)

	assert.Equal(t, http.StatusForbidden, e.do("DELETE", "/results/"+res.ID, e.psych, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do("DELETE", "/results/"+res.ID, e.admin, nil).Code)

	// unpublished tests disappear for test takers
	rec = e.do("PATCH", "/tests/"+tt.ID+"/publish", e.psych, map[string]bool{"published": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, e.do("GET", "/tests/"+tt.ID, e.patient, nil).Code)
	assert.Empty(t, decodeBody[[]assessment.TestSummary](t, e.do("GET", "/tests", e.patient, nil)))
	assert.Equal(t, http.StatusBadRequest, e.do("PATCH", "/tests/"+tt.ID+"/publish", e.psych, `{}`).Code)

	events := decodeBody[[]audit.Event](t, e.do("GET", "/admin/events?type=test.submitted", e.admin, nil))
	assert.Len(t, events, 1)
	assert.Equal(t, http.StatusForbidden, e.do("GET", "/admin/events", e.psych, nil).Code)
}

func TestNestedTestEdits(t *testing.T) {
	e := newEnv(t, nil)
	tt := decodeBody[assessment.Test](t, e.do("POST", "/tests", e.psych, moodTest))

	rec := e.do("POST", "/tests/"+tt.ID+"/subskalas", e.psych, map[string]any{
		"name": "Sleep", "direction": "lower", "normal_cutoff": 2, "borderline_cutoff": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sk := decodeBody[assessment.Subskala](t, rec)

	rec = e.do("POST", "/tests/"+tt.ID+"/questions", e.psych, map[string]any{
		"text": "Slept well", "type": "reverse", "subskala_id": sk.ID,
		"options": []map[string]any{{"label": "no", "value": 0}, {"label": "yes", "value": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	q := decodeBody[assessment.Question](t, rec)

	assert.Equal(t, http.StatusConflict, e.do("DELETE", "/tests/"+tt.ID+"/subskalas/"+sk.ID, e.psych, nil).Code)

	q.Text = "Slept badly"
	q.Type = "likert"
	rec = e.do("PUT", "/tests/"+tt.ID+"/questions/"+q.ID, e.psych, q)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Slept badly", decodeBody[assessment.Question](t, rec).Text)

	sk.Name = "Sleep quality"
	rec = e.do("PUT", "/tests/"+tt.ID+"/subskalas/"+sk.ID, e.psych, sk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, e.do("DELETE", "/tests/"+tt.ID+"/questions/"+q.ID, e.psych, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do("DELETE", "/tests/"+tt.ID+"/subskalas/"+sk.ID, e.psych, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do("DELETE", "/tests/"+tt.ID, e.psych, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do("GET", "/tests/"+tt.ID, e.psych, nil).Code)
}

func TestContentRoutes(t *testing.T) {
	e := newEnv(t, nil)

	assert.Equal(t, http.StatusUnauthorized, e.do("POST", "/blogs", "", map[string]any{"title": "x", "content": "y"}).Code)
	rec := e.do("POST", "/blogs", e.psych, map[string]any{"title": "Draft post", "content": "body"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decodeBody[content.Blog](t, rec)

	assert.Empty(t, decodeBody[[]content.Blog](t, e.do("GET", "/blogs", "", nil)))
	assert.Empty(t, decodeBody[[]content.Blog](t, e.do("GET", "/blogs?all=1", e.patient, nil)))
	assert.Len(t, decodeBody[[]content.Blog](t, e.do("GET", "/blogs?all=1", e.psych, nil)), 1)
	assert.Equal(t, http.StatusNotFound, e.do("GET", "/blogs/draft-post", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do("GET", "/blogs/draft-post", e.psych, nil).Code)

	draft.Published = true
	require.Equal(t, http.StatusOK, e.do("PUT", "/blogs/"+draft.ID, e.psych, draft).Code)
	assert.Equal(t, http.StatusOK, e.do("GET", "/blogs/draft-post", "", nil).Code)

	faq := map[string]any{"question": "Is it private?", "answer": "Yes"}
	assert.Equal(t, http.StatusForbidden, e.do("POST", "/faqs", e.psych, faq).Code)
	rec = e.do("POST", "/faqs", e.admin, faq)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decodeBody[[]content.FAQ](t, e.do("GET", "/faqs", "", nil)), 1)

	rec = e.do("POST", "/services", e.admin, map[string]any{"name": "Intake", "price_cents": 5000, "active": false})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, decodeBody[[]content.Service](t, e.do("GET", "/services", "", nil)))
	assert.Len(t, decodeBody[[]content.Service](t, e.do("GET", "/services?all=1", e.admin, nil)), 1)

	rec = e.do("POST", "/galleries", e.admin, map[string]any{"title": "Room", "image_key": "../../etc/passwd"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaUploadAndServe(t *testing.T) {
	e := newEnv(t, nil)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

	upload := func(token string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "photo.exe")
		require.NoError(t, err)
		_, _ = fw.Write(data)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest("POST", "/media", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, upload(e.patient, png).Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, upload(e.psych, []byte("plain text")).Code)

	rec := upload(e.psych, png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	up := decodeBody[storage.Upload](t, rec)
	assert.True(t, strings.HasSuffix(up.Key, ".png"))

	rec = e.do("GET", up.URL, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, e.do("GET", "/media/media/..%2F..%2Fsecret", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do("GET", "/media/media/2026/01/none.png", "", nil).Code)

	assert.Equal(t, http.StatusForbidden, e.do("DELETE", up.URL, e.psych, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do("DELETE", up.URL, e.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do("GET", up.URL, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do("DELETE", up.URL, e.admin, nil).Code)

	rec = e.do("GET", "/admin/events?type=media.uploaded", e.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]audit.Event](t, rec), 1)
	rec = e.do("GET", "/admin/events?type=media.deleted", e.admin, nil)
	assert.Len(t, decodeBody[[]audit.Event](t, rec), 1)
}
