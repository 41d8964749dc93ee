// Package http exposes the portal's REST API.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/assessment"
	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/content"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/logging"
	"github.com/mind-engage/psyportal/internal/metrics"
	"github.com/mind-engage/psyportal/internal/ratelimit"
	"github.com/mind-engage/psyportal/internal/rbac"
	"github.com/mind-engage/psyportal/internal/storage"
	"github.com/mind-engage/psyportal/internal/users"
)

// Deps is everything the router serves from.
type Deps struct {
	DB      *db.DB
	Auth    *auth.AuthService
	Users   *users.SQLStore
	Tests   assessment.Store
	Content *content.SQLStore
	Media   *storage.Media
	Events  *audit.Log
	Log     *zap.Logger

	// Limiter applies to every API route, AuthLimiter to login and
	// registration. Nil disables the limit.
	Limiter     *ratelimit.Limiter
	AuthLimiter *ratelimit.Limiter

	CORSOrigins        []string
	EnableRegistration bool
	EnableMetrics      bool
	RequestTimeout     time.Duration
}

func limit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.RequestLogger(d.Log), middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", HealthzHandler)
	r.Get("/readyz", ReadyzHandler(d.DB))
	if d.EnableMetrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Group(func(api chi.Router) {
		// identity first so authenticated callers are limited per user
		api.Use(auth.OptionalJWT(d.Auth), auth.AttachRoleFromDB(d.Users))
		api.Use(limit(d.Limiter))

		api.Group(func(ar chi.Router) {
			ar.Use(limit(d.AuthLimiter))
			if d.EnableRegistration {
				ar.Post("/auth/register", RegisterHandler(d.Users, d.Auth))
			} else {
				ar.Post("/auth/register", func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusNotFound, errorBody{Error: "registration is disabled"})
				})
			}
			ar.Post("/auth/login", LoginHandler(d.Users, d.Auth))
		})

		protect := func(perm string) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler {
				return auth.JWTMiddleware(d.Auth)(rbac.Require(perm)(next))
			}
		}

		mountContent(api, d.Content, protect)
		api.Get("/media/*", ServeMediaHandler(d.Media))

		// Protected API (JWT → role from DB → RBAC)
		api.Group(func(pr chi.Router) {
			pr.Use(auth.JWTMiddleware(d.Auth))

			pr.Get("/auth/me", MeHandler(d.Users))
			pr.With(rbac.Require("user:change_password")).
				Post("/users/change-password", ChangePasswordHandler(d.Users))

			pr.With(rbac.Require("users:list")).Get("/users", ListUsersHandler(d.Users))
			pr.With(rbac.Require("users:list")).Get("/users/{userID}", GetUserHandler(d.Users))
			pr.With(rbac.Require("users:manage")).Patch("/users/{userID}/role", UpdateUserRoleHandler(d.Users))
			pr.With(rbac.Require("users:manage")).Delete("/users/{userID}", DeleteUserHandler(d.Users))
			pr.With(rbac.Require("users:bulk_upsert")).Post("/users/bulk", BulkUpsertUsersHandler(d.Users))

			pr.With(rbac.Require("test:view")).Get("/tests", ListTestsHandler(d.Tests))
			pr.With(rbac.Require("test:view")).Get("/tests/{testID}", GetTestHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Post("/tests", CreateTestHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Put("/tests/{testID}", UpdateTestHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Patch("/tests/{testID}/publish", PublishTestHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Delete("/tests/{testID}", DeleteTestHandler(d.Tests))

			pr.With(rbac.Require(permTestManage)).Post("/tests/{testID}/subskalas", AddSubskalaHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Put("/tests/{testID}/subskalas/{subskalaID}", UpdateSubskalaHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Delete("/tests/{testID}/subskalas/{subskalaID}", DeleteSubskalaHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Post("/tests/{testID}/questions", AddQuestionHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Put("/tests/{testID}/questions/{questionID}", UpdateQuestionHandler(d.Tests))
			pr.With(rbac.Require(permTestManage)).Delete("/tests/{testID}/questions/{questionID}", DeleteQuestionHandler(d.Tests))

			pr.With(rbac.Require("result:create")).Post("/tests/{testID}/results", SubmitResultHandler(d.Tests))
			pr.With(rbac.RequireAll(permResultViewAll, "result:export")).Get("/tests/{testID}/results/export", ExportResultsHandler(d.Tests))
			pr.With(rbac.RequireAny("result:view-own", permResultViewAll)).Get("/results", ListResultsHandler(d.Tests))
			pr.With(rbac.RequireAny("result:view-own", permResultViewAll)).Get("/results/{resultID}", GetResultHandler(d.Tests))
			pr.With(rbac.Require("result:delete")).Delete("/results/{resultID}", DeleteResultHandler(d.Tests))

			pr.With(rbac.Require("media:upload")).Post("/media", UploadMediaHandler(d.Media, d.Events))
			pr.With(rbac.Require("media:delete")).Delete("/media/*", DeleteMediaHandler(d.Media, d.Events))
			pr.With(rbac.Require("audit:view")).Get("/admin/events", ListEventsHandler(d.Events))
		})
	})

	return r
}
