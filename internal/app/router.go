package app

import (
	"database/sql"
	"net/http"
	"time"

	"cbtadmin/internal/app/apiresp"
	"cbtadmin/internal/app/observability"
	"cbtadmin/internal/auth"
	internaldb "cbtadmin/internal/db"
	"cbtadmin/internal/errreport"
	"cbtadmin/internal/mocktest"
	"cbtadmin/internal/question"
	"cbtadmin/internal/report"
	"cbtadmin/internal/students"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services bundles the domain services the router exposes. NewServices builds
// the production set; tests may fill only what they route to.
type Services struct {
	Auth      *auth.Service
	Questions *question.Service
	Students  *students.Service
	Reports   *errreport.Service
	MockTests *mocktest.Service
	Summary   *report.Service
}

func NewServices(cfg Config, db *sql.DB) Services {
	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL:        cfg.SessionTTL,
		BcryptCost:        cfg.BcryptCost,
		LoginMaxFailures:  cfg.LoginMaxFailures,
		LoginLockDuration: cfg.LoginLockDuration,
	})
	return Services{
		Auth:      authSvc,
		Questions: question.NewService(db),
		Students:  students.NewService(db, cfg.BcryptCost, authSvc),
		Reports:   errreport.NewService(db),
		MockTests: mocktest.NewService(db),
		Summary:   report.NewService(db),
	}
}

func NewRouter(cfg Config, db *sql.DB, svcs Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	metrics := observability.NewCollector(db)
	r.Use(metrics.Middleware)

	authHandler := auth.NewHandler(svcs.Auth, cfg.SecureCookie)
	questionHandler := question.NewHandler(svcs.Questions)
	studentHandler := students.NewHandler(svcs.Students)
	reportHandler := errreport.NewHandler(svcs.Reports)
	mockTestHandler := mocktest.NewHandler(svcs.MockTests)
	summaryHandler := report.NewHandler(svcs.Summary)

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "ok"})
			return
		}
		if err := internaldb.Ping(r.Context(), db); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "ok", "db": internaldb.Stats(db)})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login-password", authHandler.LoginPassword)
		api.Get("/auth/csrf", CSRFTokenHandler(cfg.SecureCookie))

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Use(CSRFMiddleware(cfg.CSRFEnforced))
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleEditor))

				staff.Get("/questions", questionHandler.Search)
				staff.Post("/questions", questionHandler.Create)
				staff.Get("/questions/facets", questionHandler.Facets)
				staff.Get("/questions/export", questionHandler.Export)
				staff.Get("/questions/{id}", questionHandler.Get)
				staff.Put("/questions/{id}", questionHandler.Update)
				staff.Delete("/questions/{id}", questionHandler.Delete)
				staff.Post("/questions/{id}/status", questionHandler.SetStatus)

				staff.Post("/imports", questionHandler.StageImport)
				staff.Get("/imports", questionHandler.ListImports)
				staff.Get("/imports/{id}", questionHandler.GetImport)

				staff.Get("/error-reports", reportHandler.List)
				staff.Post("/error-reports", reportHandler.Create)
				staff.Get("/error-reports/{id}", reportHandler.Get)
				staff.Post("/error-reports/{id}/status", reportHandler.Transition)

				staff.Get("/mock-tests", mockTestHandler.List)
				staff.Post("/mock-tests", mockTestHandler.Create)
				staff.Get("/mock-tests/{id}", mockTestHandler.Get)
				staff.Put("/mock-tests/{id}/questions", mockTestHandler.SetQuestions)
				staff.Post("/mock-tests/{id}/publish", mockTestHandler.Publish)
				staff.Post("/mock-tests/{id}/archive", mockTestHandler.Archive)

				staff.Get("/reports/summary", summaryHandler.Summary)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Post("/questions/tags/merge", questionHandler.MergeTags)
				admin.Post("/imports/{id}/approve", questionHandler.ApproveImport)
				admin.Post("/imports/{id}/reject", questionHandler.RejectImport)

				admin.Get("/students", studentHandler.List)
				admin.Post("/students", studentHandler.Create)
				admin.Get("/students/export", studentHandler.Export)
				admin.Post("/students/import", studentHandler.ImportCSV)
				admin.Get("/students/{id}", studentHandler.Get)
				admin.Post("/students/{id}/deactivate", studentHandler.Deactivate)
				admin.Post("/students/{id}/reactivate", studentHandler.Reactivate)
				admin.Post("/students/{id}/password", studentHandler.ResetPassword)

				admin.Get("/admin/metrics", metrics.MetricsHandler)
			})
		})
	})

	return r
}
