package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tokengate/tokengate/internal/http/handler"
	"github.com/tokengate/tokengate/internal/http/middleware"
	"github.com/tokengate/tokengate/internal/http/response"
	"github.com/tokengate/tokengate/internal/security"
)

type Dependencies struct {
	ClaimHandler      *handler.ClaimHandler
	SessionHandler    *handler.SessionHandler
	AdminHandler      *handler.AdminHandler
	JWTManager        *security.JWTManager
	APIRateLimitRPM   int
	ClaimRateLimitRPM int
	EnableOTelHTTP    bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())

	claimLimiter := middleware.NewRateLimiterWithKey(
		dep.ClaimRateLimitRPM,
		time.Minute,
		"claim",
		middleware.SubjectOrIPKeyFunc(dep.JWTManager),
	).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.JWTManager))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("claim"))
			r.With(claimLimiter).Post("/claims", dep.ClaimHandler.Claim)
			r.Get("/status", dep.ClaimHandler.Status)
			r.Get("/sessions", dep.SessionHandler.List)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireScope("admin"))
			r.Put("/sessions/{alias}", dep.SessionHandler.Open)
			r.Delete("/sessions/{alias}", dep.SessionHandler.Close)
			r.Get("/tokens", dep.AdminHandler.ListTokens)
			r.Post("/tokens", dep.AdminHandler.AddToken)
			r.Delete("/tokens", dep.AdminHandler.RemoveToken)
			r.Post("/tokens/give", dep.AdminHandler.GiveToken)
			r.Post("/tokens/revoke", dep.AdminHandler.RevokeToken)
			r.Post("/users/{user_id}/reset", dep.AdminHandler.ResetUser)
			r.Get("/sources", dep.AdminHandler.ListSources)
			r.Post("/sweep", dep.AdminHandler.Sweep)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
