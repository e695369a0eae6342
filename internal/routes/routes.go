package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/handlers"
	"github.com/quillsend/quillsend/internal/middleware"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
)

// Dependencies carries everything route registration needs.
type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	AdminHandler   *handlers.AdminHandler
	MessageHandler *handlers.MessageHandler

	TokenManager *auth.TokenManager
	Revocation   auth.TokenRevocationChecker
	UserFetcher  auth.UserFetcher

	RateLimiter middleware.RateLimitChecker
	IPConfig    *pkghttp.IPConfig

	HealthCheck http.HandlerFunc

	// Per-instance throttle on credential endpoints, requests/minute.
	AuthBurstLimit int
}

// RegisterRoutes registers all application routes.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	// Operational endpoints sit outside the limiter chain.
	router.Get("/health", deps.HealthCheck)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public routes: the in-process IP throttle sheds bursts before the
	// distributed window, which keys these rules on the client address.
	router.Group(func(r chi.Router) {
		r.Use(middleware.InProcessIPLimit(deps.AuthBurstLimit))
		r.Use(middleware.SlidingWindowLimit(deps.RateLimiter, deps.IPConfig))

		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
	})

	// Authenticated routes: the window limiter runs after authentication
	// so user-keyed rules see the caller's account, not just the address.
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.TokenManager, deps.Revocation))
		r.Use(middleware.SlidingWindowLimit(deps.RateLimiter, deps.IPConfig))

		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Post("/auth/logout-all", deps.AuthHandler.LogoutAll)

		r.Get("/users/me", deps.UserHandler.GetProfile)
		r.Put("/users/me", deps.UserHandler.UpdateProfile)
		r.Get("/users/me/quota", deps.UserHandler.GetQuota)
		r.Get("/users/me/security", deps.UserHandler.GetSecurity)
		r.Get("/users/{id}", deps.UserHandler.GetUser)

		r.Post("/messages", deps.MessageHandler.Send)

		// Admin-only routes.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.UserFetcher, "admin"))
			r.Get("/admin/users", deps.AdminHandler.ListUsers)
			r.Delete("/admin/users/{id}", deps.AdminHandler.DeleteUser)
			r.Post("/admin/users/{id}/lock", deps.AdminHandler.LockAccount)
			r.Post("/admin/users/{id}/unlock", deps.AdminHandler.UnlockAccount)
		})
	})
}
