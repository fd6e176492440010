// Package routes registers all HTTP routes for the API.
// Routes are grouped by the rate limit class they belong to; each group
// runs behind the security pipeline configured for that class.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/bujinwang/agentOps-sub012/internal/infra/http"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/handler"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/pkg/jwt"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Lead     *handler.LeadHandler
	Security *handler.SecurityHandler // nil if no memory recorder is attached
}

// Register registers all application routes. Health and metrics stay
// outside the pipeline so probes and scrapes are never throttled or
// blocked by a misbehaving client sharing the ingress IP.
func Register(
	router Router,
	h Handlers,
	pipeline *middleware.Pipeline,
	tokens *jwt.Generator,
	log *logger.Logger,
) {
	requireAuth := middleware.RequireAuth(tokens, log)
	optionalAuth := middleware.OptionalAuth(tokens, log)

	registerHealthRoutes(router, h.Health)
	registerAuthRoutes(router, h.Auth, pipeline, requireAuth, optionalAuth)
	registerLeadRoutes(router, h.Lead, pipeline, requireAuth)

	if h.Security != nil {
		registerSecurityRoutes(router, h.Security, pipeline, requireAuth)
	}
}

// registerHealthRoutes registers health check and metrics endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// registerAuthRoutes registers authentication endpoints. The whole group
// runs under the auth rate class, which also arms the brute-force guard.
func registerAuthRoutes(router Router, h *handler.AuthHandler, pipeline *middleware.Pipeline, requireAuth, optionalAuth Middleware) {
	router.Group("/api/v1/auth", func(r Router) {
		r.POST("/register", h.Register)
		r.POST("/login", h.Login)
		r.POST("/refresh", h.Refresh)
		r.GET("/csrf", h.CsrfToken)

		r.POST("/logout", h.Logout, requireAuth)
		r.GET("/me", h.Me, requireAuth)
	}, optionalAuth, pipeline.Middleware(middleware.RouteClassAuth))
}

// registerLeadRoutes registers lead CRUD endpoints under the api rate
// class, with bulk import split out to the stricter upload class. Auth
// runs before the pipeline so authenticated clients get per-user rate
// budgets instead of sharing the ingress IP's.
func registerLeadRoutes(router Router, h *handler.LeadHandler, pipeline *middleware.Pipeline, requireAuth Middleware) {
	router.Group("/api/v1/leads", func(r Router) {
		r.GET("", h.List)
		r.POST("", h.Create)
		r.GET("/{id}", h.Get)
		r.PUT("/{id}", h.Update)
		r.DELETE("/{id}", h.Delete)
	}, requireAuth, pipeline.Middleware(middleware.RouteClassAPI))

	router.Group("/api/v1/uploads", func(r Router) {
		r.POST("/leads", h.Import)
	}, requireAuth, pipeline.Middleware(middleware.RouteClassUpload))
}

// registerSecurityRoutes registers the admin audit endpoints.
func registerSecurityRoutes(router Router, h *handler.SecurityHandler, pipeline *middleware.Pipeline, requireAuth Middleware) {
	router.Group("/api/v1/admin/security", func(r Router) {
		r.GET("/events", h.ListEvents)
		r.GET("/clients/{ip}", h.ClientStatus)
	}, requireAuth, middleware.RequireRole("admin"), pipeline.Middleware(middleware.RouteClassAdmin))
}
