// Package router registers the HTTP routes of the service.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-commerce/internal/handler"
	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// authenticated returns the /sessions group behind bearer authentication.
// Both sellers and viewers reach it; ownership is checked per operation.
func authenticated(e *echo.Echo, jwtSecret string) *echo.Group {
	return e.Group("/sessions",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleSeller, middleware.RoleViewer),
	)
}

// RegisterSessions registers session lifecycle, token and announcement
// routes.  limiter guards token issuance.
func RegisterSessions(e *echo.Echo, h *handler.SessionHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := authenticated(e, jwtSecret)
	g.POST("", h.Create, middleware.RequireRole(middleware.RoleSeller))
	g.GET("/:id", h.Get)
	g.POST("/:id/close", h.Close)
	g.POST("/:id/tokens", h.IssueToken, limiter)
	g.POST("/:id/announcements", h.Announce)
}

// RegisterProducts registers the session catalog routes.  Reads go through
// the response cache; the handlers invalidate it on every mutation.
func RegisterProducts(e *echo.Echo, h *handler.ProductHandler, jwtSecret string, cache *middleware.ResponseCache) {
	g := authenticated(e, jwtSecret)
	g.POST("/:id/products", h.Attach)
	g.GET("/:id/products", h.List, cache.Middleware())
	g.GET("/:id/pinned", h.Pinned, cache.Middleware())
	g.PATCH("/:id/products/:key", h.Edit)
	g.DELETE("/:id/products/:key", h.Detach)
	g.PATCH("/:id/products/:key/pin", h.Pin)
}
