package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no tenant identity required)
	s.echo.GET("/healthz", s.handleLiveness)
	s.echo.GET("/readyz", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// OAuth redirect pair
	s.echo.GET("/auth/login", s.handleLogin, s.requireTenant)
	s.echo.GET("/auth/callback", s.handleCallback, s.requireTenant)

	// Connection management and the internal token endpoint
	s.echo.GET("/api/connection", s.handleConnectionStatus, s.requireTenant)
	s.echo.DELETE("/api/connection", s.handleDisconnect, s.requireTenant)
	s.echo.POST("/api/github", s.handleSaveGitHub, s.requireTenant)
	s.echo.GET("/api/token", s.handleToken, s.requireTenant)
}
