package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket upgrade for viewers
	s.echo.GET("/ws", s.handleWebSocket)

	// Producer-facing API
	s.echo.POST("/api/events", s.handleBroadcastEvent)
	s.echo.GET("/api/stats", s.handleStats)
}
