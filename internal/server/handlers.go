package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/LiranCohen/dex-sub010/internal/errors"
	"github.com/LiranCohen/dex-sub010/internal/events"
	"github.com/LiranCohen/dex-sub010/internal/version"
)

// handleWebSocket upgrades the connection and hands it to the hub.
// Optional query parameters seed initial subscriptions so the first
// events cannot race the client's subscribe command:
//
//	/ws?all=1            subscribe to everything
//	/ws?task=<id>        subscribe to one task
//	/ws?project=<id>     subscribe to one project
func (s *Server) handleWebSocket(c echo.Context) error {
	var topics []string
	if c.QueryParam("all") == "1" {
		topics = append(topics, events.TopicAll)
	}
	if taskID := c.QueryParam("task"); taskID != "" {
		topics = append(topics, events.TaskTopic(taskID))
	}
	if projectID := c.QueryParam("project"); projectID != "" {
		topics = append(topics, events.ProjectTopic(projectID))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Warn("WebSocket upgrade failed", "remote_addr", c.Request().RemoteAddr, "error", err)
		return nil
	}

	client := s.hub.ServeClient(conn, topics...)
	slog.Debug("WebSocket client connected",
		"client_id", client.ID(),
		"remote_addr", c.Request().RemoteAddr,
		"initial_topics", topics)

	return nil
}

// handleBroadcastEvent is the external producer boundary: it admits an
// already-constructed envelope for distribution. Delivery outcome is
// never reported back.
func (s *Server) handleBroadcastEvent(c echo.Context) error {
	var env events.Envelope
	if err := c.Bind(&env); err != nil {
		return apperrors.ValidationError("invalid envelope").WithContext("bind_error", err.Error())
	}

	if env.Type == "" {
		return apperrors.ValidationError("type is required")
	}

	// Identity fields are assigned at admission; producers cannot spoof
	// another instance's origin or replay an event ID.
	env.EventID = ""
	env.Origin = ""

	s.hub.Broadcast(env)

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleStats exposes the current registry state.
func (s *Server) handleStats(c echo.Context) error {
	stats := s.hub.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"clients": stats.Clients,
		"topics":  stats.Topics,
		"uptime":  time.Since(s.startTime).Seconds(),
		"version": version.Get(),
	})
}
