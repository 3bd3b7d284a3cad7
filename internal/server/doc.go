// Package server implements the HTTP server using Echo framework.
//
// Routes: websocket upgrade (/ws), producer API (/api/events), stats
// (/api/stats), health probes and Prometheus metrics. Handlers split by
// concern: handlers.go, handlers_health.go.
package server
