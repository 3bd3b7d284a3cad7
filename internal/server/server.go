package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/LiranCohen/dex-sub010/internal/config"
	apperrors "github.com/LiranCohen/dex-sub010/internal/errors"
	"github.com/LiranCohen/dex-sub010/internal/events"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *events.Hub
	redis     *goredis.Client
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewServer builds the HTTP surface around the hub. redisClient may be
// nil when the relay is disabled; the readiness probe then skips it.
func NewServer(cfg *config.Config, hub *events.Hub, redisClient *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:   e,
		config: cfg,
		hub:    hub,
		redis:  redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     NewCheckOrigin(cfg.AllowedOrigins, cfg.IsDevelopment()),
		},
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(":" + s.config.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
