package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/LiranCohen/dex-sub010/internal/config"
	"github.com/LiranCohen/dex-sub010/internal/events"
	"github.com/LiranCohen/dex-sub010/internal/logging"
	"github.com/LiranCohen/dex-sub010/internal/relay"
	"github.com/LiranCohen/dex-sub010/internal/server"
	"github.com/LiranCohen/dex-sub010/internal/version"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, redisURL string) *goredis.Client {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, hub *events.Hub, eventRelay *relay.Relay) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if eventRelay != nil {
			eventRelay.Stop()
		}

		if err := hub.Shutdown(shutdownCtx); err != nil {
			slog.Error("Hub shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Get().Version)

	var redisClient *goredis.Client
	var eventRelay *relay.Relay
	if cfg.RelayEnabled() {
		redisClient = setupRedis(context.Background(), cfg.RedisURL)
		defer func() { _ = redisClient.Close() }()

		var err error
		eventRelay, err = relay.New(redisClient)
		if err != nil {
			slog.Error("Failed to create relay", "error", err)
			os.Exit(1)
		}
	}

	// The relay pointer goes into the hub as an interface; keep it nil
	// (untyped) when disabled to avoid a typed-nil interface value.
	var hubRelay events.Relay
	if eventRelay != nil {
		hubRelay = eventRelay
	}

	hub := events.NewHub(clock, hubRelay, cfg.SendBufferSize)
	if eventRelay != nil {
		eventRelay.Start(context.Background(), hub)
		slog.Info("Relay started", "channel", relay.Channel, "instance_id", hub.InstanceID())
	}

	srv := server.NewServer(cfg, hub, redisClient)

	done := runGracefulShutdown(srv, hub, eventRelay)

	slog.Info("Server listening", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
