package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	RedisURL       string
	AllowedOrigins []string
	SendBufferSize int
}

// IsDevelopment reports whether the app runs in development mode.
// Development relaxes the websocket origin check to localhost.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// RelayEnabled reports whether cross-instance fan-out is configured.
func (c *Config) RelayEnabled() bool {
	return c.RedisURL != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		RedisURL:  getEnv("REDIS_URL", ""),
	}

	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	size := getEnv("SEND_BUFFER_SIZE", "256")
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("SEND_BUFFER_SIZE must be a positive integer, got %q", size)
	}
	cfg.SendBufferSize = n

	switch cfg.AppEnv {
	case "development", "production":
	default:
		return nil, fmt.Errorf("APP_ENV must be development or production, got %q", cfg.AppEnv)
	}

	if cfg.AppEnv == "production" && len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
