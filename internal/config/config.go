package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

// Config is the node configuration, read from the environment.
type Config struct {
	// Host is this node's public hostname, sent as its identity on
	// federation calls.
	Host string
	Port string

	// Driver selects the datastore backend: redis, postgres or memory.
	Driver string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	// DevMode disables TLS verification on federation calls, for meshes
	// running on self-signed certificates.
	DevMode bool

	// LogEvents lists the event classes to log, e.g.
	// "host-changes-subscription,user-push-notification".
	LogEvents []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Host:          models.NormalizeHost(os.Getenv("OBSERVER_HOST")),
		Port:          getenv("PORT", "8080"),
		Driver:        getenv("DATASTORE_DRIVER", "redis"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DevMode:       os.Getenv("OBSERVER_DEV_MODE") == "true",
	}

	if !models.IsValidHost(cfg.Host) {
		return nil, fmt.Errorf("OBSERVER_HOST is required and must be a valid hostname")
	}

	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	if events := os.Getenv("OBSERVER_LOG_EVENTS"); events != "" {
		for _, class := range strings.Split(events, ",") {
			if class = strings.TrimSpace(class); class != "" {
				cfg.LogEvents = append(cfg.LogEvents, class)
			}
		}
	}

	switch cfg.Driver {
	case "redis", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown DATASTORE_DRIVER %q", cfg.Driver)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
