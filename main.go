package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/config"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/events"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/federation"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/handlers"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/observer"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/push"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	var kv store.KV
	var locker store.Locker
	switch cfg.Driver {
	case "redis":
		rs := store.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		kv, locker = rs, rs
	case "postgres":
		ps, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		if err := ps.RunMigrations(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database migrations completed")
		kv, locker = ps, ps
	case "memory":
		ms := store.NewMemoryStore()
		kv, locker = ms, ms
	}

	ev := events.NewLogger(cfg.LogEvents)
	notifier := federation.NewHTTPNotifier(cfg.Host, cfg.DevMode, ev)
	sender := push.NewWebPushSender(cfg.Host)
	svc := observer.NewService(kv, locker, notifier, sender, ev)

	h := handlers.NewHandler(svc)
	http.HandleFunc("/", h.APIHandler)
	http.Handle("/metrics", promhttp.Handler())

	log.Println("Observing as " + cfg.Host + ", listening on :" + cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		log.Fatal(err)
	}
}
