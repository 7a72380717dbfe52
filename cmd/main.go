package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/down/down-service/internal/api"
	"github.com/down/down-service/internal/app"
	"github.com/down/down-service/internal/auth"
	"github.com/down/down-service/internal/config"
	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/internal/store"
	"github.com/down/down-service/pkg/identityclient"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load application configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// If a platform-provided PORT is set (e.g., Railway/Render), prefer it
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	// Establish database connection pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	// Ensure required tables exist (idempotent)
	if err := ensureSchema(context.Background(), dbpool); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Redis backs the confirmation-handle store and the send-code limiter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	// Identity provider client
	identityAPI := identityclient.NewClient(cfg.IdentityAPIURL, cfg.IdentityAPIKey)

	// Repositories
	userRepo := store.NewPostgresUserRepository(dbpool)
	eventRepo := store.NewPostgresEventRepository(dbpool)

	otpTTL := time.Duration(cfg.OTPTTLSeconds) * time.Second
	handles := store.NewHandleStore(rdb, otpTTL)
	limiter := store.NewRedisRateLimiter(rdb, "down:rate_limit")

	resolver := auth.NewResolver(userRepo, domain.EventsExchange, domain.RoutingKeyUserCreated)
	flows := auth.NewRegistry(identityAPI, handles, resolver, 15*time.Second, 15*time.Minute)

	// Session context: single observer of identity-provider state changes,
	// owned here and torn down at shutdown.
	session := auth.NewSession(identityAPI, resolver, 15*time.Second)
	defer session.Close()

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go flows.Sweep(workerCtx, time.Minute)

	dispatcher := app.NewOutboxDispatcher(userRepo, cfg.RabbitMQURL)
	go dispatcher.Run(workerCtx)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(eventRepo, userRepo, cfg.IdleUserDays, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	// Handlers and router
	onboardingHandler := api.NewOnboardingHandler(
		flows,
		resolver,
		identityAPI,
		session,
		limiter,
		cfg.SendCodeLimit,
		time.Duration(cfg.SendCodeWindowSeconds)*time.Second,
	)
	eventHandler := api.NewEventHandler(eventRepo, resolver)
	router := api.NewRouter(&cfg, onboardingHandler, eventHandler)

	// Start the server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	stopWorkers()
	<-scheduler.Stop().Done()

	log.Println("Server gracefully stopped")
}

func ensureSchema(ctx context.Context, dbpool *pgxpool.Pool) error {
	_, err := dbpool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
            uid TEXT PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            display_name TEXT NOT NULL,
            auth_method TEXT NOT NULL DEFAULT 'phone',
            status TEXT NOT NULL DEFAULT 'active',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS events (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            place TEXT NOT NULL,
            event_time TIMESTAMPTZ NOT NULL,
            time_created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            creator TEXT NOT NULL REFERENCES users(username),
            is_active BOOLEAN NOT NULL DEFAULT TRUE
        );
        CREATE TABLE IF NOT EXISTS event_attendees (
            event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
            username TEXT NOT NULL,
            display_name TEXT NOT NULL,
            rsvp TEXT,
            responded_at TIMESTAMPTZ,
            PRIMARY KEY (event_id, username)
        );
        CREATE TABLE IF NOT EXISTS event_outbox (
            id BIGSERIAL PRIMARY KEY,
            exchange TEXT NOT NULL,
            routing_key TEXT NOT NULL,
            payload JSONB NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INT NOT NULL DEFAULT 0,
            next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            processing_started_at TIMESTAMPTZ,
            published_at TIMESTAMPTZ,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	return err
}
