package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-tprm-approvals/internal/client"
	"github.com/pesio-ai/be-tprm-approvals/internal/config"
	"github.com/pesio-ai/be-tprm-approvals/internal/database"
	"github.com/pesio-ai/be-tprm-approvals/internal/idempotency"
	"github.com/pesio-ai/be-tprm-approvals/internal/logger"
	"github.com/pesio-ai/be-tprm-approvals/internal/repository"
	"github.com/pesio-ai/be-tprm-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting TPRM Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Notification publishing (optional)
	var notifier service.Notifier
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		notifier = client.NewNotificationPublisher(nc, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		notifier = client.NewNotificationPublisher(nil, log.Logger)
	}

	// Idempotency store: process-local by default, redis when configured
	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		idemStore = idempotency.NewRedisStore(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis-backed idempotency store enabled")
	}
	guard := idempotency.NewGuard(idemStore, cfg.Workflow.IdempotencyTTL)

	// Storage and collaborators
	retry := database.RetryPolicy{
		MaxRetries: cfg.Workflow.RetryMaxRetries,
		BaseDelay:  cfg.Workflow.RetryBaseDelay,
		MaxDelay:   cfg.Workflow.RetryMaxDelay,
	}
	store := repository.NewPostgresStore(db, retry)
	auditRepo := repository.NewApprovalAuditRepository(db)

	subjectsURL := getEnv("SUBJECTS_URL", "http://localhost:9080")
	subjects := client.NewSubjectDirectoryClient(subjectsURL, 10*time.Second)

	// Side-effect handlers are registered by the embedding deployment; the
	// engine itself ships none.
	handlers := service.NewHandlerRegistry()

	approvalService := service.NewApprovalWorkflowService(
		store, subjects, handlers, auditRepo, notifier, guard, log)
	_ = approvalService // consumed by the API layer, wired separately

	log.Info().
		Str("subjects_url", subjectsURL).
		Int("retry_max_retries", retry.MaxRetries).
		Msg("Approval workflow engine initialized")

	// Health endpoint only; API routing lives in the gateway service.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
