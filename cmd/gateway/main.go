package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/northbay/ragchat-gateway/internal/chat"
	"github.com/northbay/ragchat-gateway/internal/gateway/gatekeeper"
	"github.com/northbay/ragchat-gateway/internal/gateway/handlers"
	"github.com/northbay/ragchat-gateway/internal/gateway/providers"
	"github.com/northbay/ragchat-gateway/internal/gateway/ratelimit"
	"github.com/northbay/ragchat-gateway/internal/shared/config"
	"github.com/northbay/ragchat-gateway/internal/shared/database"
	"github.com/northbay/ragchat-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting RAG chat gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	var db *database.DB
	if cfg.DBDriver == "postgres" {
		db, err = database.New(cfg.DatabaseURL)
	} else {
		db, err = database.NewSQLite(cfg.SQLitePath)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("✓ Connected to %s", cfg.DBDriver)

	// Initialize Redis (optional, admission statistics only)
	var recorder gatekeeper.Recorder
	var stats handlers.StatsSource
	health := handlers.NewHealthHandler(db)
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		recorder = redisClient
		stats = redisClient
		health.WithRedis(redisClient)
		log.Println("✓ Connected to Redis (admission statistics enabled)")
	}

	// Initialize gatekeeper
	policy := ratelimit.Policy{
		Capacity:     cfg.RateLimit.Capacity,
		RefillTokens: cfg.RateLimit.RefillTokens,
		RefillPeriod: cfg.RateLimit.RefillPeriod(),
	}
	buckets, err := ratelimit.NewMemoryStore(policy, ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL()))
	if err != nil {
		log.Fatalf("Invalid rate limit policy: %v", err)
	}
	if ttl := cfg.RateLimit.IdleTTL(); ttl > 0 {
		buckets.StartJanitor(ctx, ttl/2)
		log.Printf("✓ Evicting buckets idle for more than %s", ttl)
	}

	registry := gatekeeper.NewKeyRegistry(cfg.APIKeys)
	if registry.Len() == 0 {
		log.Println("⚠ APP_API_KEYS is empty: every protected request will be rejected")
	}
	gk := gatekeeper.New(registry, buckets, gatekeeper.Options{
		Header:      cfg.APIKeyHeader,
		PublicPaths: cfg.PublicPaths,
		Recorder:    recorder,
	})
	active := buckets.Policy()
	log.Printf("✓ Gatekeeper ready (%d keys, capacity %d, +%d tokens every %s)", registry.Len(), active.Capacity, active.RefillTokens, active.RefillPeriod)

	// Initialize completion client
	completer := providers.NewGroqClient(providers.ClientConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
		MaxRPS:  cfg.LLMMaxRPS,
	})
	if cfg.LLMAPIKey == "" {
		log.Println("⚠ GROQ_API_KEY is empty: user messages will be stored without replies")
	}
	log.Printf("✓ Initialized %s completions (model %s)", completer.Provider(), completer.Model())

	// Initialize handlers
	chatService := chat.NewService(db, completer, completer.Provider())
	chatHandler := handlers.NewChatHandler(chatService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(gatekeeper.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	if cfg.CORSEnabled {
		r.Use(gatekeeper.CORS(cfg.APIKeyHeader))
	}
	r.Use(gk.Middleware)

	// Health check (public path, bypasses the gatekeeper)
	r.Method(http.MethodGet, "/health", health)

	// API routes (authenticated and rate limited)
	r.Route("/api/v1", func(r chi.Router) {
		chatHandler.Routes(r)
		r.Method(http.MethodGet, "/gatekeeper/stats", handlers.NewStatsHandler(stats))
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST   /api/v1/sessions                - Create session")
		log.Println("   GET    /api/v1/sessions                - List sessions")
		log.Println("   GET    /api/v1/sessions/favorites      - List favorite sessions")
		log.Println("   PATCH  /api/v1/sessions/{id}           - Rename / favorite a session")
		log.Println("   DELETE /api/v1/sessions/{id}           - Delete a session")
		log.Println("   POST   /api/v1/sessions/{id}/messages  - Add message (user messages get a reply)")
		log.Println("   GET    /api/v1/sessions/{id}/messages  - List messages")
		log.Println("   GET    /api/v1/gatekeeper/stats        - Admission statistics")
		log.Println("   GET    /health                         - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
