package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nazim05-hub/MessengerX/config"
	"github.com/nazim05-hub/MessengerX/db"
	"github.com/nazim05-hub/MessengerX/handlers"
	"github.com/nazim05-hub/MessengerX/metrics"
	"github.com/nazim05-hub/MessengerX/middleware"
	"github.com/nazim05-hub/MessengerX/services"
	"github.com/nazim05-hub/MessengerX/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Background workers stop when shutdown begins
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Ephemeral state
	var store services.EphemeralStore
	switch cfg.EphemeralBackend {
	case config.BackendMemory:
		mem := services.NewMemoryStore(nil)
		go mem.Run(bgCtx, time.Minute)
		store = mem
		logger.Info("Using in-memory ephemeral store")
	default:
		client, err := services.NewRedisClient(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to configure Redis", "error", err)
		}
		store = services.NewRedisStore(client, cfg.RedisKeyPrefix, logger)
	}

	// Initialize services
	m := metrics.New(prometheus.DefaultRegisterer)
	directory := services.NewGormDirectory(database)
	gate := services.NewSessionGate(cfg.JWTSecret, cfg.JWTAlgorithm, directory)
	hub := services.NewHub(store, services.HubConfig{
		TypingTTL:         cfg.TypingTTL,
		StoreTimeout:      cfg.StoreTimeout,
		FanoutConcurrency: cfg.FanoutConcurrency,
	}, logger, m)
	router := services.NewRouter(hub, directory, logger, m)
	notifier := services.NewNotifier(hub, directory)

	relay := services.NewPresenceRelay(hub, store, logger)
	if cfg.PresenceRelay {
		relay.Start(bgCtx)
	}

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hub, router, gate, handlers.WSConfigFrom(cfg), logger, m)
	presenceHandler := handlers.NewPresenceHandler(hub, directory, logger)
	eventsHandler := handlers.NewEventsHandler(hub, notifier, directory, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(logger))
	engine.Use(middleware.CORS(cfg.CORSOrigins))

	engine.GET("/health", handlers.HealthCheck(hub, store))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Live endpoint
	engine.GET("/ws", wsHandler.Serve)
	engine.GET("/ws/:token", wsHandler.Serve)

	// API routes
	v1 := engine.Group("/api/v1")
	v1.Use(middleware.Auth(gate))
	{
		v1.GET("/users/:user_id/status", presenceHandler.GetUserStatus)
		v1.GET("/chats/:chat_id/typing", presenceHandler.GetTypingUsers)
	}

	// Internal fan-out routes
	if cfg.InternalAPIToken != "" {
		internal := engine.Group("/internal/v1")
		internal.Use(middleware.InternalAuth(cfg.InternalAPIToken))
		{
			internal.POST("/events/users", eventsHandler.SendToUsers)
			internal.POST("/events/broadcast", eventsHandler.Broadcast)
			internal.POST("/chats/:chat_id/messages", eventsHandler.NewMessage)

			calls := internal.Group("/calls/:call_id")
			{
				calls.POST("/incoming", eventsHandler.IncomingCall)
				calls.POST("/accepted", eventsHandler.CallAccepted)
				calls.POST("/rejected", eventsHandler.CallRejected)
				calls.POST("/ended", eventsHandler.CallEnded)
			}
		}
	} else {
		logger.Warn("INTERNAL_API_TOKEN not set, internal fan-out routes disabled")
	}

	// Create HTTP server. No write timeout: live connections manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting realtime gateway", "port", cfg.Port, "ephemeral_backend", cfg.EphemeralBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before tearing down live connections
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	relay.Stop()
	hub.Shutdown(ctx)
	stopBackground()

	if err := store.Close(); err != nil {
		logger.Error("Failed to close ephemeral store", "error", err)
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Server exited")
}
