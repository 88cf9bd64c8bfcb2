package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaydeck/relaydeck/internal/cache"
	"github.com/relaydeck/relaydeck/internal/handlers"
	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/logger"
	"github.com/relaydeck/relaydeck/internal/metrics"
	"github.com/relaydeck/relaydeck/internal/middleware"
	"github.com/relaydeck/relaydeck/internal/persistence"
	"github.com/relaydeck/relaydeck/internal/progress"
	"github.com/relaydeck/relaydeck/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	if err := logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE")); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("=== RelayDeck server starting ===")

	// Initialize Prometheus metrics
	metrics.Initialize()

	// Initialize OpenTelemetry tracing (no-op unless OTEL_ENABLED=true)
	tp, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  "relaydeck",
		Environment:  os.Getenv("ENVIRONMENT"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:      os.Getenv("OTEL_ENABLED") == "true",
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warn("tracer shutdown warning", zap.Error(err))
			}
		}()
	}

	// Initialize persistence API client
	client, err := persistence.NewClient(persistence.Config{
		Origin:       os.Getenv("RELAY_ORIGIN"),
		SubscribeKey: os.Getenv("RELAY_SUBSCRIBE_KEY"),
		AuthKey:      os.Getenv("RELAY_AUTH_KEY"),
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize persistence client", zap.Error(err))
	}

	// Redis is optional; counts caching is skipped without it
	var redisClient *cache.RedisClient
	if os.Getenv("REDIS_HOST") != "" {
		redisClient, err = cache.NewRedisClient(
			os.Getenv("REDIS_HOST"),
			os.Getenv("REDIS_PORT"),
			os.Getenv("REDIS_PASSWORD"),
		)
		if err != nil {
			logger.Log.Warn("Redis unavailable, continuing without counts cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Initialize progress hub
	hub := progress.NewHub()
	go hub.Run()
	progressHandler := progress.NewHandler(hub)

	// Initialize handlers
	h := handlers.NewHandlers(client, history.Options{Logger: logger.Log})
	h.SetProgressHub(hub)
	if redisClient != nil {
		h.SetRedisClient(redisClient)
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.TracingMiddleware("relaydeck"))
	r.Use(middleware.MetricsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// CORS middleware
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // Configure properly for production
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	r.Use(cors.New(config))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "relaydeck",
		})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Progress stream endpoint
	r.GET("/ws/progress", progressHandler.HandleWebSocket)

	// API routes
	h.RegisterRoutes(r)

	// Server configuration
	port := os.Getenv("PORT")
	if port == "" {
		port = "8788"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		logger.Log.Info("RelayDeck backend listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		logger.Log.Warn("progress hub shutdown warning", zap.Error(err))
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
