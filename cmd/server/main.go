package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"fleetlink/internal/api"
	"fleetlink/internal/config"
	"fleetlink/internal/coordinator"
	"fleetlink/internal/history"
	"fleetlink/internal/metrics"
	"fleetlink/internal/transition"
	"fleetlink/internal/transport"
	"fleetlink/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Initialize logger
	logger.Init()
	logger.Info("Starting fleet monitoring service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx := context.Background()

	// Entry store
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize entry store:", err)
	}
	defer closeStore()

	// Snapshot sinks
	var sinks []coordinator.Sink
	var writer *history.Writer
	if cfg.HistoryEnabled {
		client, err := influxdb3.New(influxdb3.ClientConfig{
			Host:     cfg.InfluxURL,
			Token:    cfg.InfluxToken,
			Database: cfg.InfluxDatabase,
		})
		if err != nil {
			log.Fatal("Failed to initialize InfluxDB client:", err)
		}
		defer client.Close()

		writer = history.NewWriter(client, cfg.InfluxDatabase, cfg.HistoryBatchSize, cfg.HistoryFlushInterval)
		sinks = append(sinks, writer)
	}

	// Transport drivers register themselves here; entries whose kind has no
	// driver fail their polls with a "not installed" error until one is added.
	registry := transport.NewRegistry()

	mgr := coordinator.NewManager(store, registry, cfg.CallTimeout, sinks...)
	if err := mgr.StartAll(ctx); err != nil {
		logger.Errorf("Failed to start fleet polling: %v", err)
	}

	router := transition.NewRouter(store, registry, mgr)

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewCollector(mgr))

	// Setup HTTP server
	engine := setupRouter(mgr, store, router, promRegistry)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %d", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced shutdown: %v", err)
	}

	mgr.StopAll()
	if writer != nil {
		writer.Close()
	}

	logger.Info("Stopped gracefully")
}

func newStore(ctx context.Context, cfg *config.Config) (config.Store, func(), error) {
	if cfg.EntryStore == "mongo" {
		store, err := config.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warnf("MongoDB disconnect failed: %v", err)
			}
		}
		logger.Infof("Using MongoDB entry store (%s/%s)", cfg.MongoDB, cfg.MongoCollection)
		return store, closeFn, nil
	}

	logger.Info("Using in-memory entry store")
	return config.NewMemoryStore(), func() {}, nil
}

func setupRouter(mgr *coordinator.Manager, store config.Store, router *transition.Router, registry *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(api.Logger())
	r.Use(api.CORS())

	api.SetupRoutes(r, api.NewHandler(mgr, store, router), registry)
	return r
}
