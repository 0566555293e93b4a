// reviewpipeline server - accepts document uploads, runs the staged
// contract-review pipeline, and serves paginated findings.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/markiskorova/reviewpipeline/pkg/api"
	"github.com/markiskorova/reviewpipeline/pkg/cache"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/database"
	"github.com/markiskorova/reviewpipeline/pkg/llm"
	"github.com/markiskorova/reviewpipeline/pkg/queue"
	"github.com/markiskorova/reviewpipeline/pkg/services"
	"github.com/markiskorova/reviewpipeline/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting reviewpipeline",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, migrations applied")

	// Runs left in "running" by a previous crash can never finish.
	if err := queue.CleanupStartupOrphans(ctx, dbClient.Client); err != nil {
		log.Fatalf("Failed to clean up startup orphans: %v", err)
	}

	var resultCache *cache.ResultCache
	if cfg.Review.EnablePipelineCache {
		resultCache = cache.NewResultCache(cfg.Review.CacheTTL)
	}

	provider := llm.SelectProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model)

	executor := queue.NewPipelineExecutor(dbClient.Client, resultCache, provider, cfg.Review, cfg.LLM.Timeout)
	workerPool := queue.NewWorkerPool(dbClient.Client, cfg.Queue, cfg.Review.MaxConcurrentRuns, executor)

	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()
	if err := workerPool.Start(poolCtx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	documentService := services.NewDocumentService(dbClient.Client)
	intakeService := services.NewIntakeService(dbClient.Client, cfg.Review, workerPool)
	runService := services.NewRunService(dbClient.Client)
	findingsService := services.NewFindingsService(dbClient.Client, cfg.Review)

	server := api.NewServer(
		cfg.Review,
		dbClient,
		documentService,
		intakeService,
		runService,
		findingsService,
		workerPool,
		resultCache,
	)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Start(":" + httpPort)
	}()
	slog.Info("HTTP server listening", "addr", ":"+httpPort)

	// Wait for shutdown signal or server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	// Stop intake first, then drain workers.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	workerPool.Stop()
	slog.Info("Shutdown complete")
}
