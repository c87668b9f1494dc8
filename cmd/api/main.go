package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/api"
	"github.com/dvloznov/invoice-verifier/internal/api/handlers"
	"github.com/dvloznov/invoice-verifier/internal/app"
	"github.com/dvloznov/invoice-verifier/internal/config"
	"github.com/dvloznov/invoice-verifier/internal/jobs"
	"github.com/dvloznov/invoice-verifier/internal/jobs/inmemory"
	"github.com/dvloznov/invoice-verifier/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("INVOICE_VERIFIER_CONFIG"), "Path to the YAML config file (or set INVOICE_VERIFIER_CONFIG env)")
		addr       = flag.String("addr", "", "HTTP listen address, overrides server.addr")
	)
	flag.Parse()

	// Bootstrap logger until the configured one is available
	log := logger.New()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log, err = logger.NewFromOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log settings")
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize verifier")
	}
	defer a.Close()

	if cfg.GCP.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - document uploads will be disabled")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Queue.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Queue.Workers),
		inmemory.WithLogger(log.With().Str("component", "queue").Logger()),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Queue.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, jobs.NewVerificationHandler(a.Pipeline, a.Fetcher())); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	// Initialize handlers
	var uploader handlers.Uploader
	if a.Storage != nil {
		uploader = a.Storage
	}
	h := api.Handlers{
		Documents: handlers.NewDocumentsHandler(a.Pipeline, jobQueue, uploader, cfg.GCP.Bucket, log),
		Jobs:      handlers.NewJobsHandler(jobStore, log),
		Audit:     handlers.NewAuditHandler(a.Audit, a.Departments, log),
		Budgets:   handlers.NewBudgetsHandler(a.Ledger, log),
		Rules:     handlers.NewRulesHandler(a.Engine, a.LoadRules, log),
		Activity:  handlers.NewActivityHandler(a.Hub, a.Departments, 64, log),
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewHandler(h, log, cfg.Server.APIKey),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight documents finish before the stores close
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
