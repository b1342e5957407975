package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/felo/emailparser/internal/config"
	"github.com/felo/emailparser/internal/extraction"
	"github.com/felo/emailparser/internal/handlers"
	"github.com/felo/emailparser/internal/importer"
	"github.com/felo/emailparser/internal/logging"
	"github.com/felo/emailparser/internal/pipeline"
	"github.com/felo/emailparser/internal/store"
	"github.com/felo/emailparser/internal/store/memstore"
	"github.com/felo/emailparser/internal/store/sqlstore"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	log := logging.Log

	// Load configuration
	cfg, err := config.Load(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	// Create shutdown signal channel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, st)
	stop()
	closeStore()
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Info("Server stopped")
}

// run serves the API until ctx is done or the listener fails
func run(ctx context.Context, cfg *config.Config, st store.Store) error {
	log := logging.Log

	opts := []extraction.Option{
		extraction.WithModel(cfg.Extraction.Model),
		extraction.WithTimeout(cfg.Extraction.Timeout),
	}
	if cfg.Extraction.RateLimit > 0 {
		opts = append(opts, extraction.WithRateLimit(cfg.Extraction.RateLimit, cfg.Extraction.Burst))
	}
	client := extraction.NewClient(cfg.Extraction.URL, opts...)
	svc := pipeline.New(client, st)

	log.WithField("url", cfg.Extraction.URL).WithField("model", cfg.Extraction.Model).Info("Extraction service configured")

	// Import emails on startup, stopped and awaited before run returns
	var imports sync.WaitGroup
	defer imports.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Importer.Path != "" {
		imports.Add(1)
		go func() {
			defer imports.Done()
			imp := importer.NewImporter(svc, cfg.Importer.Path).WithConcurrency(cfg.Importer.Workers)
			if _, err := imp.ImportAll(ctx); err != nil {
				log.Warnf("Import failed: %v", err)
			}
		}()
	}

	h := handlers.New(svc, st)

	// Create server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Extraction.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", cfg.URL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// openStore returns the configured store and a close func
func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlstore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		logging.Log.Infof("Database opened at: %s", cfg.Path)
		return s, func() {
			if err := s.Close(); err != nil {
				logging.Log.Errorf("Failed to close database: %v", err)
			}
		}, nil
	default:
		logging.Log.Info("Using in-memory store")
		return memstore.New(), func() {}, nil
	}
}
