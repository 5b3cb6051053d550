package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slhuckstead/accountmap/internal/api"
	"github.com/slhuckstead/accountmap/internal/broker"
	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/controllers"
	"github.com/slhuckstead/accountmap/internal/database"
	"github.com/slhuckstead/accountmap/internal/mapper"
	"github.com/slhuckstead/accountmap/internal/repository"
	"github.com/slhuckstead/accountmap/internal/services"
	"github.com/slhuckstead/accountmap/internal/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()
	for _, problem := range cfg.Validate() {
		log.Printf("[accountmap] Configuration warning: %s", problem)
	}

	readiness := &services.Readiness{}

	// Tracing
	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to create tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	// Mapping store
	store, db := openStore(cfg)
	if db != nil {
		defer db.Close()
	}

	// Broker publisher is optional; without it events are dropped and MQTT sync is unavailable
	var publisher *broker.Publisher
	if cfg.Broker.URL != "" {
		publisher, err = broker.NewPublisher(&cfg.Broker)
		if err != nil {
			log.Printf("[broker] Disabled: %v", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	// Create services
	registryOpts := services.RegistryOptions{
		Tracer:       tp.Tracer(),
		QueryTimeout: cfg.Database.QueryTimeout,
		DefaultLimit: cfg.Limits.ListDefaultLimit,
		MaxLimit:     cfg.Limits.ListMaxLimit,
	}
	if publisher != nil {
		registryOpts.Events = publisher
	}
	registry := services.NewMappingRegistry(store, registryOpts)

	lookup := mapper.New(registry, cfg.CacheTTL)
	registry.SetCache(lookup)

	healthOpts := services.HealthOptions{
		Environment:     cfg.Environment,
		AppSecretSet:    cfg.AppSecret != "",
		StoreConfigured: cfg.Database.Configured(),
		Store:           registry,
		Readiness:       readiness,
		Timeout:         cfg.HealthTimeout,
	}
	if publisher != nil {
		healthOpts.Broker = publisher
	}

	shedder := services.NewLoadShedder(map[string]int{
		services.ClassExport: cfg.Limits.ExportConcurrency,
		services.ClassSync:   cfg.Limits.SyncConcurrency,
	})
	healthOpts.Gates = shedder

	handler := controllers.NewRouter(controllers.Deps{
		Config:    cfg,
		Guard:     services.NewIdentityGuard(cfg.Auth),
		Validator: services.NewValidator(cfg.Limits),
		Registry:  registry,
		Lookup:    lookup,
		Exports:   services.NewExportService(registry, cfg.Limits.ExportMaxRecords, cfg.Limits.ExportFlushEvery),
		Health:    services.NewHealthService(healthOpts),
		Sync:      services.NewSyncService(newSynchronizer(cfg, publisher), cfg.Sync.Timeout),
		Shedder:   shedder,
		Tracer:    tp.Tracer(),
	})

	// Create server. WriteTimeout covers the slowest bounded call; exports
	// extend their own deadline.
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Sync.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[accountmap] Server running on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	readiness.MarkInitialized()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[accountmap] Shutting down...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("[accountmap] Server stopped")
}

// openStore picks the mapping store. A store that cannot be opened leaves the
// service running with CRUD answering 503 and health reporting why.
func openStore(cfg *config.Config) (repository.MappingStore, *sql.DB) {
	if !cfg.Database.Configured() {
		log.Println("[database] Not configured")
		return repository.UnavailableMappingRepository{}, nil
	}
	if cfg.Database.Driver == "memory" {
		log.Println("[database] Using in-memory store")
		return repository.NewMemoryMappingRepository(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		log.Printf("[database] Failed to connect: %v", err)
		return repository.UnavailableMappingRepository{}, nil
	}
	return repository.NewSQLMappingRepository(db), db
}

func newSynchronizer(cfg *config.Config, publisher *broker.Publisher) services.Synchronizer {
	switch cfg.Sync.Transport {
	case "http":
		if cfg.Sync.URL == "" {
			return nil
		}
		return api.NewSyncClient(cfg.Sync.URL, cfg.Sync.APIKey, cfg.Sync.Timeout)
	default:
		if publisher == nil {
			return nil
		}
		return broker.NewRequester(publisher)
	}
}
