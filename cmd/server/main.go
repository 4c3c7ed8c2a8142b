package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/versioned/internal/api"
	"github.com/rpattn/versioned/internal/config"
	"github.com/rpattn/versioned/internal/db"
	"github.com/rpattn/versioned/internal/middleware"
	"github.com/rpattn/versioned/internal/repository"
	"github.com/rpattn/versioned/internal/telemetry"
	"github.com/rpattn/versioned/internal/versioning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	file, err := config.Load(settings.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: settings.ServiceName,
		Endpoint:    settings.OTelEndpoint,
		Enabled:     settings.OTelEnabled,
	})
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("Failed to flush traces: %v", err)
		}
	}()

	store, closeStore, err := openStore(ctx, settings, file.Database)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", settings.Driver, err)
	}
	defer closeStore()

	registry, err := versioning.NewRegistry(store, file.Entities)
	if err != nil {
		log.Fatalf("Failed to register entities: %v", err)
	}
	log.Printf("Versioning %d entity types: %v", len(registry.Names()), registry.Names())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   settings.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(middleware.LoggingMiddleware(
		middleware.LoaderMiddleware(registry)(api.NewHandler(registry)),
	))

	server := &http.Server{
		Addr:         settings.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting versioning API on %s (%s storage)", settings.Addr, store.Dialect())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// openStore connects the configured backend and applies the embedded migrations.
func openStore(ctx context.Context, settings config.Settings, dbConfig db.Config) (repository.Store, func(), error) {
	if settings.Driver == config.DriverPostgres {
		conn, err := db.NewConnection(ctx, dbConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return repository.NewPostgresStore(conn), conn.Close, nil
	}

	sqlDB, err := db.OpenSQLite(ctx, settings.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			log.Printf("Failed to close sqlite database: %v", err)
		}
	}
	return repository.NewSQLiteStore(sqlDB), closeDB, nil
}
