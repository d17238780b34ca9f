/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pricing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Configure logging
  3. Initialize SQLite store
  4. Create API handler and seed demo catalogs when enabled
  5. Start the expiry sweeper
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT_SEC)
  3. Stop the sweeper
  4. Close database connection

EXAMPLES:
  ./server -db="./data/pricing.db"
  ./server -db=":memory:" -port=3000
  ENV=prod SEED_DEMO=false ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/nasri82/cardinsa-pricing/api"
	"github.com/nasri82/cardinsa-pricing/config"
	"github.com/nasri82/cardinsa-pricing/store/sqlite"
)

func main() {
	cfg := config.MustLoad()

	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	cfg.ConfigureLogging()

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	handler := api.NewHandler(db)

	if cfg.SeedDemo {
		seeded, err := handler.SeedDemo(context.Background())
		if err != nil {
			log.WithError(err).Warn("Failed to seed demo catalogs")
		} else if seeded {
			log.Info("Seeded demo catalogs into empty database")
		}
	}

	sweeper := api.NewExpirySweeper(db)
	sweeper.Start()
	defer sweeper.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  cfg.IdleTimeout(),
	}

	go func() {
		log.WithFields(log.Fields{
			"port": cfg.Port,
			"env":  cfg.Env,
			"db":   cfg.DBPath,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped")
}
