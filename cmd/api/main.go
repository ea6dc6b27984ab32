package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/odoostore/internal/app"
	"github.com/xelth-com/odoostore/internal/config"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/handlers"
	"github.com/xelth-com/odoostore/internal/logger"
	"github.com/xelth-com/odoostore/internal/services/jobs"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logg := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cfg.NodeEnv)
	defer func() { _ = logg.Sync() }()

	// 2. Initialize database (embedded when local without password)
	db, err := database.Connect(cfg.Database, logg)
	if err != nil {
		logg.Fatal("failed to connect to database", zap.Error(err))
	}

	// 3. Auto-migrate schema
	if err := db.Migrate(); err != nil {
		logg.Warn("migration warning", zap.Error(err))
	} else {
		logg.Info("schema synchronized")
	}

	// 4. Services, run leases and scheduler
	application, err := app.New(cfg, db, logg)
	if err != nil {
		logg.Fatal("failed to wire services", zap.Error(err))
	}

	interval := time.Duration(cfg.Odoo.SyncIntervalMinutes) * time.Minute
	if application.Client == nil {
		interval = 0
	}
	scheduler := jobs.NewScheduler(application.Runner, interval, logg)
	scheduler.Start()

	// 5. HTTP router
	router := handlers.NewRouter(application.Handlers(cfg.JWTSecret), logg)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logg.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.NodeEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sig := <-shutdown
	logg.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logg.Error("HTTP server shutdown error", zap.Error(err))
	}

	scheduler.Stop()
	if err := application.Close(); err != nil {
		logg.Warn("redis close error", zap.Error(err))
	}

	// Close database (this also stops embedded PostgreSQL)
	if err := db.Close(); err != nil {
		logg.Error("database close error", zap.Error(err))
	}
	logg.Info("shutdown complete")
}
