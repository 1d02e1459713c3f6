package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coedit/config"
	"coedit/config/database"
	"coedit/internal/collab/model"
	"coedit/internal/collab/repository"
	"coedit/internal/collab/session"
	"coedit/pkg/logger"
	"coedit/pkg/telemetry"
	"coedit/router"
)

func main() {
	logger.Init()
	cfg := config.Load()

	if cfg.JaegerEndpoint != "" {
		shutdown, err := telemetry.Init("coedit", cfg.JaegerEndpoint)
		if err != nil {
			logger.Sugar.Warnf("Tracing disabled: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdown(ctx)
			}()
		}
	}

	db := database.Connect(cfg)
	defer db.Close()

	repo := repository.NewRepository(db)

	tuning := session.DefaultTuning()
	tuning.AutoSaveInterval = cfg.AutoSaveInterval
	tuning.AwayTimeout = cfg.AwayTimeout
	tuning.LeaveGrace = cfg.LeaveGrace
	tuning.IdleTimeout = cfg.IdleTimeout

	registry := session.NewRegistry(repo, repo, session.Options{
		Tuning:            tuning,
		DefaultPermission: model.ParsePermission(cfg.DefaultPermission),
		MaxParticipants:   cfg.MaxParticipants,
		AutoSave:          cfg.AutoSave,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.Setup(db, registry),
	}

	go func() {
		logger.Sugar.Infof("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: end live sessions so their snapshots flush.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Sugar.Info("Shutting down...")
	registry.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar.Errorf("Server shutdown: %v", err)
	}
}
