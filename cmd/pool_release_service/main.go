package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	auditapp "github.com/snoutservices/relay/internal/audit/app"
	auditpg "github.com/snoutservices/relay/internal/audit/repository/postgres"
	registrypg "github.com/snoutservices/relay/internal/numberregistry/repository/postgres"
	"github.com/snoutservices/relay/internal/platform/config"
	"github.com/snoutservices/relay/internal/platform/database"
	"github.com/snoutservices/relay/internal/platform/logger"
	"github.com/snoutservices/relay/internal/platform/messagebroker"
	poolreleaseapp "github.com/snoutservices/relay/internal/poolrelease/app"
	poolreleasepg "github.com/snoutservices/relay/internal/poolrelease/repository/postgres"
	threadspg "github.com/snoutservices/relay/internal/threads/repository/postgres"
)

const serviceName = "pool_release_service"

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Starting service...")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	nc, err := messagebroker.NewNATSClient(cfg.NATSUrl, appLogger, serviceName)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	poolRepo := poolreleasepg.NewPgPoolThreadRepository(dbPool, appLogger)
	threadRepo := threadspg.NewPgThreadRepository(dbPool, appLogger)
	numberRepo := registrypg.NewPgNumberRepository(dbPool, appLogger)
	eventRepo := auditpg.NewPgEventRepository(dbPool, appLogger)
	recorder := auditapp.NewRecorder(eventRepo, nc, appLogger)

	job := poolreleaseapp.NewReleaseJob(poolRepo, threadRepo, numberRepo, recorder, poolreleaseapp.JobConfig{
		PostBookingGrace:  time.Duration(cfg.PostBookingGraceHours) * time.Hour,
		InactivityRelease: time.Duration(cfg.InactivityReleaseDays) * 24 * time.Hour,
		MaxThreadLifetime: time.Duration(cfg.MaxPoolThreadLifetimeDays) * 24 * time.Hour,
		PollInterval:      cfg.ReleasePollInterval(),
	}, appLogger)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("Pool release job running", "interval", cfg.ReleasePollInterval().String())
		return job.Run(groupCtx)
	})
	g.Go(func() error {
		appLogger.Info("Metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var groupErr error
	select {
	case sig := <-sigCh:
		appLogger.Info("Received termination signal", "signal", sig.String())
	case groupErr = <-watchGroup(g):
		appLogger.Error("A critical component failed, initiating shutdown", "error", groupErr)
	}

	appLogger.Info("Attempting graceful shutdown...")
	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Error during graceful shutdown of components", "error", err)
	}
	appLogger.Info("Service shutdown complete.")
}

// watchGroup is a helper to monitor an errgroup for early exit.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
	}()
	return errCh
}
