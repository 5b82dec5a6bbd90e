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

	alertspg "github.com/snoutservices/relay/internal/alerts/repository/postgres"
	antipoachingapp "github.com/snoutservices/relay/internal/antipoaching/app"
	antipoachingpg "github.com/snoutservices/relay/internal/antipoaching/repository/postgres"
	assignmentapp "github.com/snoutservices/relay/internal/assignment/app"
	assignmentpg "github.com/snoutservices/relay/internal/assignment/repository/postgres"
	auditapp "github.com/snoutservices/relay/internal/audit/app"
	auditpg "github.com/snoutservices/relay/internal/audit/repository/postgres"
	contactspg "github.com/snoutservices/relay/internal/contacts/repository/postgres"
	gatewayhttp "github.com/snoutservices/relay/internal/gateway/transport/http"
	registryapp "github.com/snoutservices/relay/internal/numberregistry/app"
	registrypg "github.com/snoutservices/relay/internal/numberregistry/repository/postgres"
	"github.com/snoutservices/relay/internal/platform/config"
	"github.com/snoutservices/relay/internal/platform/database"
	"github.com/snoutservices/relay/internal/platform/logger"
	"github.com/snoutservices/relay/internal/platform/messagebroker"
	"github.com/snoutservices/relay/internal/provider"
	routingapp "github.com/snoutservices/relay/internal/routing/app"
	routingpg "github.com/snoutservices/relay/internal/routing/repository/postgres"
	threadsapp "github.com/snoutservices/relay/internal/threads/app"
	threadspg "github.com/snoutservices/relay/internal/threads/repository/postgres"
)

const (
	serviceName     = "relay_service"
	shutdownTimeout = 10 * time.Second
)

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

	if err := database.RunMigrations(cfg.PostgresDSN, appLogger); err != nil {
		appLogger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

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

	// Repositories.
	numberRepo := registrypg.NewPgNumberRepository(dbPool, appLogger)
	threadRepo := threadspg.NewPgThreadRepository(dbPool, appLogger)
	windowRepo := assignmentpg.NewPgWindowRepository(dbPool, appLogger)
	messageRepo := routingpg.NewPgMessageRepository(dbPool, appLogger)
	clientRepo := contactspg.NewPgClientRepository(dbPool, appLogger)
	sitterRepo := contactspg.NewPgSitterRepository(dbPool, appLogger)
	bookingRepo := contactspg.NewPgBookingRepository(dbPool, appLogger)
	eventRepo := auditpg.NewPgEventRepository(dbPool, appLogger)
	alertRepo := alertspg.NewPgAlertRepository(dbPool, appLogger)
	attemptRepo := antipoachingpg.NewPgAttemptRepository(dbPool, appLogger)

	// Application services.
	recorder := auditapp.NewRecorder(eventRepo, nc, appLogger)

	registry := registryapp.NewRegistry(numberRepo, alertRepo, recorder, selectionStrategy(cfg), registryapp.RegistryConfig{
		SitterNumberCooldownDays: cfg.SitterNumberCooldownDays,
		MaxThreadsPerPoolNumber:  cfg.MaxThreadsPerPoolNumber,
		MinPoolReserve:           cfg.MinPoolReserve,
	}, appLogger)

	binding := threadsapp.NewBinding(threadRepo, registry, recorder, cfg.MaxThreadsPerPoolNumber, appLogger)
	windows := assignmentapp.NewManager(windowRepo, recorder, appLogger)

	adapter := buildAdapter(cfg, appLogger)
	adapters := map[string]provider.Adapter{adapter.GetName(): adapter}

	notifier := routingapp.NewOwnerInboxNotifier(threadRepo, messageRepo, appLogger)
	enforcer := antipoachingapp.NewEnforcer(attemptRepo, notifier, adapter, recorder, appLogger)

	resolver := routingapp.NewResolver(numberRepo, clientRepo, bookingRepo, threadRepo, binding, windows, recorder, appLogger)
	processor := routingapp.NewProcessor(
		numberRepo, resolver, messageRepo, threadRepo, sitterRepo,
		adapter, enforcer, cfg.ProviderSendTimeout(), cfg.PoolMismatchAutoResponse, appLogger,
	)

	sub, err := processor.Subscribe(nc)
	if err != nil {
		appLogger.Error("Failed to subscribe to inbound subject", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Unsubscribe() }()
	appLogger.Info("Inbound consumer subscribed", "subject", routingapp.SubjectInboundRaw)

	// HTTP surface.
	webhookHandler := gatewayhttp.NewWebhookHandler(adapters, nc, messageRepo, appLogger)
	bookingHandler := gatewayhttp.NewBookingHandler(threadRepo, binding, windows, registry, recorder, appLogger)
	router := gatewayhttp.NewRouter(webhookHandler, bookingHandler)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.GatewayHTTPPort),
		Handler: router,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("Gateway HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	appLogger.Info("Service components initialized. Service is ready.")

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

func selectionStrategy(cfg *config.Config) registryapp.SelectionStrategy {
	if cfg.PoolSelectionStrategy == "sticky_hash" {
		key := registryapp.ReuseByClient
		if cfg.StickyReuseKey == string(registryapp.ReuseByThread) {
			key = registryapp.ReuseByThread
		}
		return registryapp.StickyHashStrategy{ReuseKey: key}
	}
	return registryapp.LRUStrategy{}
}

func buildAdapter(cfg *config.Config, appLogger *slog.Logger) provider.Adapter {
	if cfg.ProviderName == "mock" {
		return provider.NewMockAdapter(appLogger)
	}
	return provider.NewTwilioAdapter(appLogger, cfg.TwilioAccountSID, cfg.TwilioAuthToken, &http.Client{
		Timeout: cfg.ProviderSendTimeout(),
	})
}

// watchGroup is a helper to monitor an errgroup for early exit.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
	}()
	return errCh
}
