package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/featurestore/pkg/api"
	"github.com/platinummonkey/featurestore/pkg/config"
	"github.com/platinummonkey/featurestore/pkg/events"
	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
	"github.com/platinummonkey/featurestore/pkg/policy"
	"github.com/platinummonkey/featurestore/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithFields(map[string]interface{}{
		"service": "featurestore",
		"version": version,
	})

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("Feature store exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	// OpenTelemetry
	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", providers.Shutdown)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	// Category policy
	policies, err := loadPolicy(cfg.Policy, logger)
	if err != nil {
		return err
	}
	if closer, ok := policies.(io.Closer); ok {
		shutdown.RegisterShutdownFunc("policy watcher", func(context.Context) error { return closer.Close() })
	}
	current := policies.Current()
	logger.WithFields(map[string]interface{}{
		"write_categories": current.WriteCategories(),
		"read_categories":  current.ReadCategories(),
	}).Info("Category policy loaded")

	// Storage
	backend, err := storage.Open(ctx, cfg.Storage, nil, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error { return backend.Close() })
	logger.WithFields(map[string]interface{}{
		"storage": cfg.Storage.Type,
		"cache":   cfg.Storage.CacheEnabled,
	}).Info("Storage initialized")

	// Events
	publisher := events.NewPublisher(cfg.Events, logger)
	if closer, ok := publisher.(io.Closer); ok {
		shutdown.RegisterShutdownFunc("event publisher", func(context.Context) error { return closer.Close() })
	}

	service := features.NewService(backend.Store, policies,
		features.WithPublisher(publisher),
		features.WithLogger(logger),
		features.WithMetrics(metrics),
		features.WithBatchConcurrency(cfg.Features.BatchReadConcurrency),
	)

	// Health
	checker := observability.NewHealthChecker(version)
	checker.Register(cfg.Storage.Type, true, backend.Ping)
	checker.RegisterRedis(backend.Redis)
	if cfg.Observability.HealthProbeSchedule != "" {
		stop, err := checker.StartProbes(cfg.Observability.HealthProbeSchedule, metrics, logger)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("health probes", func(context.Context) error {
			stop()
			return nil
		})
	}

	apiServer := api.NewServer(api.Options{
		Service:            service,
		Store:              backend,
		Tables:             tableNames(backend),
		Logger:             logger,
		Metrics:            metrics,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     opsMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown.AddServer(httpServer)
	shutdown.AddServer(opsServer)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A server that fails to listen stops the process
	failed := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, opsServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				failed <- fmt.Errorf("server %s: %w", srv.Addr, err)
				cancel()
			}
		}(srv)
	}

	shutdownErr := shutdown.WaitForShutdown(runCtx)
	select {
	case err := <-failed:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}

// loadPolicy builds the category policy source. A policy file wins over the
// inline lists and may be watched for changes.
func loadPolicy(cfg config.PolicyConfig, logger *observability.Logger) (policy.Source, error) {
	switch {
	case cfg.File != "" && cfg.Watch:
		w, err := policy.NewWatcher(cfg.File, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to watch category policy: %w", err)
		}
		return w, nil
	case cfg.File != "":
		p, err := policy.LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return policy.New(cfg.WriteCategories, cfg.ReadCategories), nil
	}
}

func tableNames(backend *storage.Backend) []string {
	if backend.Manager == nil {
		return nil
	}
	names := make([]string, 0, len(features.EntityTypes))
	for _, name := range backend.Manager.TableNames() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
