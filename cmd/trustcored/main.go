// trustcored serves the trust-aware execution and escalation core over HTTP:
// trust scoring, execution-mode selection, the escalation state machine, and
// the competitive bid market, configured by a workflow manifest.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/industriverse/trustcore/audit"
	"github.com/industriverse/trustcore/clock"
	"github.com/industriverse/trustcore/config"
	"github.com/industriverse/trustcore/directory"
	"github.com/industriverse/trustcore/escalation"
	"github.com/industriverse/trustcore/events"
	"github.com/industriverse/trustcore/market"
	"github.com/industriverse/trustcore/mode"
	"github.com/industriverse/trustcore/observability"
	"github.com/industriverse/trustcore/server"
)

func main() {
	manifestPath := flag.String("manifest", envOr("TRUSTCORE_MANIFEST", "manifest.yaml"),
		"path to the workflow manifest")
	listenAddr := flag.String("listen", os.Getenv("TRUSTCORE_LISTEN"),
		"listen address (overrides the manifest)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(*manifestPath, *listenAddr, logger); err != nil {
		logger.Error("trustcored exited", "error", err)
		os.Exit(1)
	}
}

func run(manifestPath, listenAddr string, logger *slog.Logger) error {
	manifest, err := config.Load(manifestPath)
	if err != nil {
		return err
	}
	logger.Info("manifest loaded",
		"workflow_id", manifest.WorkflowID, "levels", len(manifest.Escalation))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	sysClock := clock.System{}
	recorder := audit.NewRecorder(sysClock)
	sinks := []events.Sink{recorder}
	if url := manifest.Events.NATSURL; url != "" {
		natsSink, conn, err := events.Connect(url)
		if err != nil {
			return err
		}
		defer conn.Close()
		sinks = append(sinks, natsSink)
		logger.Info("event delivery via NATS", "url", url)
	}
	sink := events.NewMulti(sinks...)

	selector, err := mode.NewSelector(mode.Config{
		Thresholds:      manifest.Thresholds(),
		ConfidenceFloor: manifest.ModeSelection.ConfidenceFloor,
		UpgradeDwell:    manifest.ModeSelection.UpgradeDwell,
		Sink:            sink,
		Clock:           sysClock,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	breakers := market.NewBreakerSet(
		manifest.Breakers.FailureThreshold,
		manifest.Breakers.TrustFloor,
		manifest.BreakerCooldown(),
		sysClock,
	)

	mkt, err := market.NewMarket(manifest.MarketConfig(), sink, sysClock,
		market.WithLogger(logger),
		market.WithMetrics(metrics),
		market.WithBreakers(breakers),
	)
	if err != nil {
		return err
	}

	registryDir := directory.NewStatic()
	var pool escalation.ResolverDirectory = registryDir
	if ttl := manifest.DirectoryCacheTTL(); ttl > 0 {
		pool = directory.NewCached(registryDir, ttl)
	}

	coordinator, err := escalation.NewCoordinator(manifest.Policy(), mkt, pool, sink, sysClock,
		escalation.WithCoordinatorLogger(logger),
		escalation.WithCoordinatorMetrics(metrics),
		escalation.WithCoordinatorBreakers(breakers),
	)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Components{
		Selector:    selector,
		Coordinator: coordinator,
		Market:      mkt,
		Directory:   registryDir,
		Audit:       recorder,
		Gatherer:    registry,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if listenAddr == "" {
		listenAddr = manifest.Server.ListenAddr
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trustcored listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel() slog.Level {
	switch os.Getenv("TRUSTCORE_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
