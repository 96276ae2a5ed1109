// Package realtime wires the full facility monitoring pipeline together:
// log store, change detector, broadcaster, payment terminal, exit security
// and the web server, and runs them until shutdown.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/parkwatch/parkwatch-go/internal/api"
	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/entry"
	"github.com/parkwatch/parkwatch-go/internal/events"
	"github.com/parkwatch/parkwatch-go/internal/gate"
	"github.com/parkwatch/parkwatch-go/internal/logging"
	"github.com/parkwatch/parkwatch-go/internal/monitor"
	"github.com/parkwatch/parkwatch-go/internal/observability"
	"github.com/parkwatch/parkwatch-go/internal/payment"
	"github.com/parkwatch/parkwatch-go/internal/security"
)

// Run starts all services and blocks until SIGINT/SIGTERM or a fatal
// component failure.
func Run(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Init()
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
		logging.SetLevel(level)
	}

	logger := logging.Structured()
	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, "main", level)
		if err != nil {
			return fmt.Errorf("failed to open main log file: %w", err)
		}
		defer func() { _ = closeLog() }()
		logger = fileLogger
	}

	if settings.Store.Path != "" {
		if err := os.MkdirAll(settings.Store.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory %s: %w", filepath.Clean(settings.Store.Path), err)
		}
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store := datastore.New(settings.Store, logger)
	if err := store.EnsureFiles(); err != nil {
		return fmt.Errorf("failed to initialize log store: %w", err)
	}

	broadcaster := events.NewBroadcaster(settings.Realtime.ActivityBufferSize, logger)
	defer broadcaster.Stop()

	gates := gate.NewController(gate.NewLogActuator(logger), logger)
	defer gates.Wait()

	escalator := security.NewEscalator(store, gates, settings.Realtime.Exit, logger, metrics.Security)
	evaluator := security.NewEvaluator(store, escalator, gates, settings.Realtime.Exit, logger, metrics.Security)

	gateOpen := time.Duration(settings.Realtime.Exit.GateOpenDuration) * time.Second
	registrar := entry.NewRegistrar(store, gates, settings.Realtime.Entry, gateOpen, logger)

	payments := payment.NewService(store, settings.Pricing, logger, metrics.Payment)
	payments.OnPaid(func(plate string) {
		escalator.Reset(plate)
		gates.Pulse(gate.SignalOpen, gateOpen)
	})

	detector := monitor.New(store, broadcaster, settings.Pricing, settings.Realtime.Monitor, logger, metrics.Monitor)

	errCh := make(chan error, 3)

	go func() {
		errCh <- detector.Run(ctx)
	}()

	if settings.Terminal.Enabled {
		terminal := payment.NewTerminalServer(settings.Terminal.Listen, payments, logger, metrics.Payment)
		go func() {
			errCh <- terminal.Serve(ctx)
		}()
	}

	if settings.WebServer.Enabled {
		controller := api.New(settings, store, broadcaster, registrar, evaluator, escalator, payments, logger, metrics)
		go func() {
			errCh <- controller.Start(ctx)
		}()
	}

	logger.Info("facility monitor running",
		"facility", settings.Main.Name,
		"store", settings.Store.Path)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		// Give components a moment to observe cancellation.
		<-time.After(100 * time.Millisecond)
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("component failed: %w", err)
		}
		return nil
	}
}
