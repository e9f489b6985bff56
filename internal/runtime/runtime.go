// Package runtime assembles the daemon: telemetry, storage, the recognition
// engine, the message bus, and the HTTP surface, with ordered shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/analytics"
	"github.com/kinyvoice/kinyvoice-core/internal/api"
	"github.com/kinyvoice/kinyvoice-core/internal/batch"
	"github.com/kinyvoice/kinyvoice-core/internal/bus"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/engine"
	"github.com/kinyvoice/kinyvoice-core/internal/natsserver"
	"github.com/kinyvoice/kinyvoice-core/internal/pipeline"
	"github.com/kinyvoice/kinyvoice-core/internal/store"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled. Components
// are torn down in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		if r.cfg.Bus.Embedded {
			embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
			if err != nil {
				return fmt.Errorf("failed to start embedded bus: %w", err)
			}
		}
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	// Model loading can take a while; serve traffic immediately and let
	// readiness report the state.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := eng.Load(ctx); err != nil {
			r.logger.Error("engine load failed", slog.String("error", err.Error()))
			return
		}
		r.logger.Info("engine ready", slog.String("mode", r.cfg.Engine.Mode))
	}()

	pipe := pipeline.New(r.cfg, eng, st, busClient, r.logger)
	runner := batch.NewRunner(ctx, r.cfg.Batch, pipe, r.logger)
	server := api.NewServer(r.cfg, pipe, runner, analytics.New(st), st, eng, busClient, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	var metricsServer *http.Server
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	runner.Close()
	r.wg.Wait()

	eng.Unload()
	if err := st.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}
	if busClient != nil {
		busClient.Close()
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}
