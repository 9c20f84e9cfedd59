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

	"github.com/prometheus/client_golang/prometheus"

	"trustindex/internal/index/batch"
	indexhandler "trustindex/internal/index/handler"
	indexmetrics "trustindex/internal/index/metrics"
	"trustindex/internal/index/reducer"
	"trustindex/internal/index/rubric"
	"trustindex/internal/index/service"
	"trustindex/internal/index/store"
	"trustindex/internal/index/transport/nearrpc"
	"trustindex/internal/platform/config"
	"trustindex/internal/platform/httpserver"
	"trustindex/internal/platform/logger"
	"trustindex/internal/platform/metrics"
	httptransport "trustindex/internal/transport/http"
	"trustindex/pkg/platform/circuit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("trustindex stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	wl, err := loadWhitelist(cfg.Index)
	if err != nil {
		return err
	}

	indexMetrics := indexmetrics.New(prometheus.DefaultRegisterer)
	history, err := store.NewHistory(infra.kv)
	if err != nil {
		return err
	}
	rubrics := rubric.Default()
	red, err := reducer.New(cfg.Index.Reducer, history, rubrics)
	if err != nil {
		return err
	}

	caller, err := nearrpc.New(cfg.Index.RPCURL,
		nearrpc.WithRetries(cfg.Index.RPCRetries, cfg.Index.RPCBackoff),
		nearrpc.WithLogger(log),
	)
	if err != nil {
		return err
	}
	executor, err := batch.NewExecutor(caller,
		batch.WithProbeTimeout(cfg.Index.ProbeTimeout),
		batch.WithMaxInFlight(cfg.Index.MaxInFlight),
		batch.WithBreakerOptions(
			circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			circuit.WithCooldown(cfg.Breaker.Cooldown),
		),
		batch.WithLogger(log),
		batch.WithMetrics(indexMetrics),
	)
	if err != nil {
		return err
	}

	svc, err := service.New(wl, executor, history,
		service.WithRubrics(rubrics),
		service.WithReducer(red),
		service.WithEventPublisher(infra.publisher),
		service.WithLogger(log),
		service.WithMetrics(indexMetrics),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Index:   indexhandler.New(svc, log),
		Metrics: metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		Health:  infra.health,
		Logger:  log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting trustindex",
			"addr", cfg.Server.Addr,
			"deployment", cfg.Index.Deployment,
			"store", cfg.Store.Backend,
			"reducer", cfg.Index.Reducer,
			"providers", len(wl.Entries()),
			"probes_per_account", wl.ProbeCount(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
