package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"estate-harvester/api"
	"estate-harvester/services"
	"estate-harvester/utils"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP trigger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	logger.Info("=== Estate harvester starting ===",
		utils.String("addr", a.cfg.HTTPAddr),
		utils.Int("global_concurrency", a.cfg.GlobalConcurrency),
		utils.Int("per_source_concurrency", a.cfg.PerSourceConcurrency),
		utils.Int("max_concurrent_sources", a.cfg.MaxConcurrentSources),
		utils.Int("rate_limit_ms", a.cfg.RateLimitMs))

	sched, err := services.NewScheduler(a.orch, a.cfg.Triggers, logger)
	if err != nil {
		return err
	}
	sched.Start()

	srv := api.NewHTTPServer(a.cfg.HTTPAddr, api.SetupRouter(logger, a.orch, sched, a.registry))
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", utils.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler stop", utils.Err(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", utils.Err(err))
	}
	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Orchestrator shutdown", utils.Err(err))
	}
	logger.Info("=== Estate harvester stopped ===")
	return runErr
}
