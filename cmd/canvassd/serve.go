package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/api"
	"github.com/canvasshq/canvass/collab/webhook"
	"github.com/canvasshq/canvass/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Start the HTTP API, resume interrupted executions, and run the dial
worker pool and maintenance janitor until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	st, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hooks := webhook.New(webhook.Endpoints{
		ExtractURL: viper.GetString("collab.extract_url"),
		AnalyzeURL: viper.GetString("collab.analyze_url"),
		CallURL:    viper.GetString("collab.call_url"),
		NotifyURL:  viper.GetString("collab.notify_url"),
	}, webhook.WithLogger(logger))

	eng, err := engine.New(st, engine.Collaborators{
		Extractor: hooks,
		Analyzer:  hooks,
		Caller:    hooks,
		Notifier:  hooks,
	},
		engine.WithConfig(engineConfig()),
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              viper.GetString("server.addr"),
		Handler:           api.New(eng, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
	return nil
}

// engineConfig maps the resolved viper settings onto the engine config.
func engineConfig() canvass.Config {
	cfg := canvass.DefaultConfig()
	cfg.Concurrency = viper.GetInt("dial.concurrency")
	cfg.PollInterval = viper.GetDuration("dial.poll_interval")
	cfg.ShutdownTimeout = viper.GetDuration("server.shutdown_timeout")
	cfg.MaxCallAttempts = viper.GetInt("dial.max_attempts")
	cfg.RetryFloor = viper.GetDuration("dial.retry_floor")
	cfg.RetryCeiling = viper.GetDuration("dial.retry_ceiling")
	cfg.LeaseTTL = viper.GetDuration("dial.lease_ttl")
	cfg.DialTimeout = viper.GetDuration("dial.timeout")
	cfg.SweepSchedule = viper.GetString("sweep.schedule")
	cfg.StaleCallThreshold = viper.GetDuration("sweep.stale_threshold")
	cfg.DialRate = viper.GetFloat64("dial.rate")
	cfg.DialBurst = viper.GetInt("dial.burst")
	cfg.MaxConcurrentDials = viper.GetInt("dial.max_concurrent")
	return cfg
}
