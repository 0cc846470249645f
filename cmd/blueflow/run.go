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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/blueflow/internal/config"
	"github.com/aretw0/blueflow/internal/logging"
	"github.com/aretw0/blueflow/internal/observability"
	"github.com/aretw0/blueflow/pkg/flow"
	"github.com/aretw0/blueflow/pkg/telegram"
)

const shutdownTimeout = 10 * time.Second

// pollTimeout is the long-poll timeout sent to getUpdates.
const pollTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	Long: `Starts the bot in polling or webhook mode. Every flag can also be set through
an environment variable named BLUEFLOW_<FLAG>, e.g. BLUEFLOW_TOKEN or
BLUEFLOW_WEBHOOK_SECRET.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger := logging.New(level, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	config.RegisterFlags(runCmd.Flags())
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promReg)
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	client := telegram.New(cfg.Token,
		telegram.WithLogger(logger),
		telegram.WithConcurrency(cfg.Concurrency),
		telegram.WithHooks(metrics.ClientHooks()),
	)

	bot, err := build(ctx, cfg, logger, metrics.FlowHooks())
	if err != nil {
		return err
	}
	defer bot.Close()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serve(ctx, srv, logger, "metrics") })
	}

	switch cfg.Mode {
	case config.ModeWebhook:
		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           bot.flow.WebhookHandler(client, cfg.WebhookSecret),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serve(ctx, srv, logger, "webhook") })
	default:
		g.Go(func() error {
			return bot.flow.StartPolling(ctx, client, flow.PollOptions{Timeout: pollTimeout})
		})
	}

	logger.Info("blueflow started", "mode", cfg.Mode, "flow", cfg.Flow, "nodes", len(bot.flow.Graph().Nodes))
	err = g.Wait()
	logger.Info("blueflow stopped")
	return err
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "server", name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", "server", name, "err", err)
		return srv.Close()
	}
	return nil
}
