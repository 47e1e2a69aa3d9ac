package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/ash/internal/api"
	"github.com/teemow/ash/internal/config"
	"github.com/teemow/ash/internal/logging"
	"github.com/teemow/ash/internal/reminder"
	"github.com/teemow/ash/internal/server"
)

// serveOptions are command line overrides of the environment configuration.
type serveOptions struct {
	httpAddr       string
	metricsAddr    string
	disableMetrics bool
	noReminders    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		Long: `Start the ash API server.

Routes:
  POST /api/chat                     run one conversational turn
  GET  /api/sessions                 list conversation sessions
  GET  /api/sessions/{id}/messages   replay a session
  GET  /api/events                   events created through ash
  POST /api/availability             compute free slots from busy intervals
  POST /api/transcribe               transcribe audio (optionally chat)
  GET  /api/ws                       WebSocket chat
  GET  /healthz, /readyz             health probes

Prometheus metrics are served on a separate listener (METRICS_ADDR).
Due reminders are emailed by a background sweeper every minute.

Configuration is read from the environment. See .env.example.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			applyServeOptions(cfg, cmd, opts)
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP listen address (overrides ASH_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Metrics listen address (overrides METRICS_ADDR)")
	cmd.Flags().BoolVar(&opts.disableMetrics, "disable-metrics", false, "Do not start the metrics server")
	cmd.Flags().BoolVar(&opts.noReminders, "no-reminders", false, "Do not run the reminder sweeper")

	return cmd
}

// applyServeOptions lets explicitly set flags win over the environment.
func applyServeOptions(cfg *config.Config, cmd *cobra.Command, opts serveOptions) {
	if cmd.Flags().Changed("http-addr") {
		cfg.HTTPAddr = opts.httpAddr
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.disableMetrics {
		cfg.Metrics.Enabled = false
	}
	if opts.noReminders {
		cfg.Reminders.Enabled = false
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(shutdownCtx, cfg, logger, appOptions{requireModel: true, serving: true})
	if err != nil {
		return err
	}
	defer a.close()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && a.provider.Enabled() && a.provider.PrometheusEnabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: a.provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	health := server.NewHealthChecker(a.serverContext)
	health.AddCheck("database", a.store.Ping)

	handler := api.NewHandler(a.assistant, api.HandlerConfig{
		TurnTimeout:    cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        a.provider.Metrics(),
		Logger:         logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    api.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Health:         health,
		Logger:         logger,
	})
	if cfg.IsDevelopment() {
		logger.Warn("ASH_ALLOWED_ORIGINS is empty; accepting requests from any origin")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		logger.Info("starting API server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	var sweepers sync.WaitGroup
	switch {
	case !cfg.Reminders.Enabled:
		logger.Info("reminder sweeper disabled")
	case a.mailer == nil:
		logger.Warn("no mailer configured; reminders will be stored but not delivered")
	default:
		sweeper := reminder.NewSweeper(a.store, a.mailer, reminder.Config{
			Interval: cfg.Reminders.Interval,
			Location: a.assistant.Config().Location,
			Metrics:  a.provider.Metrics(),
		}, logging.NewSlogAdapter(logger))
		sweepers.Add(1)
		go func() {
			defer sweepers.Done()
			if err := sweeper.Run(gctx); err != nil {
				logger.Error("reminder sweeper stopped", logging.Err(err))
			}
		}()
	}

	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	sweepers.Wait()
	return err
}
