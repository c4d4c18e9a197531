package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fractal-lba/banditd/internal/config"
	"github.com/fractal-lba/banditd/internal/journal"
	"github.com/fractal-lba/banditd/internal/metrics"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/fractal-lba/banditd/internal/pending"
	"github.com/fractal-lba/banditd/internal/server"
	"github.com/fractal-lba/banditd/pkg/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const sweepInterval = time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP decision service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Tracing.Enabled {
		tcfg := otel.DefaultConfig(cfg.Tracing.ServiceName)
		tcfg.CollectorEndpoint = cfg.Tracing.Endpoint
		tcfg.CollectorInsecure = cfg.Tracing.Insecure
		tcfg.SamplingRate = cfg.Tracing.SamplingRate
		tp, err := otel.InitTracer(ctx, tcfg)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otel.Shutdown(shutdownCtx, tp); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
		logger.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orch, err := orchestrator.New(cfg.Orchestrator(), logger, orchestrator.WithRecorder(m))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	reg.MustRegister(metrics.NewSummaryCollector(orch))

	store, err := pending.Open(ctx, cfg.Pending)
	if err != nil {
		return fmt.Errorf("failed to open pending store: %w", err)
	}
	defer store.Close()
	go sweepLoop(ctx, store, logger)

	opts := []server.Option{server.WithGatherer(reg)}
	if cfg.Journal.Dir != "" {
		if cfg.Journal.Replay {
			if _, err := replayJournal(ctx, cfg.Journal.Dir, orch, logger); err != nil {
				return err
			}
		}
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, server.WithJournal(j))
	}

	srv := server.New(server.Config{
		PendingTTL:      cfg.Pending.TTL,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		MetricsUser:     cfg.Server.MetricsUser,
		MetricsPassword: cfg.Server.MetricsPassword,
	}, orch, store, m, logger, opts...)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("pending_backend", cfg.Pending.Backend),
			zap.Strings("domains", orch.Domains()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s := orch.PerformanceSummary()
	logger.Info("server stopped",
		zap.Int64("total_decisions", s.TotalDecisions),
		zap.Int64("total_feedback", s.TotalFeedback))
	return nil
}

// sweepLoop purges expired pending decisions for the backends that do not
// expire them natively.
func sweepLoop(ctx context.Context, store pending.Store, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var (
			n   int64
			err error
		)
		switch s := store.(type) {
		case *pending.MemoryStore:
			n = int64(s.Sweep())
		case *pending.BoltStore:
			var swept int
			swept, err = s.Sweep()
			n = int64(swept)
		case *pending.PostgresStore:
			n, err = s.CleanupExpired(ctx)
		default:
			return // redis expires keys itself
		}
		if err != nil {
			logger.Warn("pending sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Debug("expired pending decisions swept", zap.Int64("count", n))
		}
	}
}
