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

	"github.com/spf13/cobra"

	"github.com/aretw0/diffuse"
	"github.com/aretw0/diffuse/internal/config"
	httpAdapter "github.com/aretw0/diffuse/pkg/adapters/http"
	"github.com/aretw0/diffuse/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/diffuse/pkg/adapters/redis"
	"github.com/aretw0/diffuse/pkg/adapters/websocket"
	"github.com/aretw0/diffuse/pkg/observability"
	"github.com/aretw0/diffuse/pkg/ports"
	"github.com/aretw0/diffuse/pkg/service"
	"github.com/aretw0/diffuse/pkg/session"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Long: `Starts the diffusion server: one-shot and sampling endpoints over HTTP, streamed
previews over WebSocket at /diffuse/ws, and Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		slot, closeSlot, err := newSlot(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeSlot()

		metrics := observability.New()
		svc := service.New(
			service.WithSlot(slot),
			service.WithLogger(logger),
			service.WithMetrics(metrics),
			service.WithLimits(service.Limits{
				StreamMaxSide:  cfg.StreamMaxSide,
				OneShotMaxSide: cfg.OneShotMaxSide,
				OneShotQuality: cfg.OneShotQuality,
				DefaultQuality: cfg.DefaultQuality,
			}),
		)
		sessions := session.NewRegistry(svc, session.WithStartTimeout(cfg.StreamStartTimeout))

		handler := httpAdapter.NewHandler(svc, sessions, httpAdapter.Config{
			Version:        diffuse.Version,
			ReadLimitBytes: cfg.ReadLimitBytes,
			WebSocket: websocket.Config{
				WriteWait:      cfg.WriteTimeout,
				MaxMessageSize: cfg.ReadLimitBytes,
				PongWait:       cfg.StreamIdleTimeout,
			},
			Logger: logger,
		})

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting diffuse server", "addr", srv.Addr, "version", diffuse.Version)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("Start shutdown", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			// Hijacked WebSocket connections are invisible to srv.Shutdown.
			if err := sessions.Shutdown(ctx); err != nil {
				logger.Warn("Sessions did not stop in time", "err", err)
			}
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("Error killing server", "err", err)
				}
			}
			if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("Diffuse server stopped gracefully")
			return nil
		}
	},
}

// newSlot picks Redis when configured and falls back to memory.
func newSlot(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.ScheduleSlot, func(), error) {
	if cfg.Redis.Addr == "" {
		return memory.NewSlot(), func() {}, nil
	}

	slot, err := redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		redisAdapter.WithTTL(cfg.Redis.TTL),
		redisAdapter.WithPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := slot.Ping(pingCtx); err != nil {
		// The slot is diagnostic only; keep serving and let writes fail softly.
		logger.Warn("Redis unreachable, last-schedule lookups may fail", "addr", cfg.Redis.Addr, "err", err)
	} else {
		logger.Info("Recording schedules in Redis", "addr", cfg.Redis.Addr, "key", slot.Key())
	}
	return slot, func() {
		if err := slot.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "err", err)
		}
	}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides config)")
}
