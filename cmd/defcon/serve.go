package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/api"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/config"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/events"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func runServeCmd(args []string, _, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	cfg := config.Load()
	cmd.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	cmd.StringVar(&cfg.DeploymentPath, "config", cfg.DeploymentPath, "Deployment YAML file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("defcon stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the daemon until ctx is cancelled or the listener fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	report := rt.machine.Report()
	logger.Info("governance state restored",
		"status", report.Status,
		"owner", report.Owner,
		"oracle", report.Oracle,
		"sequence", report.Sequence,
		"store", cfg.StoreDriver,
	)

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.Insecure = cfg.OTelInsecure
	obs, err := observability.New(ctx, otelCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", "error", err)
		}
	}()
	if err := obs.ObserveStatus(func() int64 { return rt.machine.Status().Level() }); err != nil {
		return err
	}

	// runCtx is the base context of every request. Cancelling it ends open
	// event streams before Shutdown waits on them.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	var wg sync.WaitGroup

	if cfg.RedisAddr != "" {
		client := events.NewRedisClient(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		defer func() { _ = client.Close() }()
		pub := events.NewRedisPublisher(client, rt.machine)
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, feed will retry on publish", "addr", cfg.RedisAddr, "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Run(runCtx, rt.machine.Log()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer feed stopped", "error", err)
			}
		}()
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set: every mutation will be rejected")
	}
	limiter := api.NewRateLimiter(rt.deployment.RateLimit.RPS, rt.deployment.RateLimit.Burst)
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.Run(runCtx)
	}()

	srv := api.NewServer(api.Config{
		Machine:       rt.machine,
		Auth:          api.NewAuthenticator(cfg.JWTSecret),
		Limiter:       limiter,
		Observability: obs,
		Logger:        logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			cancelRun()
			wg.Wait()
			return err
		}
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	return nil
}
