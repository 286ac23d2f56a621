// Command server exposes contribution rounds, peer voting and leaderboards over HTTP.
//
//	@title			Contribution Rounds API
//	@version		1.0
//	@description	Periodic contribution rounds scored from repository activity and settled by peer votes on a ledger contract.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/adapters"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/config"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/coordination"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
)

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := monitoring.NewLogger(cfg.LogLevel)
	slog.SetDefault(appLogger.Logger)
	appMetrics := monitoring.NewMetrics()

	if err := run(cfg, appLogger, appMetrics); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *monitoring.Logger, appMetrics *monitoring.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer apperrors.SafeClose(db, "database")

	redisClient, err := coordination.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		// degrade to in-process locks and limits rather than refuse to start
		slog.Warn("Redis unavailable, continuing without it", "error", err)
	}
	defer apperrors.SafeClose(redisClient, "redis")

	githubAdapter := adapters.NewGitHubAdapter(cfg.GitHubAPIURL, cfg.GitHubRatePerSec,
		adapters.WithMaxPages(cfg.GitHubMaxPages),
		adapters.WithObservability(appLogger, appMetrics))
	defer apperrors.SafeClose(githubAdapter, "github adapter")

	deps := dependencies{
		db:        db,
		redis:     redisClient,
		collector: githubAdapter,
		pools:     githubAdapter.GetPoolStats,
	}

	switch cfg.Ledger.Mode {
	case config.LedgerMemory:
		slog.Warn("Using in-memory ledger; votes and settlements are lost on restart")
		deps.ledger = ledger.NewMemory(appLogger, appMetrics)
	default:
		eth, err := ledger.DialEth(ctx, ledger.EthConfig{
			RPCURL:       cfg.Ledger.RPCURL,
			BytecodePath: cfg.Ledger.BytecodePath,
			Timeout:      cfg.Ledger.Timeout,
		}, appLogger, appMetrics)
		if err != nil {
			return err
		}
		defer eth.Close()
		deps.ledger = eth
		deps.breaker = eth.BreakerStats
	}

	srv := newServer(cfg, deps, appLogger, appMetrics)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "ledger", cfg.Ledger.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("Server exited")
	return nil
}
