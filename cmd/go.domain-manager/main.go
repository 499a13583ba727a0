package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/caddy"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/config"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/dnscheck"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/environment"
	ll "gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/logger"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/queue"
	srv "gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/server/http"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/service/domain"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/storage/file"
)

//nolint:gochecknoglobals
var (
	version   = "unknown"
	buildTime = "unknown"
)

func main() {
	appConfig, err := config.New()
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("failed to read app config: %v", err)
	}

	logger, err := ll.New(version, appConfig.Env, appConfig.Logger.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	ctx = environment.CtxWithEnv(ctx, appConfig.Env)
	ctx = environment.CtxWithVersion(ctx, version)
	ctx = environment.CtxWithBuildTime(ctx, buildTime)

	serverIP := appConfig.ServerIP
	if serverIP == "" {
		serverIP, err = detectServerIP(ctx)
		if err != nil {
			logger.Warn("could not detect server public IP, A record verification will fail", zap.Error(err))
		}
	}
	if serverIP != "" {
		logger.Info("server public IP", zap.String("ip", serverIP))
	}

	docs := file.NewDocuments(appConfig.Storage.QueueFile, appConfig.Storage.SnapshotFile)
	tokens := file.NewTokens(appConfig.Storage.TokensDir)

	pendingQueue, err := queue.New(docs, logger)
	if err != nil {
		logger.Error("failed to restore pending queue", zap.Error(err))
		return
	}

	configurator := caddy.NewConfigurator(
		caddy.NewClient(appConfig.Caddy.AdminURL, appConfig.Caddy.Timeout),
		docs,
		logger,
		appConfig.Caddy.HTTPSPort,
		appConfig.Caddy.DisableHTTPS,
	)
	if err := configurator.Init(ctx); err != nil {
		logger.Error("failed to init proxy configurator", zap.Error(err))
		return
	}

	checker := dnscheck.New(appConfig.DNS.Resolvers, appConfig.DNS.Timeout, logger)

	manager := domain.New(pendingQueue, configurator, checker, tokens, logger, domain.Options{
		ServerIP:        serverIP,
		DefaultUpstream: appConfig.SaaSUpstream,
		PendingTTL:      appConfig.Tickers.PendingTTL,
	})

	httpServer, err := srv.NewServer(logger, appConfig, manager)
	if err != nil {
		logger.Error("failed to create http server", zap.Error(err))
		return
	}

	gr, appctx := errgroup.WithContext(ctx)
	gr.Go(func() error {
		return httpServer.Serve(appctx)
	})

	gr.Go(func() error {
		logger.Info("pending verification loop started",
			zap.Duration("interval", appConfig.Tickers.PendingPoll))
		return runLoop(appctx, appConfig.Tickers.PendingPoll, logger, "pending verification", func(ctx context.Context) {
			manager.CheckPending(ctx)
		})
	})

	gr.Go(func() error {
		logger.Info("domain audit loop started",
			zap.Duration("interval", appConfig.Tickers.DomainAudit))
		return runLoop(appctx, appConfig.Tickers.DomainAudit, logger, "domain audit", func(ctx context.Context) {
			manager.Audit(ctx)
		})
	})

	if err := gr.Wait(); err != nil {
		logger.Error("application exited with error", zap.Error(err))
	}
}

// runLoop ticks fn on the given interval until ctx is cancelled.
// A panicking tick is logged and the loop keeps running.
func runLoop(ctx context.Context, interval time.Duration, logger *zap.Logger, name string, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick(ctx, logger, name, fn)
		}
	}
}

func tick(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduler tick panicked",
				zap.String("loop", name),
				zap.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	fn(ctx)
	logger.Debug("scheduler tick finished",
		zap.String("loop", name),
		zap.Duration("duration", time.Since(start)),
	)
}

// detectServerIP asks ipify for our public address when SERVER_IP is
// not configured.
func detectServerIP(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "https://api.ipify.org", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build ipify request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query ipify: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipify returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ipify response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
