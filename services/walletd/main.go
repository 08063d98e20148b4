package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"agentvault/observability/logging"
	telemetry "agentvault/observability/otel"
	"agentvault/services/walletd/bootstrap"
	"agentvault/services/walletd/config"
	"agentvault/services/walletd/server"
)

func main() {
	var (
		cfgPath  string
		inMemory bool
	)
	flag.StringVar(&cfgPath, "config", "services/walletd/config.yaml", "path to walletd configuration file")
	flag.BoolVar(&inMemory, "in-memory", false, "keep ledger state in memory (dev only)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("walletd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("AGENTVAULT_ENV"))
	logger, logCloser := logging.SetupWithFile("walletd", env, cfg.LogFile, logging.FileOptions{MaxBackups: 5, MaxAgeDays: 14, Compress: true})
	defer logCloser.Close()

	if inMemory && env != "dev" {
		log.Fatalf("walletd: --in-memory requires AGENTVAULT_ENV=dev")
	}

	rt, err := bootstrap.Build(cfg, bootstrap.Options{Logger: logger, InMemory: inMemory})
	if err != nil {
		log.Fatalf("walletd: bootstrap: %v", err)
	}
	defer rt.Close()

	telemetryCfg := telemetry.ConfigFromEnv("walletd", env)
	telemetryCfg.Network = rt.Engine.Config().Domain.Network
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("walletd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ShutdownTimeout: cfg.Shutdown.Duration,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimits: map[string]server.RateLimit{
			server.GroupRelay:   server.RateLimit(cfg.RateLimits.Relay),
			server.GroupExecute: server.RateLimit(cfg.RateLimits.Execute),
			server.GroupRead:    server.RateLimit(cfg.RateLimits.Read),
		},
		Idempotency: rt.Idempotency,
	}, rt.Engine, rt.Journal, logger)
	if err != nil {
		log.Fatalf("walletd: server: %v", err)
	}

	logger.Info("walletd: ledger ready",
		slog.String("network", rt.Engine.Config().Domain.Network),
		slog.Uint64("tick", rt.Clock.Now()),
		slog.Uint64("journalSeq", rt.Journal.Seq()))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("walletd: http server error", slog.Any("error", err))
		os.Exit(1)
	}
}
