package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/skylift/skylift/internal/analyzer"
	"github.com/skylift/skylift/internal/deploy"
	"github.com/skylift/skylift/internal/httpx"
	"github.com/skylift/skylift/internal/launcher"
	"github.com/skylift/skylift/internal/provision"
	"github.com/skylift/skylift/internal/remote"
	"github.com/skylift/skylift/internal/storage"
	"github.com/skylift/skylift/internal/verify"
	"github.com/skylift/skylift/internal/ws"
	"github.com/skylift/skylift/pkg/config"
	"github.com/skylift/skylift/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("skylift", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Error("failed to load aws configuration", "error", err)
		os.Exit(1)
	}

	var inference analyzer.Inference
	if cfg.LLMAPIKey != "" {
		inference = analyzer.NewInferenceClient(cfg, log)
	} else {
		log.Warn("no inference api key configured, analysis uses structure detection only")
	}
	projectAnalyzer := analyzer.New(inference, log)

	store := storage.NewFromConfig(awsCfg, cfg.Bucket, log)
	provisioner := provision.NewFromConfig(awsCfg, cfg, log)

	keyCandidates := cfg.KeyFileCandidates
	if len(keyCandidates) == 0 {
		keyCandidates = remote.KeyFileCandidates(cfg.KeyName)
	}
	dial := func(ctx context.Context, host string) (remote.Runner, error) {
		keyFile, err := remote.ResolveKeyFile(keyCandidates)
		if err != nil {
			return nil, err
		}
		return remote.Dial(ctx, host, cfg.SSHUser, keyFile,
			cfg.SSHAttempts, cfg.SSHBackoff, cfg.SSHTimeout, cfg.ExecTimeout, log)
	}
	launch := launcher.New(cfg.LaunchStrategy, cfg.RemoteRoot, dial, log)
	verifier := verify.New(log)

	hub := ws.NewHub()
	deploySvc := deploy.New(projectAnalyzer, store, provisioner, launch, verifier,
		ws.NewProgressSink(hub), cfg, log)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.New(log, deploySvc, verifier, hub, limiter, cfg.DeployRateLimit)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("skylift server starting", "addr", cfg.Addr, "strategy", cfg.LaunchStrategy)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("skylift server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
