package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oestradiol/Voyager-Backend/internal/dns"
	"github.com/oestradiol/Voyager-Backend/internal/docker"
	"github.com/oestradiol/Voyager-Backend/internal/git"
	httpx "github.com/oestradiol/Voyager-Backend/internal/http"
	"github.com/oestradiol/Voyager-Backend/internal/notify"
	"github.com/oestradiol/Voyager-Backend/internal/service/deploy"
	"github.com/oestradiol/Voyager-Backend/internal/service/monitor"
	"github.com/oestradiol/Voyager-Backend/internal/workspace"
	"github.com/oestradiol/Voyager-Backend/internal/ws"
	"github.com/oestradiol/Voyager-Backend/pkg/config"
	"github.com/oestradiol/Voyager-Backend/pkg/logger"
)

func main() {
	bootLog := logger.New("voyager", slog.LevelInfo)
	cfg, err := config.LoadVoyagerConfig()
	if err != nil {
		bootLog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("voyager", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open deployment store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	dockerClient, err := docker.New(cfg.DockerHost, log)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable", "error", err)
	}

	work, err := workspace.New(cfg.DeploymentsDir)
	if err != nil {
		log.Error("failed to prepare deployments directory", "dir", cfg.DeploymentsDir, "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	deploySvc, err := deploy.New(deploy.Dependencies{
		Source:     git.NewCloner(cfg.GitBaseURL, cfg.GitUsername, cfg.GitToken),
		Workspace:  work,
		Images:     dockerClient,
		Containers: dockerClient,
		Names:      nameService(cfg, log),
		Notifier:   notifier(cfg, log),
		Store:      store,
		Events:     hub,
	}, deploy.Options{
		HostIP:        cfg.HostIP,
		CreateTimeout: cfg.CreateTimeout,
	}, log)
	if err != nil {
		log.Error("failed to configure deployment service", "error", err)
		os.Exit(1)
	}

	if ctl := monitor.New(store, dockerClient, log, cfg.MonitorInterval, cfg.MonitorTimeout); ctl != nil {
		go ctl.Run(ctx)
	}

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, deploySvc, httpx.Options{
		APIKey:     cfg.APIKey,
		BaseDomain: cfg.BaseDomain,
		RateLimit:  cfg.RateLimitRequests,
		RateWindow: cfg.RateLimitWindow,
		Limiter:    limiter,
		TrustProxy: cfg.TrustProxyHeaders,
		Events:     hub,
		Checks: map[string]httpx.HealthCheck{
			"store":  store.Ping,
			"docker": dockerClient.Ping,
		},
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("voyager api starting", "addr", cfg.Addr, "development", cfg.Development, "base_domain", cfg.BaseDomain)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.CreateTimeout)
		defer cancelDrain()
		log.Info("waiting for running deployments")
		if err := deploySvc.Wait(drainCtx); err != nil {
			log.Error("deployments still running at exit", "error", err)
		}
		log.Info("voyager api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func nameService(cfg config.VoyagerConfig, log *slog.Logger) deploy.NameService {
	if cfg.Development || cfg.CloudflareToken == "" || cfg.CloudflareZone == "" {
		log.Warn("cloudflare disabled, DNS records are not created", "development", cfg.Development)
		return dns.Development{}
	}
	cf, err := dns.NewCloudflare(dns.Options{Token: cfg.CloudflareToken, ZoneID: cfg.CloudflareZone})
	if err != nil {
		log.Error("invalid cloudflare configuration", "error", err)
		os.Exit(1)
	}
	return cf
}

func notifier(cfg config.VoyagerConfig, log *slog.Logger) deploy.Notifier {
	if strings.TrimSpace(cfg.DiscordWebhook) == "" {
		return notify.Noop{}
	}
	d, err := notify.NewDiscord(cfg.DiscordWebhook, nil)
	if err != nil {
		log.Warn("discord notifications disabled", "error", err)
		return notify.Noop{}
	}
	return d
}
