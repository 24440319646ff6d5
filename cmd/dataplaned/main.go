package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/core"
	"github.com/SkynetNext/gateway-dataplane/internal/discovery"
	"github.com/SkynetNext/gateway-dataplane/internal/observability"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

func main() {
	xlog.Infof("Starting Gateway Dataplane...")
	if discovery.IsRunningInK8s() {
		xlog.Infof("Running in Kubernetes: pod=%s node=%s", discovery.GetPodName(), discovery.GetNodeName())
	}

	// 1. Load config (ConfigMap mount with env fallback)
	cfg := config.LoadConfigFromConfigMap()

	// 2. Distributed tracing (no-op unless enabled)
	if err := observability.InitTracing(&cfg.Observability); err != nil {
		xlog.Warnf("Tracing disabled: %v", err)
	}

	// 3. Optional Redis control plane (nil store when disabled)
	store, err := config.NewRedisStore(&cfg.Security.Redis)
	if err != nil {
		xlog.Warnf("Redis store unavailable, using local config only: %v", err)
	}

	// 4. Assemble and start the dataplane
	srv := core.NewServer(cfg, store)
	if err := srv.Start(); err != nil {
		xlog.Errorf("Failed to start dataplane: %v", err)
		os.Exit(1)
	}

	// 5. Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	xlog.Infof("Shutting down server...")
	srv.GracefulShutdown(time.Duration(cfg.Lifecycle.DrainWaitTime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := observability.Shutdown(ctx); err != nil {
		xlog.Warnf("Tracer shutdown: %v", err)
	}
	cancel()

	xlog.Infof("Server exited")
}
