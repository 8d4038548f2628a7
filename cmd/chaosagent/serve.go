// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/chaosagent/cmd/chaosagent/config"
	"github.com/AleutianAI/chaosagent/pkg/logging"
	"github.com/AleutianAI/chaosagent/services/chaosagent"
	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host/inproc"
	"github.com/AleutianAI/chaosagent/services/chaosagent/observability"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Global
	if err := applyServeFlags(cmd.Flags(), &cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.New(nil)

	tcfg := cfg.Telemetry
	tcfg.Registerer = metrics.Registry()
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	instruments, err := telemetry.NewInstruments(nil)
	if err != nil {
		return fmt.Errorf("create instruments: %w", err)
	}

	h := inproc.New(inproc.WithLogger(logger.Slog()))
	defer h.Close()

	module := chaosagent.New(
		chaosagent.WithLogger(logger.Slog()),
		chaosagent.WithMetrics(metrics),
		chaosagent.WithInstruments(instruments),
		chaosagent.WithWorkers(cfg.Watch.Workers),
		chaosagent.WithCatalogue(enhancer.NewCatalogue(cfg.FailureTypes()...)),
		chaosagent.WithModuleID(cfg.Server.ModuleID),
	)
	if err := module.Load(ctx, h); err != nil {
		return err
	}
	if err := module.Activate(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           newRouter(cfg, module),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting chaosagent server",
			slog.String("address", srv.Addr),
			slog.String("commands", cfg.Server.Prefix+"/"+module.ID()+"/{command}"),
			slog.String("version", chaosagent.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if demo {
		g.Go(func() error {
			return newDemoWorkload(h, demoRate, logger.Slog()).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down chaosagent server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := module.Unload(sctx); err != nil {
			errs = append(errs, fmt.Errorf("unload: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newRouter mounts the command API under the configured prefix and the
// module's Prometheus registry on /metrics.
func newRouter(cfg config.ChaosAgentConfig, module *chaosagent.Module) *gin.Engine {
	gin.SetMode(cfg.Server.GinMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if cfg.Server.GinMode == gin.DebugMode {
		router.Use(gin.Logger())
	}

	chaosagent.RegisterRoutes(router.Group(cfg.Server.Prefix), chaosagent.NewHandlers(module))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(module.Metrics().Registry(), promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "phase": module.Phase().String()})
	})
	return router
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "chaosagent",
		JSON:    cfg.JSON,
		Quiet:   cfg.Quiet,
		Color:   logging.ColorMode(cfg.Color),
		Output:  os.Stderr,
	}), nil
}
