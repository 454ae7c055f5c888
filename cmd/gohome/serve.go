package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
	"github.com/joshp123/gohome-electra/internal/plugins"
	"github.com/joshp123/gohome-electra/internal/router"
	"github.com/joshp123/gohome-electra/internal/server"
)

const shutdownTimeout = 10 * time.Second

var allowAllPlugins bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and HTTP servers and all enabled plugins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&allowAllPlugins, "all-plugins", false, "run every compiled plugin regardless of config")
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Core.LogLevel)

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}

	compiled := plugins.Compiled(cfg, host)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, allowAllPlugins); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, allowAllPlugins)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	registry := core.MetricsRegistry(active)
	registry.MustRegister(server.MetricsCollectors()...)
	registry.MustRegister(entry.MetricsCollectors()...)
	registry.MustRegister(flow.MetricsCollectors()...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.Warn("failed to write dashboards", "dir", cfg.Core.DashboardDir, "err", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/health/plugins", server.PluginHealthHandler(active))
	mux.Handle("/metrics", server.MetricsHandler(registry))
	mux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux)

	logger.Info("gohome starting", "grpc", cfg.Core.GRPCAddr, "http", cfg.Core.HTTPAddr, "plugins", len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		id := p.ID()
		g.Go(func() error {
			if err := runner.Run(gctx); err != nil {
				return fmt.Errorf("plugin %s: %w", id, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("gohome shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Server.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
