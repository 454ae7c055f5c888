package core

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Host is what the daemon hands to plugin factories: the config-entry
// store, the setup flow manager, and a logger.
type Host struct {
	Entries *entry.Store
	Flows   *flow.Manager
	Logger  *slog.Logger
}

// Plugin is the compile-time contract for all GoHome plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	RegisterGRPC(*grpc.Server) error
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// Runner is implemented by plugins that own background work (polling,
// subscriptions). Run blocks until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
