package electrasmart

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
	"github.com/joshp123/gohome-electra/internal/rate"
	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const httpTimeout = 20 * time.Second

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	runtime *Runtime
	flows   *flow.Manager
	entries *entry.Store
	mqtt    mqtt.Client
	logger  *slog.Logger

	health        core.HealthStatus
	healthMessage string
}

var _ core.Runner = (*Plugin)(nil)

// NewPlugin constructs the Electra plugin. It returns false when the
// electrasmart section is absent from config.
func NewPlugin(cfg *config.Config, host core.Host) (core.Plugin, bool) {
	if cfg == nil || cfg.Electrasmart == nil {
		return nil, false
	}
	logger := host.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("plugin", Domain)

	p := &Plugin{flows: host.Flows, entries: host.Entries, logger: logger}

	runtimeCfg, err := ConfigFromFile(cfg)
	if err != nil {
		p.health, p.healthMessage = core.HealthError, err.Error()
		return p, true
	}
	if host.Entries == nil || host.Flows == nil {
		p.health, p.healthMessage = core.HealthError, "config entry store is not available"
		return p, true
	}

	httpClient := rate.WrapHTTP(RateLimits(runtimeCfg), &http.Client{Timeout: httpTimeout})
	RegisterFlows(host.Flows, host.Entries, api.NewClient(api.Config{BaseURL: runtimeCfg.BaseURL, HTTPClient: httpClient}), logger)

	var writers stateWriters
	if runtimeCfg.MQTT != nil {
		var bridge *MQTTBridge
		client, err := NewMQTTClient(runtimeCfg.MQTT, func(c mqtt.Client) {
			logger.Info("mqtt connected", "broker", runtimeCfg.MQTT.Broker)
			if err := bridge.Subscribe(p.runtime); err != nil {
				logger.Error("mqtt subscribe failed", "err", err)
			}
		})
		if err != nil {
			p.health, p.healthMessage = core.HealthError, err.Error()
			return p, true
		}
		bridge = NewMQTTBridge(client, runtimeCfg.MQTT.TopicPrefix, logger)
		p.mqtt = client
		writers = append(writers, bridge)
	}

	p.runtime = NewRuntime(host.Entries, NewClientFactory(runtimeCfg.BaseURL, httpClient), writers, logger)
	p.health = core.HealthDegraded
	p.healthMessage = "starting"
	return p, true
}

// RateLimits is the request budget shared by setup and polling.
func RateLimits(cfg Config) rate.Declaration {
	return rate.Provider(Domain).
		MaxRequestsPer(rate.Minute, cfg.RequestsPerMinute).
		MaxRequestsPer(rate.Day, cfg.RequestsPerDay).
		CooldownOn429(time.Minute)
}

func (p *Plugin) ID() string {
	return Domain
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    Domain,
		DisplayName: "Electra Smart",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "electrasmart-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	if p.runtime == nil {
		return nil
	}
	return RegisterService(server, p.runtime, p.flows, p.entries)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.runtime == nil {
		return nil
	}
	collectors := []prometheus.Collector{NewMetricsCollector(p.runtime), pollsTotal, commandsTotal}
	return append(collectors, rate.MetricsCollectors()...)
}

// Run connects MQTT when configured and drives the poll loop until ctx
// is cancelled.
func (p *Plugin) Run(ctx context.Context) error {
	if p.runtime == nil {
		<-ctx.Done()
		return nil
	}
	if p.mqtt != nil {
		token := p.mqtt.Connect()
		go func() {
			<-token.Done()
			if err := token.Error(); err != nil {
				p.logger.Warn("mqtt connect failed", "err", err)
			}
		}()
		defer p.mqtt.Disconnect(250)
	}
	return p.runtime.Run(ctx)
}

func (p *Plugin) Health() core.HealthStatus {
	if p.runtime == nil {
		return p.health
	}
	status, _ := p.runtime.Health()
	return status
}

func (p *Plugin) HealthMessage() string {
	if p.runtime == nil {
		return p.healthMessage
	}
	_, message := p.runtime.Health()
	return message
}
