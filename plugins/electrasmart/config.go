package electrasmart

import (
	"fmt"
	"net/url"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

const (
	defaultRequestsPerMinute = 60
	defaultRequestsPerDay    = 5000
)

// Config defines runtime configuration for the Electra plugin.
type Config struct {
	BaseURL           string
	RequestsPerMinute int
	RequestsPerDay    int
	MQTT              *config.MQTTConfig
}

// ConfigFromFile maps the electrasmart and mqtt sections of config.yaml.
func ConfigFromFile(cfg *config.Config) (Config, error) {
	if cfg == nil || cfg.Electrasmart == nil {
		return Config{}, fmt.Errorf("electrasmart config is required")
	}

	out := Config{
		BaseURL:           cfg.Electrasmart.BaseURL,
		RequestsPerMinute: cfg.Electrasmart.RequestsPerMinute,
		RequestsPerDay:    cfg.Electrasmart.RequestsPerDay,
		MQTT:              cfg.MQTT,
	}
	if out.BaseURL == "" {
		out.BaseURL = api.DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(out.BaseURL); err != nil {
		return Config{}, fmt.Errorf("electrasmart.base_url: %w", err)
	}
	if out.RequestsPerMinute == 0 {
		out.RequestsPerMinute = defaultRequestsPerMinute
	}
	if out.RequestsPerDay == 0 {
		out.RequestsPerDay = defaultRequestsPerDay
	}
	return out, nil
}
