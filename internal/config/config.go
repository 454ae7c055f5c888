package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/gohome/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/gohome/dashboards"
	DefaultLogLevel     = "info"
	DefaultEntriesDir   = "/var/lib/gohome/entries"
	DefaultEntriesBlob  = "gohome/entries"
	DefaultTopicPrefix  = "gohome"
)

// Config is the root of config.yaml.
type Config struct {
	SchemaVersion int                 `yaml:"schema_version"`
	Core          *CoreConfig         `yaml:"core"`
	Entries       *EntriesConfig      `yaml:"entries"`
	MQTT          *MQTTConfig         `yaml:"mqtt"`
	Electrasmart  *ElectrasmartConfig `yaml:"electrasmart"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
	LogLevel     string `yaml:"log_level"`
}

// EntriesConfig controls where setup results are persisted.
// The blob fields are optional; when set, entries are mirrored to S3.
type EntriesConfig struct {
	Dir               string `yaml:"dir"`
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobRegion        string `yaml:"blob_region"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
}

// BlobEnabled reports whether any S3 mirror setting is present.
func (e *EntriesConfig) BlobEnabled() bool {
	if e == nil {
		return false
	}
	return e.BlobEndpoint != "" || e.BlobBucket != "" || e.BlobAccessKeyFile != "" || e.BlobSecretKeyFile != ""
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
	ClientID     string `yaml:"client_id"`
}

type ElectrasmartConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	RequestsPerDay    int    `yaml:"requests_per_day"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.Entries == nil {
		cfg.Entries = &EntriesConfig{}
	}
	if cfg.Entries.Dir == "" {
		cfg.Entries.Dir = DefaultEntriesDir
	}
	if cfg.Entries.BlobPrefix == "" {
		cfg.Entries.BlobPrefix = DefaultEntriesBlob
	}

	if cfg.MQTT != nil && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	switch strings.ToLower(cfg.Core.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("core.log_level %q must be one of debug, info, warn, error", cfg.Core.LogLevel)
	}

	if cfg.Entries == nil || cfg.Entries.Dir == "" {
		return fmt.Errorf("entries.dir is required")
	}
	if cfg.Entries.BlobEnabled() {
		if cfg.Entries.BlobEndpoint == "" {
			return fmt.Errorf("entries.blob_endpoint is required")
		}
		if cfg.Entries.BlobBucket == "" {
			return fmt.Errorf("entries.blob_bucket is required")
		}
		if cfg.Entries.BlobAccessKeyFile == "" {
			return fmt.Errorf("entries.blob_access_key_file is required")
		}
		if cfg.Entries.BlobSecretKeyFile == "" {
			return fmt.Errorf("entries.blob_secret_key_file is required")
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if cfg.Electrasmart != nil {
		if cfg.Electrasmart.RequestsPerMinute < 0 || cfg.Electrasmart.RequestsPerDay < 0 {
			return fmt.Errorf("electrasmart request limits must not be negative")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Electrasmart != nil {
		enabled["electrasmart"] = true
	}
	return enabled
}
