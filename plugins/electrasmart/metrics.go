package electrasmart

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_electrasmart_polls_total",
			Help: "Climate polls by outcome",
		},
		[]string{"result"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_electrasmart_commands_total",
			Help: "Climate commands by type and outcome",
		},
		[]string{"command", "result"},
	)
)

type climateSource interface {
	Climates() []*Climate
	Ready() bool
}

// MetricsCollector exports the last known state of every climate entity.
// It never calls the cloud; the poll loop keeps the state fresh.
type MetricsCollector struct {
	source climateSource

	current     *prometheus.GaugeVec
	target      *prometheus.GaugeVec
	powerOn     *prometheus.GaugeVec
	available   *prometheus.GaugeVec
	mode        *prometheus.GaugeVec
	failures    *prometheus.GaugeVec
	lastUpdated *prometheus.GaugeVec
	ready       prometheus.Gauge
}

func NewMetricsCollector(source climateSource) *MetricsCollector {
	labels := []string{"device_id", "mac", "name"}
	return &MetricsCollector{
		source: source,
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_current_temperature_celsius",
			Help: "Room temperature reported by the unit",
		}, labels),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_target_temperature_celsius",
			Help: "Target temperature per unit",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_power_on_bool",
			Help: "Power state per unit (1=on, 0=off)",
		}, labels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_available_bool",
			Help: "Cloud connectivity per unit (1=available, 0=unavailable)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_hvac_mode_info",
			Help: "Current HVAC mode per unit (value is always 1)",
		}, append(labels, "hvac_mode", "fan_mode", "swing_mode", "preset_mode")),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_consecutive_failures",
			Help: "Consecutive failed polls per unit",
		}, labels),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_last_updated_timestamp_seconds",
			Help: "Last time attributes were refreshed (epoch seconds)",
		}, labels),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_electrasmart_ready",
			Help: "Device discovery completed (1=ready, 0=not ready)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.current.Describe(ch)
	c.target.Describe(ch)
	c.powerOn.Describe(ch)
	c.available.Describe(ch)
	c.mode.Describe(ch)
	c.failures.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.ready.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.current.Reset()
	c.target.Reset()
	c.powerOn.Reset()
	c.available.Reset()
	c.mode.Reset()
	c.failures.Reset()
	c.lastUpdated.Reset()

	c.ready.Set(boolToFloat(c.source.Ready()))

	for _, climate := range c.source.Climates() {
		state := climate.State()
		labels := prometheus.Labels{
			"device_id": strconv.Itoa(state.DeviceID),
			"mac":       state.UniqueID,
			"name":      state.Name,
		}
		if state.CurrentTemperature != nil {
			c.current.With(labels).Set(*state.CurrentTemperature)
		}
		c.target.With(labels).Set(float64(state.TargetTemperature))
		c.powerOn.With(labels).Set(boolToFloat(state.HVACMode != "" && state.HVACMode != HVACOff))
		c.available.With(labels).Set(boolToFloat(state.Available))
		c.failures.With(labels).Set(float64(state.ConsecutiveErrors))
		if !state.UpdatedAt.IsZero() {
			c.lastUpdated.With(labels).Set(float64(state.UpdatedAt.Unix()))
		}
		c.mode.WithLabelValues(
			strconv.Itoa(state.DeviceID), state.UniqueID, state.Name,
			state.HVACMode, state.FanMode, state.SwingMode, state.PresetMode,
		).Set(1)
	}

	c.current.Collect(ch)
	c.target.Collect(ch)
	c.powerOn.Collect(ch)
	c.available.Collect(ch)
	c.mode.Collect(ch)
	c.failures.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.ready.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
