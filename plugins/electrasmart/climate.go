package electrasmart

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

// DeviceAPI is the part of the cloud client a climate entity needs.
type DeviceAPI interface {
	GetLastTelemetry(ctx context.Context, device *api.Device) error
	SetState(ctx context.Context, device *api.Device) (api.Response, error)
}

// StateWriter receives the entity state whenever it should be persisted
// or published.
type StateWriter interface {
	WriteState(ctx context.Context, state ClimateState)
}

// ClimateState is the display surface of one air conditioner.
type ClimateState struct {
	UniqueID           string    `json:"unique_id"`
	DeviceID           int       `json:"device_id"`
	Name               string    `json:"name"`
	Model              string    `json:"model"`
	Manufacturer       string    `json:"manufacturer"`
	Available          bool      `json:"available"`
	HVACMode           string    `json:"hvac_mode"`
	HVACAction         string    `json:"hvac_action,omitempty"`
	FanMode            string    `json:"fan_mode"`
	SwingMode          string    `json:"swing_mode"`
	PresetMode         string    `json:"preset_mode"`
	CurrentTemperature *float64  `json:"current_temperature,omitempty"`
	TargetTemperature  int       `json:"target_temperature"`
	MinTemp            int       `json:"min_temp"`
	MaxTemp            int       `json:"max_temp"`
	TemperatureStep    int       `json:"target_temperature_step"`
	TemperatureUnit    string    `json:"temperature_unit"`
	SupportedFeatures  Feature   `json:"supported_features"`
	HVACModes          []string  `json:"hvac_modes"`
	FanModes           []string  `json:"fan_modes"`
	SwingModes         []string  `json:"swing_modes"`
	PresetModes        []string  `json:"preset_modes"`
	ConsecutiveErrors  int       `json:"consecutive_failures"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type attributes struct {
	hvacMode   string
	hvacAction string
	fanMode    string
	swingMode  string
	presetMode string
	current    *float64
	target     int
}

// Climate wraps one device. Polls and commands for the same entity are
// serialized by mu.
type Climate struct {
	mu sync.Mutex

	client DeviceAPI
	device *api.Device
	writer StateWriter
	logger *slog.Logger
	now    func() time.Time

	swingModes []string

	lastStateUpdate     time.Time
	consecutiveFailures int
	skipUpdate          bool
	wasAvailable        bool
	available           bool
	attrs               attributes
	updatedAt           time.Time
}

func NewClimate(device *api.Device, client DeviceAPI, writer StateWriter, logger *slog.Logger) *Climate {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Climate{
		client:       client,
		device:       device,
		writer:       writer,
		logger:       logger.With("device", device.Name, "mac", device.MAC),
		now:          time.Now,
		swingModes:   swingModes(device),
		skipUpdate:   true,
		wasAvailable: true,
		available:    !device.IsDisconnected(UnavailableThreshold),
	}
	c.logger.Debug("added electra ac device")
	return c
}

// UniqueID is the device MAC.
func (c *Climate) UniqueID() string {
	return c.device.MAC
}

func (c *Climate) Name() string {
	return c.device.Name
}

// Update polls the device. The first call reuses the telemetry loaded at
// discovery. A hard error is returned only after more than
// ConsecutiveFailureThreshold failures in a row.
func (c *Climate) Update(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastStateUpdate.IsZero() && c.now().Before(c.lastStateUpdate.Add(APIDelay)) {
		c.logger.Debug("skipping state update, keeping old values")
		pollsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	c.lastStateUpdate = time.Time{}

	if c.skipUpdate {
		c.skipUpdate = false
	} else if err := c.client.GetLastTelemetry(ctx, c.device); err != nil {
		if classify(err) == classLockout {
			pollsTotal.WithLabelValues("reauth").Inc()
			return fmt.Errorf("%w: failed to get %s state: %v, you must re-authenticate by running setup again",
				ErrReauthRequired, c.device.Name, err)
		}
		c.consecutiveFailures++
		pollsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("failed to get state, keeping old state",
			"err", err, "attempt", c.consecutiveFailures)
		if c.consecutiveFailures > ConsecutiveFailureThreshold {
			return &HostError{
				Message: fmt.Sprintf("Failed to get %s state: %v for the %d time", c.device.Name, err, c.consecutiveFailures),
				Err:     err,
			}
		}
		return nil
	}

	if c.device.IsDisconnected(UnavailableThreshold) {
		if c.wasAvailable {
			c.logger.Warn("electra ac is not available, check its status in the Electra Smart mobile app")
			c.wasAvailable = false
		}
		c.available = false
		pollsTotal.WithLabelValues("disconnected").Inc()
		c.writeStateLocked(ctx)
		return nil
	}

	if !c.wasAvailable {
		c.logger.Warn("electra ac is now available")
		c.wasAvailable = true
		c.available = true
	}

	c.consecutiveFailures = 0
	c.deriveLocked()
	pollsTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("state updated", "mode", c.device.Mode(), "on", c.device.IsOn())
	c.writeStateLocked(ctx)
	return nil
}

func (c *Climate) SetTemperature(ctx context.Context, temperature float64) error {
	temp := int(temperature)
	if temp < api.MinTemp || temp > api.MaxTemp {
		return fmt.Errorf("%w: temperature %v outside %d-%d", ErrInvalidValue, temperature, api.MinTemp, api.MaxTemp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.device.SetTemperature(temp)
	return c.pushLocked(ctx, "temperature")
}

func (c *Climate) SetHVACMode(ctx context.Context, mode string) error {
	var vendor string
	if mode != HVACOff {
		var ok bool
		vendor, ok = vendorMode(mode)
		if !ok {
			return fmt.Errorf("%w: hvac mode %q", ErrInvalidValue, mode)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == HVACOff {
		c.device.TurnOff()
	} else {
		c.device.SetMode(vendor)
		c.device.TurnOn()
	}
	return c.pushLocked(ctx, "hvac_mode")
}

func (c *Climate) SetFanMode(ctx context.Context, mode string) error {
	speed, ok := vendorFanSpeed(mode)
	if !ok {
		return fmt.Errorf("%w: fan mode %q", ErrInvalidValue, mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.device.SetFanSpeed(speed)
	return c.pushLocked(ctx, "fan_mode")
}

func (c *Climate) SetSwingMode(ctx context.Context, mode string) error {
	horizontal, vertical, ok := swingAxes(mode)
	if !ok {
		return fmt.Errorf("%w: swing mode %q", ErrInvalidValue, mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.swingModes, mode) {
		return fmt.Errorf("%w: swing mode %q not supported by %s", ErrInvalidValue, mode, c.device.Name)
	}
	if c.device.HasFeature(api.FeatureHSwing) {
		c.device.SetHorizontalSwing(horizontal)
	}
	if c.device.HasFeature(api.FeatureVSwing) {
		c.device.SetVerticalSwing(vertical)
	}
	return c.pushLocked(ctx, "swing_mode")
}

func (c *Climate) SetPresetMode(ctx context.Context, preset string) error {
	if preset != PresetShabat && preset != PresetNone {
		return fmt.Errorf("%w: preset %q", ErrInvalidValue, preset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.device.SetShabatMode(preset == PresetShabat)
	return c.pushLocked(ctx, "preset_mode")
}

// State returns a snapshot of the display attributes.
func (c *Climate) State() ClimateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// pushLocked sends the locally mutated device. Attributes are re-derived
// only when the cloud acknowledges the command.
func (c *Climate) pushLocked(ctx context.Context, command string) error {
	resp, err := c.client.SetState(ctx, c.device)
	if err != nil {
		message := fmt.Sprintf("Error communicating with API: %v", err)
		switch classify(err) {
		case classLockout:
			commandsTotal.WithLabelValues(command, "reauth").Inc()
			return fmt.Errorf("%w: %s, you must re-authenticate by running setup again", ErrReauthRequired, message)
		case classClient:
			commandsTotal.WithLabelValues(command, "client_error").Inc()
			return &HostError{Message: message + ", Check your internet connection.", Err: err}
		default:
			commandsTotal.WithLabelValues(command, "error").Inc()
			c.writeStateLocked(ctx)
			return &HostError{Message: message, Err: err}
		}
	}

	if !resp.OK() {
		commandsTotal.WithLabelValues(command, "rejected").Inc()
		c.writeStateLocked(ctx)
		return &HostError{Message: fmt.Sprintf("Failed to update %s, error: %s", c.device.Name, resp)}
	}

	commandsTotal.WithLabelValues(command, "ok").Inc()
	c.deriveLocked()
	c.lastStateUpdate = c.now()
	c.writeStateLocked(ctx)
	return nil
}

func (c *Climate) deriveLocked() {
	d := c.device
	var attrs attributes

	if fan, ok := hostFanMode(d.FanSpeed()); ok {
		attrs.fanMode = fan
	}
	if temp, ok := d.SensorTemperature(); ok {
		attrs.current = &temp
	}
	attrs.target = d.Temperature()

	mode := d.Mode()
	if !d.IsOn() {
		attrs.hvacMode = HVACOff
	} else if hvac, ok := hostHVACMode(mode); ok {
		attrs.hvacMode = hvac
	}

	switch {
	case mode == api.ModeAuto:
		attrs.hvacAction = ""
	case !d.IsOn():
		attrs.hvacAction = ActionOff
	default:
		attrs.hvacAction = modeToAction[mode]
	}

	attrs.swingMode = swingMode(d.IsHorizontalSwing(), d.IsVerticalSwing())
	if d.ShabatMode() {
		attrs.presetMode = PresetShabat
	} else {
		attrs.presetMode = PresetNone
	}

	c.attrs = attrs
	c.updatedAt = c.now()
}

func (c *Climate) writeStateLocked(ctx context.Context) {
	if c.writer == nil {
		return
	}
	c.writer.WriteState(ctx, c.stateLocked())
}

func (c *Climate) stateLocked() ClimateState {
	return ClimateState{
		UniqueID:           c.device.MAC,
		DeviceID:           c.device.ID,
		Name:               c.device.Name,
		Model:              c.device.Model,
		Manufacturer:       c.device.Manufacturer,
		Available:          c.available,
		HVACMode:           c.attrs.hvacMode,
		HVACAction:         c.attrs.hvacAction,
		FanMode:            c.attrs.fanMode,
		SwingMode:          c.attrs.swingMode,
		PresetMode:         c.attrs.presetMode,
		CurrentTemperature: c.attrs.current,
		TargetTemperature:  c.attrs.target,
		MinTemp:            api.MinTemp,
		MaxTemp:            api.MaxTemp,
		TemperatureStep:    TemperatureStep,
		TemperatureUnit:    TemperatureUnit,
		SupportedFeatures:  FeatureTargetTemperature | FeatureFanMode | FeaturePresetMode | FeatureSwingMode,
		HVACModes:          HVACModes,
		FanModes:           FanModes,
		SwingModes:         c.swingModes,
		PresetModes:        PresetModes,
		ConsecutiveErrors:  c.consecutiveFailures,
		UpdatedAt:          c.updatedAt,
	}
}
