package electrasmart

import "time"

const (
	Domain = "electrasmart"

	ConfPhoneNumber  = "phone_number"
	ConfOTP          = "one_time_password"
	ConfIMEI         = "imei"
	ConfToken        = "token"
	ConfScanInterval = "scan_interval"

	StepOneTimePassword = "one_time_password"

	APIDelay                    = 5 * time.Second
	ConsecutiveFailureThreshold = 4
	UnavailableThreshold        = 120 * time.Second
	DefaultScanInterval         = 30 * time.Second

	PresetNone   = "None"
	PresetShabat = "Shabat"

	TemperatureUnit = "°C"
	TemperatureStep = 1
)

// HVAC modes exposed to clients.
const (
	HVACOff     = "off"
	HVACHeat    = "heat"
	HVACCool    = "cool"
	HVACDry     = "dry"
	HVACFanOnly = "fan_only"
	HVACAuto    = "auto"
)

// HVAC actions derived from mode and power.
const (
	ActionCooling = "cooling"
	ActionHeating = "heating"
	ActionFan     = "fan"
	ActionDrying  = "drying"
	ActionOff     = "off"
)

const (
	FanModeAuto   = "auto"
	FanModeLow    = "low"
	FanModeMedium = "medium"
	FanModeHigh   = "high"
)

const (
	SwingOff        = "off"
	SwingVertical   = "vertical"
	SwingHorizontal = "horizontal"
	SwingBoth       = "both"
)

// Feature is a bit set of supported climate controls.
type Feature int

const (
	FeatureTargetTemperature Feature = 1
	FeatureFanMode           Feature = 8
	FeaturePresetMode        Feature = 16
	FeatureSwingMode         Feature = 32
)

func (f Feature) Has(bit Feature) bool {
	return f&bit != 0
}
