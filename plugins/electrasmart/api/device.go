package api

import (
	"fmt"
	"strconv"
	"time"
)

const (
	MinTemp = 16
	MaxTemp = 30

	ModeCool    = "COOL"
	ModeHeat    = "HEAT"
	ModeFan     = "FAN"
	ModeDry     = "DRY"
	ModeAuto    = "AUTO"
	ModeStandby = "STBY"

	FanAuto = "AUTO"
	FanLow  = "LOW"
	FanMed  = "MED"
	FanHigh = "HIGH"

	FeatureVSwing = "V_SWING"
	FeatureHSwing = "H_SWING"

	valueOn  = "ON"
	valueOff = "OFF"

	keyMode     = "AC_MODE"
	keyFan      = "FANSPD"
	keySetpoint = "SPT"
	keyHSwing   = "HSWING"
	keyVSwing   = "VSWING"
	keyShabat   = "SHABAT"
	keyPower    = "TURN_ON_OFF"
	keyCalcTemp = "I_CALC_AT"
	keyRoomTemp = "I_RAT"
)

// Device is one air conditioner. Callers serialize access; the client
// mutates it when telemetry arrives.
type Device struct {
	ID           int
	MAC          string
	Name         string
	Model        string
	Manufacturer string

	oper      map[string]interface{}
	diag      map[string]interface{}
	heartbeat map[string]interface{}
	timeDelta float64
	lastMode  string
}

// NewDevice builds a device from raw OPER and DIAG_L2 values.
func NewDevice(id int, mac, name string, oper, diag map[string]interface{}, timeDelta float64) *Device {
	d := &Device{ID: id, MAC: mac, Name: name}
	d.applyTelemetry(oper, diag, nil, timeDelta)
	return d
}

func (d *Device) applyTelemetry(oper, diag, heartbeat map[string]interface{}, timeDelta float64) {
	d.oper = copyValues(oper)
	d.diag = copyValues(diag)
	d.heartbeat = copyValues(heartbeat)
	d.timeDelta = timeDelta
	if mode := d.Mode(); mode != "" && mode != ModeStandby {
		d.lastMode = mode
	}
}

// Features lists the optional capabilities reported in OPER.
func (d *Device) Features() []string {
	var out []string
	if _, ok := d.oper[keyVSwing]; ok {
		out = append(out, FeatureVSwing)
	}
	if _, ok := d.oper[keyHSwing]; ok {
		out = append(out, FeatureHSwing)
	}
	return out
}

func (d *Device) HasFeature(feature string) bool {
	for _, f := range d.Features() {
		if f == feature {
			return true
		}
	}
	return false
}

func (d *Device) Mode() string {
	return stringValue(d.oper[keyMode])
}

func (d *Device) SetMode(mode string) {
	d.oper[keyMode] = mode
	if mode != ModeStandby {
		d.lastMode = mode
	}
}

func (d *Device) FanSpeed() string {
	return stringValue(d.oper[keyFan])
}

func (d *Device) SetFanSpeed(speed string) {
	d.oper[keyFan] = speed
}

// Temperature returns the setpoint.
func (d *Device) Temperature() int {
	v, _ := numberValue(d.oper[keySetpoint])
	return int(v)
}

// SetTemperature keeps the wire type (string or number) the device reported.
func (d *Device) SetTemperature(temp int) {
	if _, ok := d.oper[keySetpoint].(float64); ok {
		d.oper[keySetpoint] = float64(temp)
		return
	}
	d.oper[keySetpoint] = strconv.Itoa(temp)
}

// SensorTemperature returns the room temperature, preferring the
// calculated reading.
func (d *Device) SensorTemperature() (float64, bool) {
	if v, ok := numberValue(d.diag[keyCalcTemp]); ok {
		return v, true
	}
	return numberValue(d.diag[keyRoomTemp])
}

// IsOn uses TURN_ON_OFF when the device reports it, otherwise standby mode
// means off.
func (d *Device) IsOn() bool {
	if power, ok := d.oper[keyPower]; ok {
		return stringValue(power) != valueOff
	}
	return d.Mode() != ModeStandby
}

func (d *Device) TurnOn() {
	if _, ok := d.oper[keyPower]; ok {
		d.oper[keyPower] = valueOn
		return
	}
	if d.Mode() == ModeStandby {
		mode := d.lastMode
		if mode == "" {
			mode = ModeCool
		}
		d.oper[keyMode] = mode
	}
}

func (d *Device) TurnOff() {
	if _, ok := d.oper[keyPower]; ok {
		d.oper[keyPower] = valueOff
		return
	}
	if mode := d.Mode(); mode != ModeStandby && mode != "" {
		d.lastMode = mode
	}
	d.oper[keyMode] = ModeStandby
}

func (d *Device) IsHorizontalSwing() bool {
	return stringValue(d.oper[keyHSwing]) == valueOn
}

func (d *Device) SetHorizontalSwing(on bool) {
	d.oper[keyHSwing] = onOff(on)
}

func (d *Device) IsVerticalSwing() bool {
	return stringValue(d.oper[keyVSwing]) == valueOn
}

func (d *Device) SetVerticalSwing(on bool) {
	d.oper[keyVSwing] = onOff(on)
}

func (d *Device) ShabatMode() bool {
	return stringValue(d.oper[keyShabat]) == valueOn
}

func (d *Device) SetShabatMode(on bool) {
	d.oper[keyShabat] = onOff(on)
}

// TimeSinceContact is how long ago the cloud last heard from the unit.
func (d *Device) TimeSinceContact() time.Duration {
	return time.Duration(d.timeDelta * float64(time.Second))
}

// IsDisconnected reports whether the last contact is older than threshold.
func (d *Device) IsDisconnected(threshold time.Duration) bool {
	return d.TimeSinceContact() > threshold
}

func (d *Device) operSnapshot() map[string]interface{} {
	return copyValues(d.oper)
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.MAC)
}

func onOff(on bool) string {
	if on {
		return valueOn
	}
	return valueOff
}

func copyValues(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringValue(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func numberValue(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
