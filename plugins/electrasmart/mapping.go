package electrasmart

import "github.com/joshp123/gohome-electra/plugins/electrasmart/api"

var fanToHost = map[string]string{
	api.FanAuto: FanModeAuto,
	api.FanLow:  FanModeLow,
	api.FanMed:  FanModeMedium,
	api.FanHigh: FanModeHigh,
}

var modeToHost = map[string]string{
	api.ModeCool: HVACCool,
	api.ModeHeat: HVACHeat,
	api.ModeFan:  HVACFanOnly,
	api.ModeDry:  HVACDry,
	api.ModeAuto: HVACAuto,
}

var modeToAction = map[string]string{
	api.ModeCool: ActionCooling,
	api.ModeHeat: ActionHeating,
	api.ModeFan:  ActionFan,
	api.ModeDry:  ActionDrying,
}

var (
	fanFromHost  = invert(fanToHost)
	modeFromHost = invert(modeToHost)
)

// HVACModes lists the modes every unit accepts.
var HVACModes = []string{HVACOff, HVACHeat, HVACCool, HVACDry, HVACFanOnly, HVACAuto}

var FanModes = []string{FanModeAuto, FanModeHigh, FanModeMedium, FanModeLow}

var PresetModes = []string{PresetNone, PresetShabat}

func invert(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[v] = k
	}
	return out
}

func hostFanMode(vendor string) (string, bool) {
	v, ok := fanToHost[vendor]
	return v, ok
}

func vendorFanSpeed(host string) (string, bool) {
	v, ok := fanFromHost[host]
	return v, ok
}

func hostHVACMode(vendor string) (string, bool) {
	v, ok := modeToHost[vendor]
	return v, ok
}

func vendorMode(host string) (string, bool) {
	v, ok := modeFromHost[host]
	return v, ok
}

// swingMode composes the two swing axes into one mode.
func swingMode(horizontal, vertical bool) string {
	switch {
	case horizontal && vertical:
		return SwingBoth
	case horizontal:
		return SwingHorizontal
	case vertical:
		return SwingVertical
	default:
		return SwingOff
	}
}

// swingAxes is the inverse of swingMode.
func swingAxes(mode string) (horizontal, vertical, ok bool) {
	switch mode {
	case SwingBoth:
		return true, true, true
	case SwingHorizontal:
		return true, false, true
	case SwingVertical:
		return false, true, true
	case SwingOff:
		return false, false, true
	default:
		return false, false, false
	}
}

// swingModes lists the swing modes a device supports, or nil when it has
// no swing control.
func swingModes(device *api.Device) []string {
	vertical := device.HasFeature(api.FeatureVSwing)
	horizontal := device.HasFeature(api.FeatureHSwing)
	var out []string
	if vertical {
		out = append(out, SwingVertical)
	}
	if horizontal {
		out = append(out, SwingHorizontal)
	}
	if vertical && horizontal {
		out = append(out, SwingBoth)
	}
	if len(out) > 0 {
		out = append(out, SwingOff)
	}
	return out
}
