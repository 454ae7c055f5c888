package electrasmart

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

func TestFanModeRoundTrip(t *testing.T) {
	for _, mode := range FanModes {
		vendor, ok := vendorFanSpeed(mode)
		assert.True(t, ok, mode)
		back, ok := hostFanMode(vendor)
		assert.True(t, ok, vendor)
		assert.Equal(t, mode, back)
	}
}

func TestHVACModeRoundTrip(t *testing.T) {
	for _, mode := range HVACModes {
		if mode == HVACOff {
			continue
		}
		vendor, ok := vendorMode(mode)
		assert.True(t, ok, mode)
		back, ok := hostHVACMode(vendor)
		assert.True(t, ok, vendor)
		assert.Equal(t, mode, back)
	}
	_, ok := vendorMode(HVACOff)
	assert.False(t, ok, "off is power, not a vendor mode")
}

func TestSwingComposition(t *testing.T) {
	assert.Equal(t, SwingBoth, swingMode(true, true))
	assert.Equal(t, SwingOff, swingMode(false, false))
	assert.Equal(t, SwingHorizontal, swingMode(true, false))
	assert.Equal(t, SwingVertical, swingMode(false, true))

	for _, mode := range []string{SwingOff, SwingVertical, SwingHorizontal, SwingBoth} {
		h, v, ok := swingAxes(mode)
		assert.True(t, ok)
		assert.Equal(t, mode, swingMode(h, v))
	}
	_, _, ok := swingAxes("diagonal")
	assert.False(t, ok)
}

func TestSwingModesFollowFeatures(t *testing.T) {
	both := api.NewDevice(1, "aa", "AC", map[string]interface{}{"HSWING": "OFF", "VSWING": "OFF"}, nil, 0)
	assert.Equal(t, []string{SwingVertical, SwingHorizontal, SwingBoth, SwingOff}, swingModes(both))

	vertical := api.NewDevice(1, "aa", "AC", map[string]interface{}{"VSWING": "OFF"}, nil, 0)
	assert.Equal(t, []string{SwingVertical, SwingOff}, swingModes(vertical))

	none := api.NewDevice(1, "aa", "AC", map[string]interface{}{}, nil, 0)
	assert.Nil(t, swingModes(none))
}
