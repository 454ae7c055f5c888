package electrasmart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

type fakeDeviceAPI struct {
	mu            sync.Mutex
	telemetryErr  error
	telemetryHits int
	nextOper      map[string]interface{}
	timeDelta     float64
	setErr        error
	setResp       api.Response
	setCalls      int
}

func (f *fakeDeviceAPI) GetLastTelemetry(_ context.Context, device *api.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetryHits++
	if f.telemetryErr != nil {
		return f.telemetryErr
	}
	if f.nextOper != nil {
		*device = *api.NewDevice(device.ID, device.MAC, device.Name, f.nextOper, map[string]interface{}{"I_CALC_AT": "22"}, f.timeDelta)
	}
	return nil
}

func (f *fakeDeviceAPI) SetState(_ context.Context, _ *api.Device) (api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	return f.setResp, f.setErr
}

type recordingWriter struct {
	states []ClimateState
}

func (w *recordingWriter) WriteState(_ context.Context, state ClimateState) {
	w.states = append(w.states, state)
}

func newTestClimate(t *testing.T, oper map[string]interface{}, timeDelta float64) (*Climate, *fakeDeviceAPI, *recordingWriter, *time.Time) {
	t.Helper()
	device := api.NewDevice(7, "aa:bb", "Living", oper, map[string]interface{}{"I_CALC_AT": "23"}, timeDelta)
	fake := &fakeDeviceAPI{}
	writer := &recordingWriter{}
	climate := NewClimate(device, fake, writer, nil)
	now := time.Unix(1_700_000_000, 0)
	climate.now = func() time.Time { return now }
	return climate, fake, writer, &now
}

func baseOper() map[string]interface{} {
	return map[string]interface{}{
		"AC_MODE": "COOL",
		"FANSPD":  "LOW",
		"SPT":     "24",
		"HSWING":  "ON",
		"VSWING":  "ON",
		"SHABAT":  "OFF",
	}
}

func TestFirstUpdateReusesDiscoveryTelemetry(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)

	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 0, fake.telemetryHits)

	state := climate.State()
	assert.True(t, state.Available)
	assert.Equal(t, HVACCool, state.HVACMode)
	assert.Equal(t, ActionCooling, state.HVACAction)
	assert.Equal(t, FanModeLow, state.FanMode)
	assert.Equal(t, SwingBoth, state.SwingMode)
	assert.Equal(t, PresetNone, state.PresetMode)
	assert.Equal(t, 24, state.TargetTemperature)
	require.NotNil(t, state.CurrentTemperature)
	assert.Equal(t, 23.0, *state.CurrentTemperature)
	assert.Len(t, writer.states, 1)

	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 1, fake.telemetryHits)
}

func TestUpdateSkippedWithinPropagationDelay(t *testing.T) {
	climate, fake, _, now := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))

	fake.setResp = api.Response{Status: 0, Res: 0}
	require.NoError(t, climate.SetFanMode(context.Background(), FanModeHigh))
	before := climate.State()

	fake.nextOper = map[string]interface{}{"AC_MODE": "HEAT", "FANSPD": "AUTO", "SPT": "28"}
	*now = now.Add(APIDelay - time.Second)
	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 0, fake.telemetryHits)
	assert.Equal(t, before, climate.State())

	*now = now.Add(2 * time.Second)
	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 1, fake.telemetryHits)
	assert.Equal(t, HVACHeat, climate.State().HVACMode)
}

func TestFailureThreshold(t *testing.T) {
	climate, fake, _, _ := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))
	before := climate.State()

	fake.telemetryErr = &api.Error{Message: "client error", Err: errors.New("timeout")}
	for i := 0; i < ConsecutiveFailureThreshold; i++ {
		require.NoError(t, climate.Update(context.Background()), "failure %d should be swallowed", i+1)
	}
	assert.Equal(t, before.HVACMode, climate.State().HVACMode)

	err := climate.Update(context.Background())
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Contains(t, hostErr.Message, "for the 5 time")

	fake.telemetryErr = nil
	fake.nextOper = baseOper()
	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 0, climate.State().ConsecutiveErrors)
}

func TestUpdateLockoutRequiresReauth(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))
	written := len(writer.states)

	fake.telemetryErr = &api.Error{Message: "intruder_lockout: too many attempts"}
	err := climate.Update(context.Background())
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Contains(t, err.Error(), "re-authenticate")
	assert.Equal(t, 0, climate.State().ConsecutiveErrors)
	assert.Len(t, writer.states, written)
}

func TestAvailabilityTransitions(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))
	attrs := climate.State().HVACMode

	fake.nextOper = map[string]interface{}{"AC_MODE": "HEAT"}
	fake.timeDelta = 500
	require.NoError(t, climate.Update(context.Background()))
	state := climate.State()
	assert.False(t, state.Available)
	assert.Equal(t, attrs, state.HVACMode, "attributes kept while disconnected")
	assert.False(t, climate.wasAvailable)

	fake.timeDelta = 10
	require.NoError(t, climate.Update(context.Background()))
	state = climate.State()
	assert.True(t, state.Available)
	assert.Equal(t, HVACHeat, state.HVACMode)
	assert.Len(t, writer.states, 3)
}

func TestInitiallyDisconnectedDevice(t *testing.T) {
	climate, _, _, _ := newTestClimate(t, baseOper(), 300)
	assert.False(t, climate.State().Available)
}

func TestSetHVACModeOffAndAutoAction(t *testing.T) {
	climate, fake, _, _ := newTestClimate(t, baseOper(), 5)
	fake.setResp = api.Response{}

	require.NoError(t, climate.SetHVACMode(context.Background(), HVACOff))
	state := climate.State()
	assert.Equal(t, HVACOff, state.HVACMode)
	assert.Equal(t, ActionOff, state.HVACAction)

	require.NoError(t, climate.SetHVACMode(context.Background(), HVACAuto))
	state = climate.State()
	assert.Equal(t, HVACAuto, state.HVACMode)
	assert.Empty(t, state.HVACAction)
}

func TestSetSwingAndPreset(t *testing.T) {
	climate, fake, _, _ := newTestClimate(t, baseOper(), 5)
	fake.setResp = api.Response{}

	require.NoError(t, climate.SetSwingMode(context.Background(), SwingOff))
	assert.Equal(t, SwingOff, climate.State().SwingMode)

	require.NoError(t, climate.SetSwingMode(context.Background(), SwingHorizontal))
	assert.Equal(t, SwingHorizontal, climate.State().SwingMode)

	require.NoError(t, climate.SetPresetMode(context.Background(), PresetShabat))
	assert.Equal(t, PresetShabat, climate.State().PresetMode)
}

func TestSetSwingModeRequiresDeviceSupport(t *testing.T) {
	oper := baseOper()
	delete(oper, "HSWING")
	delete(oper, "VSWING")
	climate, fake, _, _ := newTestClimate(t, oper, 5)
	fake.setResp = api.Response{}
	assert.Empty(t, climate.State().SwingModes)

	assert.ErrorIs(t, climate.SetSwingMode(context.Background(), SwingBoth), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetSwingMode(context.Background(), SwingOff), ErrInvalidValue)
	assert.Equal(t, 0, fake.setCalls)
	assert.Empty(t, climate.device.Features())

	oper = baseOper()
	delete(oper, "HSWING")
	climate, fake, _, _ = newTestClimate(t, oper, 5)
	fake.setResp = api.Response{}
	assert.ErrorIs(t, climate.SetSwingMode(context.Background(), SwingHorizontal), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetSwingMode(context.Background(), SwingBoth), ErrInvalidValue)
	require.NoError(t, climate.SetSwingMode(context.Background(), SwingVertical))
	assert.Equal(t, 1, fake.setCalls)
	assert.False(t, climate.device.HasFeature(api.FeatureHSwing))
}

func TestInvalidValuesRejected(t *testing.T) {
	climate, fake, _, _ := newTestClimate(t, baseOper(), 5)

	assert.ErrorIs(t, climate.SetTemperature(context.Background(), 40), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetTemperature(context.Background(), 15), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetFanMode(context.Background(), "turbo"), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetHVACMode(context.Background(), "eco"), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetSwingMode(context.Background(), "diagonal"), ErrInvalidValue)
	assert.ErrorIs(t, climate.SetPresetMode(context.Background(), "Eco"), ErrInvalidValue)
	assert.Equal(t, 0, fake.setCalls)
}

func TestCommandLockoutRequiresReauth(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)
	fake.setErr = &api.Error{Message: "client error", Err: errors.New("intruder_lockout")}

	err := climate.SetTemperature(context.Background(), 20)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Empty(t, writer.states)
}

func TestCommandClientError(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)
	fake.setErr = &api.Error{Message: "client error", Err: errors.New("dial tcp: timeout")}

	err := climate.SetTemperature(context.Background(), 20)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Contains(t, hostErr.Message, "Check your internet connection.")
	assert.Empty(t, writer.states)
}

func TestCommandOtherErrorWritesStaleState(t *testing.T) {
	climate, fake, writer, _ := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))
	fake.setErr = &api.Error{Message: "failed to decode response"}

	err := climate.SetTemperature(context.Background(), 20)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	require.Len(t, writer.states, 2)
	assert.Equal(t, 24, writer.states[1].TargetTemperature, "attributes are not re-derived")
}

func TestCommandNegativeAckWritesStaleStateAndFails(t *testing.T) {
	climate, fake, writer, now := newTestClimate(t, baseOper(), 5)
	require.NoError(t, climate.Update(context.Background()))
	fake.setResp = api.Response{Status: 0, Res: 1, ResDesc: "bad"}

	err := climate.SetTemperature(context.Background(), 20)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Contains(t, hostErr.Message, "Failed to update Living, error:")
	assert.Len(t, writer.states, 2)
	assert.Equal(t, 24, climate.State().TargetTemperature)

	// no skip window after a rejected command
	*now = now.Add(time.Second)
	require.NoError(t, climate.Update(context.Background()))
	assert.Equal(t, 1, fake.telemetryHits)
}

func TestCommandSuccessRederives(t *testing.T) {
	climate, fake, writer, now := newTestClimate(t, baseOper(), 5)
	fake.setResp = api.Response{}

	require.NoError(t, climate.SetTemperature(context.Background(), 19.7))
	assert.Equal(t, 19, climate.State().TargetTemperature)
	assert.Equal(t, *now, climate.lastStateUpdate)
	assert.Len(t, writer.states, 1)
}
