package electrasmart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

type fakeDeviceClient struct {
	fakeDeviceAPI

	devMu   sync.Mutex
	devices []*api.Device
	errs    []error
	calls   int
}

func (f *fakeDeviceClient) GetDevices(_ context.Context) ([]*api.Device, error) {
	f.devMu.Lock()
	defer f.devMu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.devices, nil
}

func testDevices() []*api.Device {
	return []*api.Device{
		api.NewDevice(1, "aa:01", "Bedroom", baseOper(), map[string]interface{}{"I_CALC_AT": "21"}, 5),
		api.NewDevice(2, "aa:02", "Attic", baseOper(), map[string]interface{}{"I_CALC_AT": "26"}, 5),
	}
}

func newTestRuntime(t *testing.T, fake *fakeDeviceClient) (*Runtime, *entry.Store, *atomic.Int32) {
	t.Helper()
	store := entry.NewStore(t.TempDir(), nil)
	_, err := store.Create(context.Background(), entry.Entry{
		Domain:   Domain,
		Title:    "0501234567",
		UniqueID: "0501234567",
		Data:     map[string]string{ConfToken: "tok", ConfIMEI: "2b95000012345678"},
	})
	require.NoError(t, err)

	var built atomic.Int32
	r := NewRuntime(store, func(entry.Entry) DeviceClient {
		built.Add(1)
		return fake
	}, nil, nil)
	return r, store, &built
}

func loadSingleAccount(t *testing.T, r *Runtime) *account {
	t.Helper()
	accounts, err := r.loadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	r.accounts = accounts
	return accounts[0]
}

func TestDiscoverCreatesClimates(t *testing.T) {
	r, _, _ := newTestRuntime(t, &fakeDeviceClient{devices: testDevices()})
	acct := loadSingleAccount(t, r)
	assert.Equal(t, DefaultScanInterval, acct.interval)

	require.True(t, r.discover(context.Background(), acct))
	climates := r.Climates()
	require.Len(t, climates, 2)
	assert.Equal(t, "Attic", climates[0].Name())
	assert.True(t, r.Ready())

	status, _ := r.Health()
	assert.Equal(t, core.HealthHealthy, status)

	c, err := r.Climate("aa:01")
	require.NoError(t, err)
	assert.Equal(t, "Bedroom", c.Name())

	_, err = r.Climate("zz")
	assert.ErrorIs(t, err, ErrClimateNotFound)
}

func TestDiscoverNotReadyThenRecovers(t *testing.T) {
	fake := &fakeDeviceClient{
		devices: testDevices(),
		errs:    []error{&api.Error{Message: "client error", Err: errors.New("dial tcp: refused")}},
	}
	r, _, _ := newTestRuntime(t, fake)
	acct := loadSingleAccount(t, r)

	assert.False(t, r.discover(context.Background(), acct))
	status, message := r.Health()
	assert.Equal(t, core.HealthDegraded, status)
	assert.Contains(t, message, "not ready")
	assert.False(t, r.Ready())

	assert.True(t, r.discover(context.Background(), acct))
	assert.True(t, r.Ready())
}

func TestDiscoverLockoutRequiresSetup(t *testing.T) {
	fake := &fakeDeviceClient{errs: []error{&api.Error{Message: "intruder_lockout: too many attempts"}}}
	r, _, _ := newTestRuntime(t, fake)
	acct := loadSingleAccount(t, r)

	r.runAccount(context.Background(), acct)

	status, message := r.Health()
	assert.Equal(t, core.HealthError, status)
	assert.Contains(t, message, "re-authenticate")
	assert.Equal(t, 1, fake.calls, "no retry after an auth failure")
}

func TestPollFailuresDegradeHealth(t *testing.T) {
	fake := &fakeDeviceClient{devices: testDevices()}
	r, _, _ := newTestRuntime(t, fake)
	acct := loadSingleAccount(t, r)
	require.True(t, r.discover(context.Background(), acct))

	r.pollAccount(context.Background(), acct)
	status, _ := r.Health()
	assert.Equal(t, core.HealthHealthy, status)

	fake.fakeDeviceAPI.mu.Lock()
	fake.telemetryErr = &api.Error{Message: "client error", Err: errors.New("timeout")}
	fake.fakeDeviceAPI.mu.Unlock()
	for i := 0; i < ConsecutiveFailureThreshold; i++ {
		r.pollAccount(context.Background(), acct)
	}
	status, _ = r.Health()
	assert.Equal(t, core.HealthHealthy, status)

	r.pollAccount(context.Background(), acct)
	status, message := r.Health()
	assert.Equal(t, core.HealthDegraded, status)
	assert.Contains(t, message, "for the 5 time")
}

func TestPollLockoutStopsAccount(t *testing.T) {
	fake := &fakeDeviceClient{devices: testDevices()}
	r, _, _ := newTestRuntime(t, fake)
	acct := loadSingleAccount(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acct.cancel = cancel
	require.True(t, r.discover(ctx, acct))
	require.True(t, r.pollAccount(ctx, acct))

	fake.fakeDeviceAPI.mu.Lock()
	fake.telemetryErr = &api.Error{Message: "intruder_lockout: too many attempts"}
	fake.fakeDeviceAPI.mu.Unlock()

	assert.False(t, r.pollAccount(ctx, acct))
	assert.Error(t, ctx.Err())
	status, message := r.Health()
	assert.Equal(t, core.HealthError, status)
	assert.Contains(t, message, "re-authenticate")
}

func TestRunStopsAccountOnCommandLockout(t *testing.T) {
	fake := &fakeDeviceClient{devices: testDevices()}
	fake.setErr = &api.Error{Message: "intruder_lockout"}
	r, _, _ := newTestRuntime(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, r.Ready, 2*time.Second, 10*time.Millisecond)

	err := r.Command("aa:01", func(c *Climate) error { return c.SetFanMode(context.Background(), FanModeHigh) })
	assert.ErrorIs(t, err, ErrReauthRequired)
	status, _ := r.Health()
	assert.Equal(t, core.HealthError, status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestCommandReauthStopsAccount(t *testing.T) {
	fake := &fakeDeviceClient{devices: testDevices()}
	fake.setErr = &api.Error{Message: "intruder_lockout"}
	r, _, _ := newTestRuntime(t, fake)
	acct := loadSingleAccount(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acct.cancel = cancel
	require.True(t, r.discover(ctx, acct))

	err := r.Command("aa:01", func(c *Climate) error { return c.SetFanMode(ctx, FanModeHigh) })
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Error(t, ctx.Err())

	status, _ := r.Health()
	assert.Equal(t, core.HealthError, status)
}

func TestHealthWithoutEntries(t *testing.T) {
	store := entry.NewStore(t.TempDir(), nil)
	r := NewRuntime(store, nil, nil, nil)
	status, message := r.Health()
	assert.Equal(t, core.HealthDegraded, status)
	assert.Contains(t, message, "setup")
}

func TestRunReloadsOnOptionsChange(t *testing.T) {
	fake := &fakeDeviceClient{devices: testDevices()}
	r, store, built := newTestRuntime(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.Ready, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), built.Load())

	entries, err := store.Entries(context.Background(), Domain)
	require.NoError(t, err)
	_, err = store.UpdateOptions(context.Background(), Domain, entries[0].EntryID, map[string]int{ConfScanInterval: 90})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return built.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.accounts) == 1 && r.accounts[0].interval == 90*time.Second
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
