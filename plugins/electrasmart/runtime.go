package electrasmart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

var ErrClimateNotFound = errors.New("electrasmart: climate not found")

const pollConcurrency = 4

// DeviceClient is the cloud client used by a configured account.
type DeviceClient interface {
	DeviceAPI
	GetDevices(ctx context.Context) ([]*api.Device, error)
}

type ClientFactory func(e entry.Entry) DeviceClient

// NewClientFactory builds cloud clients from stored entries.
func NewClientFactory(baseURL string, httpClient *http.Client) ClientFactory {
	return func(e entry.Entry) DeviceClient {
		return api.NewClient(api.Config{
			BaseURL:    baseURL,
			IMEI:       e.Data[ConfIMEI],
			Token:      e.Data[ConfToken],
			HTTPClient: httpClient,
		})
	}
}

type stateWriters []StateWriter

func (w stateWriters) WriteState(ctx context.Context, state ClimateState) {
	for _, writer := range w {
		writer.WriteState(ctx, state)
	}
}

// account is one config entry: a phone number, its token, and the units
// discovered with it.
type account struct {
	entry    entry.Entry
	client   DeviceClient
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	climates []*Climate
	health   core.HealthStatus
	message  string
	cancel   context.CancelFunc
}

func (a *account) setHealth(status core.HealthStatus, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = status
	a.message = message
}

// stop marks the account failed and cancels its loop. Only a new setup
// recovers it.
func (a *account) stop(err error) {
	a.mu.Lock()
	a.health = core.HealthError
	a.message = err.Error()
	cancel := a.cancel
	a.mu.Unlock()
	a.logger.Error("authentication failed, stopping account", "err", err)
	if cancel != nil {
		cancel()
	}
}

func (a *account) snapshot() ([]*Climate, core.HealthStatus, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.climates, a.health, a.message
}

// Runtime owns the configured accounts, discovers their units, and polls
// them on the entry's scan interval.
type Runtime struct {
	entries   *entry.Store
	newClient ClientFactory
	writer    StateWriter
	logger    *slog.Logger
	reload    chan struct{}

	mu       sync.RWMutex
	accounts []*account
	loadErr  error
}

func NewRuntime(entries *entry.Store, newClient ClientFactory, writer StateWriter, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		entries:   entries,
		newClient: newClient,
		writer:    writer,
		logger:    logger,
		reload:    make(chan struct{}, 1),
	}
	entries.Subscribe(Domain, func(_ context.Context, e entry.Entry, change entry.Change) {
		r.logger.Info("config entry changed, reloading", "entry_id", e.EntryID, "change", change)
		select {
		case r.reload <- struct{}{}:
		default:
		}
	})
	return r
}

// Run blocks until ctx is cancelled, restarting all accounts whenever an
// entry is created, updated, or removed.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup

		accounts, err := r.loadAccounts(runCtx)
		contexts := make([]context.Context, len(accounts))
		for i, acct := range accounts {
			contexts[i], acct.cancel = context.WithCancel(runCtx)
		}
		r.mu.Lock()
		r.accounts = accounts
		r.loadErr = err
		r.mu.Unlock()
		if err != nil {
			r.logger.Error("failed to load config entries", "err", err)
		}

		for i, acct := range accounts {
			wg.Add(1)
			go func(ctx context.Context, acct *account) {
				defer wg.Done()
				r.runAccount(ctx, acct)
			}(contexts[i], acct)
		}

		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil
		case <-r.reload:
			cancel()
			wg.Wait()
		}
	}
}

func (r *Runtime) loadAccounts(ctx context.Context) ([]*account, error) {
	entries, err := r.entries.Entries(ctx, Domain)
	if err != nil {
		return nil, err
	}
	accounts := make([]*account, 0, len(entries))
	for _, e := range entries {
		seconds := e.Option(ConfScanInterval, int(DefaultScanInterval.Seconds()))
		if seconds <= 0 {
			seconds = int(DefaultScanInterval.Seconds())
		}
		accounts = append(accounts, &account{
			entry:    e,
			client:   r.newClient(e),
			interval: time.Duration(seconds) * time.Second,
			logger:   r.logger.With("entry", e.Title),
			health:   core.HealthDegraded,
			message:  "discovering devices",
		})
	}
	return accounts, nil
}

func (r *Runtime) runAccount(ctx context.Context, acct *account) {
	ticker := time.NewTicker(acct.interval)
	defer ticker.Stop()

	for {
		if r.discover(ctx, acct) {
			break
		}
		acct.mu.RLock()
		failed := acct.health == core.HealthError
		acct.mu.RUnlock()
		if failed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	for {
		if !r.pollAccount(ctx, acct) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// discover loads the account's units. Auth failures stop the account;
// anything else leaves it degraded until the next tick.
func (r *Runtime) discover(ctx context.Context, acct *account) bool {
	acct.logger.Debug("fetching electra ac devices")
	devices, err := acct.client.GetDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		setupErr := setupError(err)
		if errors.Is(setupErr, ErrReauthRequired) {
			acct.logger.Error("authentication failed, run gohome setup electrasmart again", "err", err)
			acct.setHealth(core.HealthError, setupErr.Error()+", you must re-authenticate by running setup again")
			return false
		}
		acct.logger.Warn("setup not ready, retrying", "err", err, "retry_in", acct.interval)
		acct.setHealth(core.HealthDegraded, setupErr.Error())
		return false
	}

	climates := make([]*Climate, 0, len(devices))
	for _, device := range devices {
		climates = append(climates, NewClimate(device, acct.client, r.writer, acct.logger))
	}
	acct.logger.Debug("discovered electra devices", "count", len(climates))

	acct.mu.Lock()
	acct.climates = climates
	acct.health = core.HealthHealthy
	acct.message = ""
	acct.mu.Unlock()
	return true
}

// pollAccount updates every unit of the account. It returns false when the
// account was stopped because the token is no longer accepted.
func (r *Runtime) pollAccount(ctx context.Context, acct *account) bool {
	climates, _, _ := acct.snapshot()

	var (
		g         errgroup.Group
		reauthMu  sync.Mutex
		reauthErr error
	)
	g.SetLimit(pollConcurrency)
	for _, climate := range climates {
		climate := climate
		g.Go(func() error {
			if err := climate.Update(ctx); err != nil {
				acct.logger.Error("poll failed", "device", climate.Name(), "err", err)
				if errors.Is(err, ErrReauthRequired) {
					reauthMu.Lock()
					reauthErr = err
					reauthMu.Unlock()
				}
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if reauthErr != nil {
		acct.stop(reauthErr)
		return false
	}
	if err != nil {
		acct.setHealth(core.HealthDegraded, err.Error())
		return true
	}
	acct.setHealth(core.HealthHealthy, "")
	return true
}

// Climates returns every discovered entity sorted by name.
func (r *Runtime) Climates() []*Climate {
	r.mu.RLock()
	accounts := r.accounts
	r.mu.RUnlock()

	var out []*Climate
	for _, acct := range accounts {
		climates, _, _ := acct.snapshot()
		out = append(out, climates...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Ready reports whether at least one account finished discovery.
func (r *Runtime) Ready() bool {
	r.mu.RLock()
	accounts := r.accounts
	r.mu.RUnlock()
	for _, acct := range accounts {
		if _, health, _ := acct.snapshot(); health != core.HealthError && acct.discovered() {
			return true
		}
	}
	return false
}

func (a *account) discovered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.climates != nil
}

// Climate finds an entity by MAC.
func (r *Runtime) Climate(uniqueID string) (*Climate, error) {
	for _, climate := range r.Climates() {
		if climate.UniqueID() == uniqueID {
			return climate, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClimateNotFound, uniqueID)
}

// Command runs fn against an entity. A re-authentication error stops the
// owning account.
func (r *Runtime) Command(uniqueID string, fn func(*Climate) error) error {
	climate, err := r.Climate(uniqueID)
	if err != nil {
		return err
	}
	err = fn(climate)
	if errors.Is(err, ErrReauthRequired) {
		r.failAccount(climate, err)
	}
	return err
}

func (r *Runtime) failAccount(climate *Climate, err error) {
	r.mu.RLock()
	accounts := r.accounts
	r.mu.RUnlock()
	for _, acct := range accounts {
		climates, _, _ := acct.snapshot()
		for _, c := range climates {
			if c != climate {
				continue
			}
			acct.stop(err)
			return
		}
	}
}

// Health folds account health into one status. No entries means setup
// has not been run yet.
func (r *Runtime) Health() (core.HealthStatus, string) {
	r.mu.RLock()
	accounts := r.accounts
	loadErr := r.loadErr
	r.mu.RUnlock()

	if loadErr != nil {
		return core.HealthError, loadErr.Error()
	}
	if len(accounts) == 0 {
		return core.HealthDegraded, "no config entry, run gohome setup electrasmart"
	}

	status := core.HealthHealthy
	message := ""
	for _, acct := range accounts {
		_, health, msg := acct.snapshot()
		switch {
		case health == core.HealthError:
			return health, msg
		case health == core.HealthDegraded && status == core.HealthHealthy:
			status, message = health, msg
		}
	}
	return status, message
}
