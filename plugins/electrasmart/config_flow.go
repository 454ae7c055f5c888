package electrasmart

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

const (
	errCannotConnect      = "cannot_connect"
	errInvalidPhoneNumber = "invalid_phone_number"
	errInvalidAuth        = "invalid_auth"
	errInvalidInterval    = "invalid_scan_interval"
)

// SetupAPI is the part of the cloud client the setup wizard needs.
type SetupAPI interface {
	GenerateNewToken(ctx context.Context, phone, imei string) (api.Response, error)
	ValidateOneTimePassword(ctx context.Context, otp, imei, phone string) (api.Response, error)
}

type uniqueIDChecker interface {
	HasUniqueID(ctx context.Context, domain, uniqueID string) (bool, error)
}

// RegisterFlows installs the phone/OTP setup flow and the options flow.
func RegisterFlows(flows *flow.Manager, entries *entry.Store, client SetupAPI, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	flows.RegisterConfigFlow(Domain, func() flow.Handler {
		return NewConfigFlow(client, entries, logger)
	})
	flows.RegisterOptionsFlow(Domain, func(e entry.Entry) flow.Handler {
		return &OptionsFlow{entry: e}
	})
}

// ConfigFlow collects a phone number, requests an OTP, and exchanges it
// for a token. Its fields live only for the duration of the wizard.
type ConfigFlow struct {
	client       SetupAPI
	entries      uniqueIDChecker
	logger       *slog.Logger
	generateIMEI func() (string, error)

	phone string
	imei  string
}

func NewConfigFlow(client SetupAPI, entries uniqueIDChecker, logger *slog.Logger) *ConfigFlow {
	return &ConfigFlow{
		client:       client,
		entries:      entries,
		logger:       logger,
		generateIMEI: api.GenerateIMEI,
	}
}

func (f *ConfigFlow) Step(ctx context.Context, stepID string, input map[string]string) (flow.Result, error) {
	switch stepID {
	case flow.StepUser:
		return f.stepUser(ctx, input)
	case StepOneTimePassword:
		return f.stepOneTimePassword(ctx, input)
	default:
		return flow.Abort("unknown_step"), nil
	}
}

func (f *ConfigFlow) stepUser(ctx context.Context, input map[string]string) (flow.Result, error) {
	if input == nil {
		return f.phoneForm("", nil), nil
	}

	phone := strings.TrimSpace(input[ConfPhoneNumber])
	if phone == "" {
		return f.phoneForm(phone, map[string]string{ConfPhoneNumber: errInvalidPhoneNumber}), nil
	}
	f.phone = phone

	imei, err := f.generateIMEI()
	if err != nil {
		return flow.Result{}, err
	}
	f.imei = imei

	if f.entries != nil {
		exists, err := f.entries.HasUniqueID(ctx, Domain, phone)
		if err != nil {
			return flow.Result{}, err
		}
		if exists {
			return flow.Abort(flow.AbortAlreadyConfigured), nil
		}
	}

	resp, err := f.client.GenerateNewToken(ctx, f.phone, f.imei)
	if err != nil {
		f.logger.Error("failed to connect to API", "err", err)
		return f.phoneForm(phone, map[string]string{flow.ErrorBase: errCannotConnect}), nil
	}
	if resp.Status == api.StatusSuccess && resp.Res != api.StatusSuccess {
		return f.phoneForm(phone, map[string]string{ConfPhoneNumber: errInvalidPhoneNumber}), nil
	}

	return f.otpForm(nil), nil
}

func (f *ConfigFlow) stepOneTimePassword(ctx context.Context, input map[string]string) (flow.Result, error) {
	if input == nil {
		return f.otpForm(nil), nil
	}

	otp := strings.TrimSpace(input[ConfOTP])
	resp, err := f.client.ValidateOneTimePassword(ctx, otp, f.imei, f.phone)
	if err != nil {
		f.logger.Error("failed to connect to API", "err", err)
		return f.otpForm(map[string]string{flow.ErrorBase: errCannotConnect}), nil
	}

	if resp.Res != api.StatusSuccess {
		return f.otpForm(map[string]string{ConfOTP: errInvalidAuth}), nil
	}
	token, err := resp.Token()
	if err != nil {
		f.logger.Error("malformed one time password response", "err", err, "response", resp.String())
		return f.otpForm(map[string]string{flow.ErrorBase: errCannotConnect}), nil
	}
	if token == "" {
		return f.otpForm(map[string]string{ConfOTP: errInvalidAuth}), nil
	}

	return flow.CreateEntry(f.phone, f.phone, map[string]string{
		ConfToken:       token,
		ConfIMEI:        f.imei,
		ConfPhoneNumber: f.phone,
	}), nil
}

func (f *ConfigFlow) phoneForm(phone string, errs map[string]string) flow.Result {
	return flow.Form(flow.StepUser, []flow.Field{
		{Name: ConfPhoneNumber, Required: true, Default: phone},
	}, errs)
}

func (f *ConfigFlow) otpForm(errs map[string]string) flow.Result {
	res := flow.Form(StepOneTimePassword, []flow.Field{
		{Name: ConfOTP, Required: true, Secret: true},
	}, errs)
	res.Placeholders = map[string]string{ConfPhoneNumber: f.phone}
	return res
}

// OptionsFlow edits the poll interval of an existing entry.
type OptionsFlow struct {
	entry entry.Entry
}

func (f *OptionsFlow) Step(_ context.Context, _ string, input map[string]string) (flow.Result, error) {
	current := f.entry.Option(ConfScanInterval, int(DefaultScanInterval.Seconds()))
	fields := []flow.Field{{Name: ConfScanInterval, Required: true, Default: strconv.Itoa(current)}}
	if input == nil {
		return flow.Form(flow.StepInit, fields, nil), nil
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(input[ConfScanInterval]))
	if err != nil || seconds <= 0 {
		return flow.Form(flow.StepInit, fields, map[string]string{ConfScanInterval: errInvalidInterval}), nil
	}
	return flow.CreateOptions(map[string]int{ConfScanInterval: seconds}), nil
}
