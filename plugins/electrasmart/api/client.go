// Package api talks to the Electra Smart cloud (app.ecpiot.co.il). Every
// call is a POST of a command envelope to a single endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://app.ecpiot.co.il/mobile/mobilecommand"

	StatusSuccess     = 0
	ResSessionExpired = 3

	// LockoutMarker appears in error text when the account is locked
	// after too many failed attempts.
	LockoutMarker = "intruder_lockout"

	userAgent  = "Electra Client"
	osName     = "android"
	osVersion  = "M4B30Z"
	sessionTTL = time.Hour

	cmdSendOTP          = "SEND_OTP"
	cmdCheckOTP         = "CHECK_OTP"
	cmdValidateToken    = "VALIDATE_TOKEN"
	cmdGetDevices       = "GET_DEVICES"
	cmdGetLastTelemetry = "GET_LAST_TELEMETRY"
	cmdSendCommand      = "SEND_COMMAND"

	deviceTypeAC = "A/C"
)

// Error is returned for every failed call. Transport failures are
// prefixed with "client error".
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures an API client. IMEI and Token are only required for
// calls that need a session.
type Config struct {
	BaseURL    string
	IMEI       string
	Token      string
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	imei       string
	token      string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	sid   string
	sidAt time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		imei:       cfg.IMEI,
		token:      cfg.Token,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type request struct {
	PVDID int         `json:"pvdid"`
	ID    int         `json:"id"`
	Cmd   string      `json:"cmd"`
	SID   string      `json:"sid,omitempty"`
	Data  interface{} `json:"data"`
}

// Response is the command envelope returned by the cloud.
type Response struct {
	ID      int             `json:"id"`
	Status  int             `json:"status"`
	Desc    string          `json:"desc"`
	Data    json.RawMessage `json:"data"`
	Res     int             `json:"-"`
	ResDesc string          `json:"-"`
}

// OK reports whether both the envelope and the command succeeded.
func (r Response) OK() bool {
	return r.Status == StatusSuccess && r.Res == StatusSuccess
}

// Decode unmarshals the data payload.
func (r Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("empty response data")
	}
	return json.Unmarshal(r.Data, v)
}

// Token returns data.token from a CHECK_OTP response.
func (r Response) Token() (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	if err := r.Decode(&data); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	return data.Token, nil
}

func (r Response) String() string {
	return fmt.Sprintf("{status: %d, desc: %q, res: %d, res_desc: %q}", r.Status, r.Desc, r.Res, r.ResDesc)
}

// GenerateNewToken asks the cloud to send an OTP to the phone.
func (c *Client) GenerateNewToken(ctx context.Context, phone, imei string) (Response, error) {
	return c.send(ctx, cmdSendOTP, "", map[string]string{
		"imei":  imei,
		"phone": phone,
	})
}

// ValidateOneTimePassword exchanges the OTP for a long-lived token.
func (c *Client) ValidateOneTimePassword(ctx context.Context, otp, imei, phone string) (Response, error) {
	return c.send(ctx, cmdCheckOTP, "", map[string]string{
		"imei":  imei,
		"phone": phone,
		"code":  otp,
		"os":    osName,
		"osver": osVersion,
	})
}

type deviceEntry struct {
	ID             int    `json:"id"`
	MAC            string `json:"mac"`
	Name           string `json:"name"`
	Model          string `json:"model"`
	Manufacturer   string `json:"manufactor"`
	DeviceTypeName string `json:"deviceTypeName"`
}

// GetDevices lists the account's air conditioners and loads their
// telemetry.
func (c *Client) GetDevices(ctx context.Context) ([]*Device, error) {
	resp, err := c.sessionCall(ctx, cmdGetDevices, map[string]string{})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &Error{Message: fmt.Sprintf("failed to get devices: %s", resp)}
	}

	var data struct {
		Devices []deviceEntry `json:"devices"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, &Error{Message: "failed to decode devices", Err: err}
	}

	devices := make([]*Device, 0, len(data.Devices))
	for _, entry := range data.Devices {
		if entry.DeviceTypeName != deviceTypeAC {
			continue
		}
		device := &Device{
			ID:           entry.ID,
			MAC:          entry.MAC,
			Name:         entry.Name,
			Model:        entry.Model,
			Manufacturer: entry.Manufacturer,
		}
		if err := c.GetLastTelemetry(ctx, device); err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, nil
}

type telemetryData struct {
	CommandJSON struct {
		OPER   string `json:"OPER"`
		DIAGL2 string `json:"DIAG_L2"`
		HB     string `json:"HB"`
	} `json:"commandJson"`
	TimeDelta float64 `json:"timeDelta"`
}

// GetLastTelemetry refreshes the device with the cloud's cached state.
func (c *Client) GetLastTelemetry(ctx context.Context, device *Device) error {
	resp, err := c.sessionCall(ctx, cmdGetLastTelemetry, map[string]interface{}{
		"id":          device.ID,
		"commandName": "OPER,DIAG_L2,HB",
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &Error{Message: fmt.Sprintf("failed to get telemetry for %s: %s", device.Name, resp)}
	}

	var data telemetryData
	if err := resp.Decode(&data); err != nil {
		return &Error{Message: "failed to decode telemetry", Err: err}
	}

	oper, err := unwrapCommand("OPER", data.CommandJSON.OPER)
	if err != nil {
		return &Error{Message: "failed to decode OPER", Err: err}
	}
	diag, err := unwrapCommand("DIAG_L2", data.CommandJSON.DIAGL2)
	if err != nil {
		return &Error{Message: "failed to decode DIAG_L2", Err: err}
	}
	hb, err := unwrapCommand("HB", data.CommandJSON.HB)
	if err != nil {
		return &Error{Message: "failed to decode HB", Err: err}
	}
	device.applyTelemetry(oper, diag, hb, data.TimeDelta)
	return nil
}

// SetState pushes the device's operating state. A non-nil error means the
// call did not complete; a negative acknowledgement is reported through
// the returned response.
func (c *Client) SetState(ctx context.Context, device *Device) (Response, error) {
	payload, err := json.Marshal(map[string]interface{}{"OPER": device.operSnapshot()})
	if err != nil {
		return Response{}, &Error{Message: "failed to encode state", Err: err}
	}
	return c.sessionCall(ctx, cmdSendCommand, map[string]interface{}{
		"id":          device.ID,
		"commandJson": string(payload),
	})
}

func unwrapCommand(name, raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var wrapper map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, err
	}
	values := wrapper[name]
	if values == nil {
		values = map[string]interface{}{}
	}
	return values, nil
}

// sessionCall runs a command that requires a session id, renewing the
// session once if the cloud reports it expired.
func (c *Client) sessionCall(ctx context.Context, cmd string, data interface{}) (Response, error) {
	sid, err := c.session(ctx, false)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.send(ctx, cmd, sid, data)
	if err != nil || resp.Res != ResSessionExpired {
		return resp, err
	}

	sid, err = c.session(ctx, true)
	if err != nil {
		return Response{}, err
	}
	return c.send(ctx, cmd, sid, data)
}

func (c *Client) session(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !renew && c.sid != "" && c.now().Sub(c.sidAt) < sessionTTL {
		return c.sid, nil
	}
	if c.imei == "" || c.token == "" {
		return "", &Error{Message: "missing imei or token"}
	}

	resp, err := c.send(ctx, cmdValidateToken, "", map[string]string{
		"imei":  c.imei,
		"token": c.token,
		"os":    osName,
		"osver": osVersion,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", &Error{Message: fmt.Sprintf("failed to validate token: %s", resp)}
	}

	var data struct {
		SID string `json:"sid"`
	}
	if err := resp.Decode(&data); err != nil || data.SID == "" {
		return "", &Error{Message: "failed to validate token: missing sid"}
	}
	c.sid = data.SID
	c.sidAt = c.now()
	return c.sid, nil
}

func (c *Client) send(ctx context.Context, cmd, sid string, data interface{}) (Response, error) {
	body, err := json.Marshal(request{PVDID: 1, ID: 99, Cmd: cmd, SID: sid, Data: data})
	if err != nil {
		return Response{}, &Error{Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Message: "client error", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &Error{Message: "client error", Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, &Error{Message: "client error", Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, &Error{Message: "client error", Err: fmt.Errorf("%s returned %d", cmd, httpResp.StatusCode)}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, &Error{Message: "failed to decode response", Err: err}
	}
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		var result struct {
			Res     int             `json:"res"`
			ResDesc json.RawMessage `json:"res_desc"`
		}
		if err := json.Unmarshal(resp.Data, &result); err == nil {
			resp.Res = result.Res
			resp.ResDesc = rawText(result.ResDesc)
		}
	}

	if strings.Contains(resp.ResDesc, LockoutMarker) || strings.Contains(resp.Desc, LockoutMarker) {
		return resp, &Error{Message: fmt.Sprintf("%s: %s rejected, account locked", LockoutMarker, cmd)}
	}
	return resp, nil
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
