package electrasmart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joshp123/gohome-electra/plugins/electrasmart/api"
)

var (
	// ErrReauthRequired means the stored token no longer works and the
	// setup flow must be run again.
	ErrReauthRequired = errors.New("electrasmart: re-authentication required")
	// ErrNotReady means setup failed for a reason that may clear up; it is
	// retried on the next scan tick.
	ErrNotReady = errors.New("electrasmart: not ready")
	// ErrInvalidValue rejects a command value outside the supported set.
	ErrInvalidValue = errors.New("electrasmart: invalid value")
)

const clientErrorMarker = "client error"

// HostError is surfaced to the caller of a command or poll.
type HostError struct {
	Message string
	Err     error
}

func (e *HostError) Error() string {
	return e.Message
}

func (e *HostError) Unwrap() error {
	return e.Err
}

type errorClass int

const (
	classTransport errorClass = iota
	classClient
	classLockout
)

// classify reads the error text. The lockout marker wins over everything
// else in the message.
func classify(err error) errorClass {
	text := err.Error()
	switch {
	case strings.Contains(text, api.LockoutMarker):
		return classLockout
	case strings.Contains(strings.ToLower(text), clientErrorMarker):
		return classClient
	default:
		return classTransport
	}
}

// setupError maps a discovery failure to ErrReauthRequired or ErrNotReady.
func setupError(err error) error {
	switch classify(err) {
	case classLockout:
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	case classClient:
		return fmt.Errorf("%w: error communicating with API: %v", ErrNotReady, err)
	default:
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
}
