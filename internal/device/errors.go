package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAdapter is returned when the object tree holds no Adapter1 object.
var ErrNoAdapter = errors.New("no bluetooth adapter found")

// NotFoundError represents a lookup against local state that found nothing
type NotFoundError struct {
	Resource string // "device", "characteristic"
	ID       string // object path or UUID as given by the caller
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is matches another NotFoundError of the same resource kind.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource && (t.ID == "" || t.ID == e.ID)
}

// Sentinels for errors.Is checks.
var (
	ErrDeviceNotFound         = &NotFoundError{Resource: "device"}
	ErrCharacteristicNotFound = &NotFoundError{Resource: "characteristic"}
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
	Err   error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.State)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// AmbiguousError is returned when a UUID matches more than one characteristic.
// Callers disambiguate by passing one of Paths instead.
type AmbiguousError struct {
	UUID  string
	Paths []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("characteristic %q is ambiguous, matches: %s", e.UUID, strings.Join(e.Paths, ", "))
}
