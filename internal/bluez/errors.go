package bluez

import (
	"errors"
	"fmt"
)

// ErrUnexpectedReply is wrapped when a remote call succeeds but returns a
// value of the wrong shape.
var ErrUnexpectedReply = errors.New("unexpected reply")

// CommunicationError reports a failed remote call or an unreachable bus.
type CommunicationError struct {
	Op   string // method or operation, e.g. "org.bluez.Device1.Connect"
	Path string // object path, empty for bus-level failures
	Err  error
}

func (e *CommunicationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return fmt.Sprintf("bluez: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bluez: %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// IsCommunicationError reports whether err carries a CommunicationError.
func IsCommunicationError(err error) bool {
	var cerr *CommunicationError
	return errors.As(err, &cerr)
}
