package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
)

// ErrNoData is returned when a write is requested with no bytes.
var ErrNoData = errors.New("no data entered")

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		notFound  *device.NotFoundError
		connErr   *device.ConnectionError
		ambiguous *device.AmbiguousError
		commErr   *bluez.CommunicationError
	)

	switch {
	case errors.Is(err, device.ErrNoAdapter):
		return "no Bluetooth adapter found; is bluetoothd running and the adapter powered?"

	case errors.As(err, &notFound):
		if notFound.Resource == "device" {
			return fmt.Sprintf("device %s not found; run a scan first", notFound.ID)
		}
		return fmt.Sprintf("%s %s not found", notFound.Resource, notFound.ID)

	case errors.As(err, &connErr):
		switch connErr.State {
		case device.NotConnected:
			return "no device connected"
		case device.AlreadyConnected:
			return "already connected; disconnect first"
		default:
			if connErr.Err != nil {
				return fmt.Sprintf("failed to connect to %s: %s", connErr.Msg, rootCause(connErr.Err))
			}
			return fmt.Sprintf("failed to connect to %s", connErr.Msg)
		}

	case errors.As(err, &ambiguous):
		return fmt.Sprintf("characteristic %s matches several objects, use one of: %s",
			ambiguous.UUID, strings.Join(ambiguous.Paths, ", "))

	case errors.As(err, &commErr):
		return fmt.Sprintf("bluetooth call %s failed: %s", commErr.Op, rootCause(commErr.Err))
	}

	return err.Error()
}

func rootCause(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
