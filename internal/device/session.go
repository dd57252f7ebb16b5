package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
)

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Session owns the single connection to a peripheral.
//
// Transitions: Disconnected -> Connecting -> Connected -> Disconnected, and
// Connecting -> Disconnected on failure. The Catalog and the Dispatcher's
// subscriptions are cleared together with the connection.
type Session struct {
	bus        bluez.Bus
	registry   *Registry
	catalog    *Catalog
	dispatcher *Dispatcher
	settle     time.Duration
	logger     *logrus.Logger

	mu     sync.RWMutex
	state  State
	device string
	mtu    int
}

// NewSession creates a disconnected Session. settleDelay is waited after the
// connect request before the link is confirmed.
func NewSession(bus bluez.Bus, registry *Registry, catalog *Catalog, dispatcher *Dispatcher, settleDelay time.Duration, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		bus:        bus,
		registry:   registry,
		catalog:    catalog,
		dispatcher: dispatcher,
		settle:     settleDelay,
		logger:     logger,
	}
}

// Connect connects to the registered device at devicePath.
//
// bluetoothd may return from Connect before the link is up, so after the
// settle delay the Connected property is read back. Anything short of a
// confirmed link leaves the session Disconnected with a ConnectFailed error.
// On success characteristics are discovered; a discovery failure is logged and
// the session stays connected with an empty catalog.
func (s *Session) Connect(ctx context.Context, devicePath string) error {
	if _, err := s.registry.Get(devicePath); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Disconnected {
		current := s.device
		s.mu.Unlock()
		return &ConnectionError{State: AlreadyConnected, Msg: current}
	}
	s.state = Connecting
	s.mu.Unlock()

	logger := s.logger.WithField("device", devicePath)
	logger.Info("Connecting...")

	if err := s.confirmConnect(ctx, devicePath); err != nil {
		s.setState(Disconnected, "")
		logger.WithError(err).Warn("Connection failed")
		return err
	}

	s.setState(Connected, devicePath)
	logger.Info("Connected")

	if _, err := s.catalog.Discover(ctx, devicePath); err != nil {
		logger.WithError(err).Warn("Characteristic discovery failed, re-run discovery to retry")
	}
	s.readMTU(ctx)
	return nil
}

func (s *Session) confirmConnect(ctx context.Context, devicePath string) error {
	obj := bluez.NewDeviceObject(s.bus, devicePath)
	if err := obj.Connect(ctx); err != nil {
		return &ConnectionError{State: ConnectFailed, Msg: devicePath, Err: err}
	}
	err := s.awaitLink(ctx, obj)
	if err != nil {
		s.abandonLink(ctx, obj)
	}
	return err
}

func (s *Session) awaitLink(ctx context.Context, obj *bluez.DeviceObject) error {
	devicePath := obj.Path()
	if err := Wait(ctx, s.settle); err != nil {
		return &ConnectionError{State: ConnectFailed, Msg: devicePath, Err: err}
	}
	connected, err := obj.Connected(ctx)
	if err != nil {
		return &ConnectionError{State: ConnectFailed, Msg: devicePath, Err: err}
	}
	if !connected {
		return &ConnectionError{State: ConnectFailed, Msg: devicePath + ": link not established"}
	}
	return nil
}

// abandonLink asks bluetoothd to drop a link it may still be bringing up after
// an unconfirmed connect. Failures are only logged.
func (s *Session) abandonLink(ctx context.Context, obj *bluez.DeviceObject) {
	if err := obj.Disconnect(context.WithoutCancel(ctx)); err != nil {
		s.logger.WithError(err).WithField("device", obj.Path()).Warn("Disconnect after unconfirmed connect failed")
	}
}

// Disconnect drops the connection. Remote failures are logged; the local
// teardown always runs. It returns ErrNotConnected when there is nothing to do.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.RLock()
	state, devicePath := s.state, s.device
	s.mu.RUnlock()

	if state != Connected {
		return ErrNotConnected
	}

	logger := s.logger.WithField("device", devicePath)
	if err := bluez.NewDeviceObject(s.bus, devicePath).Disconnect(ctx); err != nil {
		logger.WithError(err).Warn("Remote disconnect failed, clearing local state anyway")
	}
	s.teardown()
	logger.Info("Disconnected")
	return nil
}

// Discover re-runs characteristic discovery for the connected device.
func (s *Session) Discover(ctx context.Context) (int, error) {
	devicePath, ok := s.DevicePath()
	if !ok {
		return 0, ErrNotConnected
	}
	n, err := s.catalog.Discover(ctx, devicePath)
	if err != nil {
		return 0, err
	}
	s.readMTU(ctx)
	return n, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// DevicePath returns the bound device path while connected.
func (s *Session) DevicePath() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device, s.state == Connected
}

// MTU returns the ATT MTU bluetoothd reported for the link. The value is
// advisory; ok is false when none was reported.
func (s *Session) MTU() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mtu, s.mtu > 0
}

// readMTU reads the MTU property of the first characteristic that has one.
// bluetoothd publishes MTU on every characteristic or, before 5.62, on none,
// so the first failed read ends the search.
func (s *Session) readMTU(ctx context.Context) {
	for _, ch := range s.catalog.entriesSnapshot() {
		mtu, err := bluez.NewCharacteristicObject(s.bus, ch.Path).MTU(ctx)
		if err != nil {
			s.logger.WithError(err).Debug("No MTU reported")
			return
		}
		if mtu <= 0 {
			continue
		}
		s.mu.Lock()
		s.mtu = mtu
		s.mu.Unlock()
		s.logger.WithField("mtu", mtu).Debug("MTU reported (advisory)")
		return
	}
	s.logger.Debug("No MTU reported")
}

func (s *Session) teardown() {
	s.dispatcher.Reset()
	s.catalog.Clear()
	s.setState(Disconnected, "")
}

func (s *Session) setState(state State, devicePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.device = devicePath
	if state != Connected {
		s.mtu = 0
	}
}
