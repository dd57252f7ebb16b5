// Package central wires the BlueZ bus, the device components and the scanner
// into a single handle driven by one controlling caller.
package central

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/pkg/config"
	"github.com/srg/bluezctl/scanner"
)

// Manager is the central role: scan, connect, discover, read, write and
// subscribe against one adapter with at most one connected device.
type Manager struct {
	bus    bluez.Bus
	cfg    *config.Config
	logger *logrus.Logger

	adapter    *bluez.Adapter
	directory  *bluez.Directory
	registry   *device.Registry
	catalog    *device.Catalog
	dispatcher *device.Dispatcher
	session    *device.Session
	scanner    *scanner.Scanner
}

// New locates the adapter and starts notification dispatch. It fails with
// device.ErrNoAdapter when the bus exposes no (matching) adapter.
// The registry starts empty; call Scan or Refresh to populate it.
func New(ctx context.Context, bus bluez.Bus, cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	directory := bluez.NewDirectory(bus, logger)
	snap, err := directory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate bluetooth objects: %w", err)
	}
	adapterPath, err := device.FindAdapterPathNamed(snap, cfg.Adapter)
	if err != nil {
		return nil, err
	}
	logger.WithField("adapter", adapterPath).Info("Using adapter")

	registry := device.NewRegistry(logger)
	catalog := device.NewCatalog(bus, directory, cfg.DiscoverySettle, logger)
	dispatcher := device.NewDispatcher(bus, catalog, logger)
	session := device.NewSession(bus, registry, catalog, dispatcher, cfg.ConnectSettle, logger)

	m := &Manager{
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		adapter:    bluez.NewAdapter(bus, adapterPath),
		directory:  directory,
		registry:   registry,
		catalog:    catalog,
		dispatcher: dispatcher,
		session:    session,
		scanner:    scanner.NewScanner(bus, adapterPath, registry, logger),
	}
	dispatcher.Start(context.WithoutCancel(ctx))
	return m, nil
}

// AdapterPath returns the object path of the adapter in use.
func (m *Manager) AdapterPath() string {
	return m.adapter.Path()
}

// Scan runs discovery for opts.Duration (the configured scan duration when
// opts is nil) and returns the refreshed, filtered device list.
func (m *Manager) Scan(ctx context.Context, opts *scanner.ScanOptions, progress scanner.ProgressCallback) ([]device.Device, error) {
	if opts == nil {
		opts = &scanner.ScanOptions{Duration: m.cfg.ScanDuration}
	}
	return m.scanner.Scan(ctx, opts, progress)
}

// Refresh reloads the registry from the current object tree without scanning.
func (m *Manager) Refresh(ctx context.Context) (int, error) {
	snap, err := m.directory.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return m.registry.Refresh(snap), nil
}

// Devices lists known devices sorted by path, optionally filtered by a UUID substring.
func (m *Manager) Devices(filterUUID string) []device.Device {
	return m.registry.List(filterUUID)
}

// Device returns one known device.
func (m *Manager) Device(path string) (device.Device, error) {
	return m.registry.Get(path)
}

// Connect connects to a known device and discovers its characteristics.
func (m *Manager) Connect(ctx context.Context, devicePath string) error {
	return m.session.Connect(ctx, devicePath)
}

// Disconnect drops the current connection.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.session.Disconnect(ctx)
}

// Forget removes a device from bluetoothd and from the registry. A connected
// device is disconnected first. When the remote removal fails the registry
// keeps the device.
func (m *Manager) Forget(ctx context.Context, devicePath string) error {
	if !m.registry.Contains(devicePath) {
		return &device.NotFoundError{Resource: "device", ID: devicePath}
	}

	if connected, ok := m.session.DevicePath(); ok && connected == devicePath {
		if err := m.session.Disconnect(ctx); err != nil && !device.IsConnectionState(err, device.NotConnected) {
			return err
		}
	}

	if err := m.adapter.RemoveDevice(ctx, devicePath); err != nil {
		return err
	}
	m.registry.Remove(devicePath)
	m.logger.WithField("device", devicePath).Info("Device forgotten")
	return nil
}

// Discover re-runs characteristic discovery on the connected device.
func (m *Manager) Discover(ctx context.Context) (int, error) {
	return m.session.Discover(ctx)
}

// Characteristics lists the connected device's characteristics with their flags.
func (m *Manager) Characteristics(ctx context.Context) ([]device.Characteristic, error) {
	if _, ok := m.session.DevicePath(); !ok {
		return nil, device.ErrNotConnected
	}
	return m.catalog.List(ctx), nil
}

// Characteristic resolves a characteristic by UUID or object path and fetches its flags.
func (m *Manager) Characteristic(ctx context.Context, id string) (device.Characteristic, error) {
	if err := m.requireConnected(); err != nil {
		return device.Characteristic{}, err
	}
	return m.catalog.Describe(ctx, id)
}

// Read reads a characteristic by UUID or object path.
func (m *Manager) Read(ctx context.Context, id string) ([]byte, error) {
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	return m.dispatcher.Read(ctx, id)
}

// Write writes a characteristic. An empty mode means an acknowledged write.
func (m *Manager) Write(ctx context.Context, id string, data []byte, mode bluez.WriteType) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.dispatcher.Write(ctx, id, data, mode)
}

// Subscribe routes notifications of a characteristic to onValue.
func (m *Manager) Subscribe(ctx context.Context, id string, onValue device.NotifyFunc) (device.Characteristic, error) {
	if err := m.requireConnected(); err != nil {
		return device.Characteristic{}, err
	}
	return m.dispatcher.Subscribe(ctx, id, onValue)
}

// Unsubscribe stops notifications of a characteristic.
func (m *Manager) Unsubscribe(ctx context.Context, id string) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.dispatcher.Unsubscribe(ctx, id)
}

// Subscriptions returns the object paths with active subscriptions.
func (m *Manager) Subscriptions() []string {
	return m.dispatcher.Subscriptions()
}

// State returns the connection state.
func (m *Manager) State() device.State {
	return m.session.State()
}

// ConnectedDevice returns the connected device path.
func (m *Manager) ConnectedDevice() (string, bool) {
	return m.session.DevicePath()
}

// MTU returns the advisory ATT MTU of the current link.
func (m *Manager) MTU() (int, bool) {
	return m.session.MTU()
}

// Close disconnects, stops dispatch and closes the bus.
func (m *Manager) Close(ctx context.Context) error {
	if _, ok := m.session.DevicePath(); ok {
		_ = m.session.Disconnect(ctx)
	}
	m.dispatcher.Close()
	return m.bus.Close()
}

func (m *Manager) requireConnected() error {
	if _, ok := m.session.DevicePath(); !ok {
		return device.ErrNotConnected
	}
	return nil
}
