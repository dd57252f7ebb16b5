package device

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
)

// FindAdapterPath returns the first adapter in path order.
func FindAdapterPath(snap bluez.Snapshot) (string, error) {
	return FindAdapterPathNamed(snap, "")
}

// FindAdapterPathNamed returns the adapter whose last path element is name
// ("hci1"). An empty name picks the first adapter in path order.
func FindAdapterPathNamed(snap bluez.Snapshot, name string) (string, error) {
	for _, p := range snap.Paths() {
		if !snap.Implements(p, bluez.AdapterInterface) {
			continue
		}
		if name == "" || path.Base(p) == name {
			return p, nil
		}
	}
	if name != "" {
		return "", fmt.Errorf("%w: adapter %q", ErrNoAdapter, name)
	}
	return "", ErrNoAdapter
}

// Registry is the locally known set of peripherals, keyed by object path.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	logger  *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: make(map[string]Device),
		logger:  logger,
	}
}

// Refresh replaces the device set with every Device1 object in snap.
// Devices absent from snap are dropped. It returns the new device count.
func (r *Registry) Refresh(snap bluez.Snapshot) int {
	devices := make(map[string]Device)
	for p, ifaces := range snap {
		props, ok := ifaces[bluez.DeviceInterface]
		if !ok {
			continue
		}
		devices[p] = NewDevice(p, props)
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.logger.WithField("devices", len(devices)).Debug("Device registry refreshed")
	return len(devices)
}

// List returns devices sorted by path. A non-empty filter keeps devices
// advertising a UUID that contains it, ignoring case.
func (r *Registry) List(filter string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if d.HasService(filter) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Get returns the device at devicePath.
func (r *Registry) Get(devicePath string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[devicePath]
	if !ok {
		return Device{}, &NotFoundError{Resource: "device", ID: devicePath}
	}
	return d, nil
}

// Contains reports whether devicePath is a known device.
func (r *Registry) Contains(devicePath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[devicePath]
	return ok
}

// Remove drops the device at devicePath and reports whether it was known.
// Callers tear down a connection to it first.
func (r *Registry) Remove(devicePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[devicePath]; !ok {
		return false
	}
	delete(r.devices, devicePath)
	r.logger.WithField("path", devicePath).Debug("Device removed from registry")
	return true
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
