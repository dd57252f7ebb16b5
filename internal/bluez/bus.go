package bluez

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PropertiesChanged is one org.freedesktop.DBus.Properties.PropertiesChanged
// signal emitted by an object under the BlueZ tree.
type PropertiesChanged struct {
	Path        string
	Interface   string
	Changed     Properties
	Invalidated []string
}

// Bus is the remote object-management protocol consumed by the central.
//
// Method names passed to Call are fully qualified ("org.bluez.Adapter1.StartDiscovery").
// No timeouts are added beyond what ctx carries.
type Bus interface {
	// ManagedObjects returns the whole object tree under RootPath.
	ManagedObjects(ctx context.Context) (Snapshot, error)
	// Call invokes a method on the object at path and returns the reply body.
	Call(ctx context.Context, path, method string, args ...any) ([]any, error)
	// Property reads a single property through org.freedesktop.DBus.Properties.Get.
	Property(ctx context.Context, path, iface, name string) (Value, error)
	// Signals starts delivering PropertiesChanged events. The returned func
	// stops delivery; the channel is closed afterwards.
	Signals() (<-chan PropertiesChanged, func())
	Close() error
}

// Directory takes point-in-time snapshots of the remote object tree.
type Directory struct {
	bus    Bus
	logger *logrus.Logger
}

// NewDirectory creates a Directory over bus.
func NewDirectory(bus Bus, logger *logrus.Logger) *Directory {
	if logger == nil {
		logger = logrus.New()
	}
	return &Directory{bus: bus, logger: logger}
}

// Snapshot performs exactly one GetManagedObjects query. Nothing is cached.
func (d *Directory) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := d.bus.ManagedObjects(ctx)
	if err != nil {
		d.logger.WithError(err).Debug("Object snapshot failed")
		return nil, err
	}
	d.logger.WithField("objects", len(snap)).Debug("Object snapshot taken")
	return snap, nil
}
