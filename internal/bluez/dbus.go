package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/groutine"
	"github.com/srg/bluezctl/internal/ringchan"
)

const (
	// rawSignalBuffer sizes the channel godbus writes signals into.
	rawSignalBuffer = 64
	// EventBuffer is how many decoded events are held before the oldest is dropped.
	EventBuffer = 256

	propertiesChangedMember = "PropertiesChanged"
	bluezPathNamespace      = "/org/bluez"
)

// SystemBus is a Bus backed by a private connection to the D-Bus system bus.
type SystemBus struct {
	conn   *dbus.Conn
	logger *logrus.Logger
}

// DialSystemBus opens a private system bus connection.
func DialSystemBus(logger *logrus.Logger) (*SystemBus, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, &CommunicationError{Op: "connect system bus", Err: err}
	}
	return &SystemBus{conn: conn, logger: logger}, nil
}

// ManagedObjects implements Bus.
func (b *SystemBus) ManagedObjects(ctx context.Context) (Snapshot, error) {
	const method = ObjectManagerInterface + ".GetManagedObjects"

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := b.conn.Object(Service, RootPath).CallWithContext(ctx, method, 0)
	if call.Err != nil {
		return nil, &CommunicationError{Op: method, Path: RootPath, Err: call.Err}
	}
	if err := call.Store(&objects); err != nil {
		return nil, &CommunicationError{Op: method, Path: RootPath, Err: fmt.Errorf("%w: %v", ErrUnexpectedReply, err)}
	}
	return snapshotFromDBus(objects), nil
}

// Call implements Bus.
func (b *SystemBus) Call(ctx context.Context, path, method string, args ...any) ([]any, error) {
	b.logger.WithFields(logrus.Fields{
		"path":   path,
		"method": method,
	}).Debug("Calling remote method")

	call := b.conn.Object(Service, dbus.ObjectPath(path)).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, &CommunicationError{Op: method, Path: path, Err: call.Err}
	}
	return call.Body, nil
}

// Property implements Bus.
func (b *SystemBus) Property(ctx context.Context, path, iface, name string) (Value, error) {
	const method = PropertiesInterface + ".Get"

	var v dbus.Variant
	call := b.conn.Object(Service, dbus.ObjectPath(path)).CallWithContext(ctx, method, 0, iface, name)
	if call.Err != nil {
		return Value{}, &CommunicationError{Op: method + " " + iface + "." + name, Path: path, Err: call.Err}
	}
	if err := call.Store(&v); err != nil {
		return Value{}, &CommunicationError{Op: method + " " + iface + "." + name, Path: path, Err: fmt.Errorf("%w: %v", ErrUnexpectedReply, err)}
	}
	return NewValue(v), nil
}

// Signals implements Bus. Decoded events go through a drop-oldest ring so a
// slow consumer never stalls the connection's reader.
func (b *SystemBus) Signals() (<-chan PropertiesChanged, func()) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(PropertiesInterface),
		dbus.WithMatchMember(propertiesChangedMember),
		dbus.WithMatchOption("path_namespace", bluezPathNamespace),
	}
	if err := b.conn.AddMatchSignal(match...); err != nil {
		b.logger.WithError(err).Warn("Failed to add PropertiesChanged match rule")
	}

	raw := make(chan *dbus.Signal, rawSignalBuffer)
	b.conn.Signal(raw)

	out := ringchan.New[PropertiesChanged](EventBuffer)
	stop := make(chan struct{})

	groutine.Go(context.Background(), "bluez-signal-pump", func(context.Context) {
		defer func() {
			stats := out.Stats()
			b.logger.WithFields(logrus.Fields{
				"delivered": stats.Written,
				"dropped":   stats.Dropped,
			}).Debug("Signal pump stopped")
			out.Close()
		}()
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				ev, ok := decodePropertiesChanged(sig)
				if !ok {
					continue
				}
				if out.Send(ev) {
					b.logger.WithField("path", ev.Path).Warn("Event buffer full, dropped oldest event")
				}
			}
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.conn.RemoveSignal(raw)
			if err := b.conn.RemoveMatchSignal(match...); err != nil {
				b.logger.WithError(err).Debug("Failed to remove PropertiesChanged match rule")
			}
			close(stop)
		})
	}
	return out.C(), cancel
}

// Close implements Bus.
func (b *SystemBus) Close() error {
	return b.conn.Close()
}

func decodePropertiesChanged(sig *dbus.Signal) (PropertiesChanged, bool) {
	if sig == nil || sig.Name != PropertiesInterface+"."+propertiesChangedMember || len(sig.Body) < 2 {
		return PropertiesChanged{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return PropertiesChanged{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return PropertiesChanged{}, false
	}

	ev := PropertiesChanged{
		Path:      string(sig.Path),
		Interface: iface,
		Changed:   make(Properties, len(changed)),
	}
	for name, v := range changed {
		ev.Changed[name] = NewValue(v)
	}
	if len(sig.Body) > 2 {
		ev.Invalidated, _ = sig.Body[2].([]string)
	}
	return ev, true
}
