package testutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bluezctl/internal/bluez"
)

// ErrNoSuchProperty mimics org.freedesktop.DBus.Error.InvalidArgs for unknown properties.
var ErrNoSuchProperty = errors.New("org.freedesktop.DBus.Error.InvalidArgs: No such property")

// ErrNoDiscovery mimics BlueZ failing StopDiscovery when nothing is running.
var ErrNoDiscovery = errors.New("org.bluez.Error.Failed: No discovery started")

// ErrNoSuchObject mimics calls against removed or unknown objects.
var ErrNoSuchObject = errors.New("org.freedesktop.DBus.Error.UnknownObject")

// Call is one recorded Bus.Call invocation.
type Call struct {
	Path   string
	Method string
	Args   []any
}

// CallHook overrides the built-in behavior of a method.
type CallHook func(bus *FakeBus, path string, args []any) ([]any, error)

// FakeBus is an in-memory bluez.Bus. It keeps a mutable object tree and
// applies the side effects bluetoothd would (Connect flips Connected,
// RemoveDevice deletes the subtree, WriteValue stores Value, ...).
type FakeBus struct {
	mu       sync.Mutex
	objects  bluez.Snapshot
	calls    []Call
	reads    map[string]int
	failures map[string]error
	hooks    map[string]CallHook
	refuse   map[string]bool
	events   chan bluez.PropertiesChanged
	closed   bool
}

// NewFakeBus creates a bus over a copy of objects.
func NewFakeBus(objects bluez.Snapshot) *FakeBus {
	return &FakeBus{
		objects:  cloneSnapshot(objects),
		reads:    make(map[string]int),
		failures: make(map[string]error),
		hooks:    make(map[string]CallHook),
		refuse:   make(map[string]bool),
		events:   make(chan bluez.PropertiesChanged, 64),
	}
}

// FailOn makes every call of method fail with err wrapped in a
// CommunicationError. Use "GetManagedObjects" for snapshots and
// "Get <iface>.<name>" for property reads. A nil err clears the failure.
func (b *FakeBus) FailOn(method string, err error) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, method)
	} else {
		b.failures[method] = err
	}
	return b
}

// Hook replaces the behavior of method.
func (b *FakeBus) Hook(method string, hook CallHook) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[method] = hook
	return b
}

// RefuseConnect makes Device1.Connect succeed without the link coming up.
func (b *FakeBus) RefuseConnect(devicePath string) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse[devicePath] = true
	return b
}

// SetProperty sets or adds a property on an object, creating it if needed.
func (b *FakeBus) SetProperty(path, iface, name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(path, iface, name, value)
}

// PropertyValue returns the current raw property value, or nil.
func (b *FakeBus) PropertyValue(path, iface, name string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[path][iface][name].Raw()
}

// AddObject inserts an object with the given interfaces.
func (b *FakeBus) AddObject(path string, ifaces bluez.Interfaces) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = cloneInterfaces(ifaces)
}

// RemoveObjects deletes path and every object below it.
func (b *FakeBus) RemoveObjects(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(path)
}

// Emit delivers a PropertiesChanged event to the Signals consumer.
func (b *FakeBus) Emit(ev bluez.PropertiesChanged) {
	b.events <- ev
}

// EmitValue emits a characteristic Value change for path.
func (b *FakeBus) EmitValue(path string, value []byte) {
	b.Emit(bluez.PropertiesChanged{
		Path:      path,
		Interface: bluez.GattCharacteristicInterface,
		Changed:   bluez.Properties{"Value": bluez.NewValue(value)},
	})
}

// Calls returns a copy of the recorded calls.
func (b *FakeBus) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsTo returns the recorded calls of method, in order.
func (b *FakeBus) CallsTo(method string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// PropertyReads returns how many times iface.name was read, on any object.
func (b *FakeBus) PropertyReads(iface, name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads["Get "+iface+"."+name]
}

// ResetCalls forgets recorded calls.
func (b *FakeBus) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	b.reads = make(map[string]int)
}

// ManagedObjects implements bluez.Bus.
func (b *FakeBus) ManagedObjects(ctx context.Context) (bluez.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failureLocked("GetManagedObjects", bluez.RootPath); err != nil {
		return nil, err
	}
	return cloneSnapshot(b.objects), nil
}

// Call implements bluez.Bus.
func (b *FakeBus) Call(ctx context.Context, path, method string, args ...any) ([]any, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Path: path, Method: method, Args: args})
	if err := b.failureLocked(method, path); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	hook, hooked := b.hooks[method]
	b.mu.Unlock()

	if hooked {
		return hook(b, path, args)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.defaultCallLocked(path, method, args)
}

// Property implements bluez.Bus.
func (b *FakeBus) Property(ctx context.Context, path, iface, name string) (bluez.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	op := "Get " + iface + "." + name
	b.reads[op]++
	if err := b.failureLocked(op, path); err != nil {
		return bluez.Value{}, err
	}
	v, ok := b.objects[path][iface][name]
	if !ok {
		return bluez.Value{}, &bluez.CommunicationError{Op: op, Path: path, Err: ErrNoSuchProperty}
	}
	return v, nil
}

// Signals implements bluez.Bus. The fake supports one consumer at a time.
func (b *FakeBus) Signals() (<-chan bluez.PropertiesChanged, func()) {
	return b.events, func() {}
}

// Close implements bluez.Bus.
func (b *FakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *FakeBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBus) failureLocked(op, path string) error {
	if err, ok := b.failures[op]; ok {
		return &bluez.CommunicationError{Op: op, Path: path, Err: err}
	}
	return nil
}

func (b *FakeBus) defaultCallLocked(path, method string, args []any) ([]any, error) {
	iface, member := splitMethod(method)
	if _, ok := b.objects[path][iface]; !ok {
		return nil, &bluez.CommunicationError{Op: method, Path: path, Err: ErrNoSuchObject}
	}

	switch method {
	case bluez.AdapterInterface + ".StartDiscovery":
		b.setLocked(path, iface, "Discovering", true)
	case bluez.AdapterInterface + ".StopDiscovery":
		if discovering, _ := b.objects[path][iface]["Discovering"].AsBool(); !discovering {
			return nil, &bluez.CommunicationError{Op: method, Path: path, Err: ErrNoDiscovery}
		}
		b.setLocked(path, iface, "Discovering", false)
	case bluez.AdapterInterface + ".RemoveDevice":
		target, ok := args[0].(dbus.ObjectPath)
		if !ok {
			return nil, fmt.Errorf("RemoveDevice: unexpected argument %T", args[0])
		}
		if _, exists := b.objects[string(target)]; !exists {
			return nil, &bluez.CommunicationError{Op: method, Path: path, Err: ErrNoSuchObject}
		}
		b.removeLocked(string(target))
	case bluez.DeviceInterface + ".Connect":
		if !b.refuse[path] {
			b.setLocked(path, iface, "Connected", true)
		}
	case bluez.DeviceInterface + ".Disconnect":
		b.setLocked(path, iface, "Connected", false)
	case bluez.GattCharacteristicInterface + ".ReadValue":
		data, _ := b.objects[path][iface]["Value"].AsBytes()
		return []any{append([]byte(nil), data...)}, nil
	case bluez.GattCharacteristicInterface + ".WriteValue":
		data, ok := args[0].([]byte)
		if !ok {
			return nil, fmt.Errorf("WriteValue: unexpected argument %T", args[0])
		}
		b.setLocked(path, iface, "Value", append([]byte(nil), data...))
	case bluez.GattCharacteristicInterface + ".StartNotify":
		b.setLocked(path, iface, "Notifying", true)
	case bluez.GattCharacteristicInterface + ".StopNotify":
		b.setLocked(path, iface, "Notifying", false)
	default:
		return nil, fmt.Errorf("fake bus: unsupported method %s (%s)", method, member)
	}
	return nil, nil
}

func (b *FakeBus) setLocked(path, iface, name string, value any) {
	ifaces, ok := b.objects[path]
	if !ok {
		ifaces = make(bluez.Interfaces)
		b.objects[path] = ifaces
	}
	props, ok := ifaces[iface]
	if !ok {
		props = make(bluez.Properties)
		ifaces[iface] = props
	}
	props[name] = bluez.NewValue(value)
}

func (b *FakeBus) removeLocked(path string) {
	for p := range b.objects {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(b.objects, p)
		}
	}
}

func splitMethod(method string) (string, string) {
	i := strings.LastIndex(method, ".")
	if i < 0 {
		return "", method
	}
	return method[:i], method[i+1:]
}

func cloneSnapshot(s bluez.Snapshot) bluez.Snapshot {
	out := make(bluez.Snapshot, len(s))
	for path, ifaces := range s {
		out[path] = cloneInterfaces(ifaces)
	}
	return out
}

func cloneInterfaces(ifaces bluez.Interfaces) bluez.Interfaces {
	out := make(bluez.Interfaces, len(ifaces))
	for iface, props := range ifaces {
		p := make(bluez.Properties, len(props))
		for k, v := range props {
			p[k] = v
		}
		out[iface] = p
	}
	return out
}
