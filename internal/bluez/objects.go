package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// WriteType selects the GATT write procedure used by WriteValue.
type WriteType string

const (
	// WriteRequest is an acknowledged write.
	WriteRequest WriteType = "request"
	// WriteCommand is a write without response.
	WriteCommand WriteType = "command"
)

// Adapter wraps an org.bluez.Adapter1 object.
type Adapter struct {
	bus  Bus
	path string
}

// NewAdapter returns a handle on the adapter at path.
func NewAdapter(bus Bus, path string) *Adapter {
	return &Adapter{bus: bus, path: path}
}

// Path returns the adapter object path.
func (a *Adapter) Path() string { return a.path }

// StartDiscovery starts device discovery.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	_, err := a.bus.Call(ctx, a.path, AdapterInterface+".StartDiscovery")
	return err
}

// StopDiscovery stops device discovery. BlueZ fails if none is running.
func (a *Adapter) StopDiscovery(ctx context.Context) error {
	_, err := a.bus.Call(ctx, a.path, AdapterInterface+".StopDiscovery")
	return err
}

// RemoveDevice removes the device object and its bonding information.
func (a *Adapter) RemoveDevice(ctx context.Context, devicePath string) error {
	_, err := a.bus.Call(ctx, a.path, AdapterInterface+".RemoveDevice", dbus.ObjectPath(devicePath))
	return err
}

// DeviceObject wraps an org.bluez.Device1 object.
type DeviceObject struct {
	bus  Bus
	path string
}

// NewDeviceObject returns a handle on the device at path.
func NewDeviceObject(bus Bus, path string) *DeviceObject {
	return &DeviceObject{bus: bus, path: path}
}

// Path returns the device object path.
func (d *DeviceObject) Path() string { return d.path }

// Connect asks bluetoothd to connect. It may return before the link is up.
func (d *DeviceObject) Connect(ctx context.Context) error {
	_, err := d.bus.Call(ctx, d.path, DeviceInterface+".Connect")
	return err
}

// Disconnect asks bluetoothd to drop the link.
func (d *DeviceObject) Disconnect(ctx context.Context) error {
	_, err := d.bus.Call(ctx, d.path, DeviceInterface+".Disconnect")
	return err
}

// Connected reads the Connected property.
func (d *DeviceObject) Connected(ctx context.Context) (bool, error) {
	v, err := d.bus.Property(ctx, d.path, DeviceInterface, "Connected")
	if err != nil {
		return false, err
	}
	connected, ok := v.AsBool()
	if !ok {
		return false, unexpected(DeviceInterface+".Connected", d.path, v)
	}
	return connected, nil
}

// CharacteristicObject wraps an org.bluez.GattCharacteristic1 object.
type CharacteristicObject struct {
	bus  Bus
	path string
}

// NewCharacteristicObject returns a handle on the characteristic at path.
func NewCharacteristicObject(bus Bus, path string) *CharacteristicObject {
	return &CharacteristicObject{bus: bus, path: path}
}

// Path returns the characteristic object path.
func (c *CharacteristicObject) Path() string { return c.path }

// ReadValue reads the characteristic value from the peripheral.
func (c *CharacteristicObject) ReadValue(ctx context.Context) ([]byte, error) {
	const method = GattCharacteristicInterface + ".ReadValue"

	body, err := c.bus.Call(ctx, c.path, method, map[string]dbus.Variant{})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &CommunicationError{Op: method, Path: c.path, Err: ErrUnexpectedReply}
	}
	data, ok := NewValue(body[0]).AsBytes()
	if !ok {
		return nil, unexpected(method, c.path, NewValue(body[0]))
	}
	return data, nil
}

// WriteValue writes data using the given write type.
func (c *CharacteristicObject) WriteValue(ctx context.Context, data []byte, typ WriteType) error {
	if typ == "" {
		typ = WriteRequest
	}
	options := map[string]dbus.Variant{
		"type": dbus.MakeVariant(string(typ)),
	}
	_, err := c.bus.Call(ctx, c.path, GattCharacteristicInterface+".WriteValue", data, options)
	return err
}

// StartNotify enables notifications or indications.
func (c *CharacteristicObject) StartNotify(ctx context.Context) error {
	_, err := c.bus.Call(ctx, c.path, GattCharacteristicInterface+".StartNotify")
	return err
}

// StopNotify disables notifications or indications.
func (c *CharacteristicObject) StopNotify(ctx context.Context) error {
	_, err := c.bus.Call(ctx, c.path, GattCharacteristicInterface+".StopNotify")
	return err
}

// Flags reads the capability flags ("read", "notify", ...).
func (c *CharacteristicObject) Flags(ctx context.Context) ([]string, error) {
	v, err := c.bus.Property(ctx, c.path, GattCharacteristicInterface, "Flags")
	if err != nil {
		return nil, err
	}
	flags, ok := v.AsStrings()
	if !ok {
		return nil, unexpected(GattCharacteristicInterface+".Flags", c.path, v)
	}
	return flags, nil
}

// MTU reads the ATT MTU bluetoothd negotiated for the link.
func (c *CharacteristicObject) MTU(ctx context.Context) (int, error) {
	v, err := c.bus.Property(ctx, c.path, GattCharacteristicInterface, "MTU")
	if err != nil {
		return 0, err
	}
	mtu, ok := v.AsInt()
	if !ok {
		return 0, unexpected(GattCharacteristicInterface+".MTU", c.path, v)
	}
	return int(mtu), nil
}

func unexpected(op, path string, v Value) error {
	return &CommunicationError{Op: op, Path: path, Err: fmt.Errorf("%w: %T", ErrUnexpectedReply, v.Raw())}
}
