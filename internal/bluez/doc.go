// Package bluez is the client side of the BlueZ object-management protocol.
//
// It exposes the remote object tree (adapters, devices, GATT services and
// characteristics) as point-in-time snapshots, typed wrappers for the methods
// the central role needs, and a stream of PropertiesChanged events. The
// production Bus talks to bluetoothd over the D-Bus system bus; tests provide
// their own Bus.
package bluez

// Well-known BlueZ service, interface and property names.
const (
	Service = "org.bluez"

	AdapterInterface            = "org.bluez.Adapter1"
	DeviceInterface             = "org.bluez.Device1"
	GattServiceInterface        = "org.bluez.GattService1"
	GattCharacteristicInterface = "org.bluez.GattCharacteristic1"
	PropertiesInterface         = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface      = "org.freedesktop.DBus.ObjectManager"

	// RootPath is where bluetoothd registers its ObjectManager.
	RootPath = "/"
)
