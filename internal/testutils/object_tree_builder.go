package testutils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bluezctl/internal/bluez"
)

const DefaultAdapterPath = "/org/bluez/hci0"

var shortUUID = regexp.MustCompile(`^(?:0x)?[0-9a-fA-F]{4}$`)

// CharacteristicConfig describes a GattCharacteristic1 object.
type CharacteristicConfig struct {
	UUID  string `json:"uuid"`
	Flags string `json:"flags,omitempty"` // e.g. "read,write,notify"
	Value []int  `json:"value,omitempty"`
}

// ServiceConfig describes a GattService1 object and its characteristics.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceConfig describes a Device1 object and its GATT subtree.
// Advertised UUIDs are published verbatim; GATT UUIDs are expanded with FullUUID.
type DeviceConfig struct {
	Path      string          `json:"path,omitempty"`
	Name      string          `json:"name,omitempty"`
	Address   string          `json:"address,omitempty"`
	UUIDs     []string        `json:"uuids,omitempty"`
	RSSI      *int            `json:"rssi,omitempty"`
	Paired    bool            `json:"paired,omitempty"`
	Connected bool            `json:"connected,omitempty"`
	MTU       int             `json:"mtu,omitempty"`
	Services  []ServiceConfig `json:"services,omitempty"`
}

// ObjectTreeConfig is the JSON form accepted by ObjectTreeBuilder.FromJSON.
type ObjectTreeConfig struct {
	Adapter string         `json:"adapter,omitempty"`
	Devices []DeviceConfig `json:"devices,omitempty"`
}

// ObjectTreeBuilder builds a BlueZ object tree for FakeBus.
//
// Service and characteristic paths follow bluetoothd's layout, numbered from
// a per-device handle counter: <device>/service000a/char000b.
type ObjectTreeBuilder struct {
	config ObjectTreeConfig
	extra  bluez.Snapshot
}

// NewObjectTreeBuilder creates a builder with the default adapter and no devices.
func NewObjectTreeBuilder() *ObjectTreeBuilder {
	return &ObjectTreeBuilder{
		config: ObjectTreeConfig{Adapter: DefaultAdapterPath},
		extra:  make(bluez.Snapshot),
	}
}

// FromJSON replaces the configuration with a JSON description.
func (b *ObjectTreeBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ObjectTreeBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg ObjectTreeConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("ObjectTreeBuilder.FromJSON: invalid JSON: %v\n%s", err, jsonStr))
	}
	if cfg.Adapter == "" {
		cfg.Adapter = DefaultAdapterPath
	}
	b.config = cfg
	return b
}

// WithAdapter sets the adapter path. An empty path builds a tree with no adapter.
func (b *ObjectTreeBuilder) WithAdapter(path string) *ObjectTreeBuilder {
	b.config.Adapter = path
	return b
}

// WithDevice adds a device. Its path is derived from the address.
func (b *ObjectTreeBuilder) WithDevice(address, name string) *ObjectTreeBuilder {
	b.config.Devices = append(b.config.Devices, DeviceConfig{Address: address, Name: name})
	return b
}

// WithDevicePath overrides the path of the last added device.
func (b *ObjectTreeBuilder) WithDevicePath(path string) *ObjectTreeBuilder {
	b.lastDevice("WithDevicePath").Path = path
	return b
}

// WithUUIDs sets advertised service UUIDs on the last added device.
func (b *ObjectTreeBuilder) WithUUIDs(uuids ...string) *ObjectTreeBuilder {
	b.lastDevice("WithUUIDs").UUIDs = uuids
	return b
}

// WithRSSI sets the signal strength of the last added device.
func (b *ObjectTreeBuilder) WithRSSI(rssi int) *ObjectTreeBuilder {
	b.lastDevice("WithRSSI").RSSI = &rssi
	return b
}

// WithPaired marks the last added device as paired.
func (b *ObjectTreeBuilder) WithPaired() *ObjectTreeBuilder {
	b.lastDevice("WithPaired").Paired = true
	return b
}

// WithMTU publishes an MTU property on the last device's characteristics.
func (b *ObjectTreeBuilder) WithMTU(mtu int) *ObjectTreeBuilder {
	b.lastDevice("WithMTU").MTU = mtu
	return b
}

// WithService adds a service to the last added device.
func (b *ObjectTreeBuilder) WithService(uuid string) *ObjectTreeBuilder {
	dev := b.lastDevice("WithService")
	dev.Services = append(dev.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *ObjectTreeBuilder) WithCharacteristic(uuid, flags string, value []byte) *ObjectTreeBuilder {
	dev := b.lastDevice("WithCharacteristic")
	if len(dev.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &dev.Services[len(dev.Services)-1]
	ints := make([]int, len(value))
	for i, v := range value {
		ints[i] = int(v)
	}
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{UUID: uuid, Flags: flags, Value: ints})
	return b
}

// WithObject adds an arbitrary object to the tree.
func (b *ObjectTreeBuilder) WithObject(path string, ifaces bluez.Interfaces) *ObjectTreeBuilder {
	b.extra[path] = ifaces
	return b
}

// Build renders the object tree.
func (b *ObjectTreeBuilder) Build() bluez.Snapshot {
	snap := make(bluez.Snapshot)
	adapter := b.config.Adapter
	if adapter != "" {
		snap[adapter] = bluez.Interfaces{
			bluez.AdapterInterface: bluez.Properties{
				"Address":     bluez.NewValue("00:11:22:33:44:55"),
				"Powered":     bluez.NewValue(true),
				"Discovering": bluez.NewValue(false),
			},
		}
	} else {
		adapter = DefaultAdapterPath
	}

	for _, dev := range b.config.Devices {
		devPath := dev.Path
		if devPath == "" {
			devPath = DevicePathFor(adapter, dev.Address)
		}

		props := bluez.Properties{
			"Adapter":   bluez.NewValue(dbus.ObjectPath(adapter)),
			"Paired":    bluez.NewValue(dev.Paired),
			"Connected": bluez.NewValue(dev.Connected),
		}
		if dev.Address != "" {
			props["Address"] = bluez.NewValue(dev.Address)
		}
		if dev.Name != "" {
			props["Name"] = bluez.NewValue(dev.Name)
			props["Alias"] = bluez.NewValue(dev.Name)
		}
		if len(dev.UUIDs) > 0 {
			props["UUIDs"] = bluez.NewValue(append([]string(nil), dev.UUIDs...))
		}
		if dev.RSSI != nil {
			props["RSSI"] = bluez.NewValue(int16(*dev.RSSI))
		}
		snap[devPath] = bluez.Interfaces{bluez.DeviceInterface: props}

		handle := 0x0a
		for _, svc := range dev.Services {
			svcPath := fmt.Sprintf("%s/service%04x", devPath, handle)
			handle++
			snap[svcPath] = bluez.Interfaces{
				bluez.GattServiceInterface: bluez.Properties{
					"UUID":    bluez.NewValue(FullUUID(svc.UUID)),
					"Device":  bluez.NewValue(dbus.ObjectPath(devPath)),
					"Primary": bluez.NewValue(true),
				},
			}
			for _, ch := range svc.Characteristics {
				charPath := fmt.Sprintf("%s/char%04x", svcPath, handle)
				handle += 2
				value := make([]byte, len(ch.Value))
				for i, v := range ch.Value {
					value[i] = byte(v)
				}
				chProps := bluez.Properties{
					"UUID":      bluez.NewValue(FullUUID(ch.UUID)),
					"Service":   bluez.NewValue(dbus.ObjectPath(svcPath)),
					"Flags":     bluez.NewValue(splitFlags(ch.Flags)),
					"Value":     bluez.NewValue(value),
					"Notifying": bluez.NewValue(false),
				}
				if dev.MTU > 0 {
					chProps["MTU"] = bluez.NewValue(uint16(dev.MTU))
				}
				snap[charPath] = bluez.Interfaces{bluez.GattCharacteristicInterface: chProps}
			}
		}
	}

	for path, ifaces := range b.extra {
		snap[path] = ifaces
	}
	return snap
}

// BuildBus renders the tree into a new FakeBus.
func (b *ObjectTreeBuilder) BuildBus() *FakeBus {
	return NewFakeBus(b.Build())
}

func (b *ObjectTreeBuilder) lastDevice(op string) *DeviceConfig {
	if len(b.config.Devices) == 0 {
		panic(op + ": no device added yet, call WithDevice first")
	}
	return &b.config.Devices[len(b.config.Devices)-1]
}

// DevicePathFor returns bluetoothd's object path for address under adapter.
func DevicePathFor(adapter, address string) string {
	return adapter + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_")
}

// FullUUID expands 16-bit SIG UUIDs to the 128-bit lowercase form bluetoothd publishes.
func FullUUID(uuid string) string {
	if shortUUID.MatchString(uuid) {
		return "0000" + strings.ToLower(strings.TrimPrefix(uuid, "0x")) + "-0000-1000-8000-00805f9b34fb"
	}
	return strings.ToLower(uuid)
}

func splitFlags(flags string) []string {
	out := []string{}
	for _, f := range strings.Split(flags, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
