package device

import (
	"strings"

	"github.com/srg/bluezctl/internal/bluez"
)

// Unknown is reported for a Name or Address BlueZ did not provide.
const Unknown = "Unknown"

// Device is a peripheral known to BlueZ, projected from its Device1 object.
type Device struct {
	Path      string   `json:"path"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	UUIDs     []string `json:"uuids"`
	RSSI      *int     `json:"rssi,omitempty"`
	Paired    bool     `json:"paired"`
	Connected bool     `json:"connected"`
}

// NewDevice projects Device1 properties onto a Device.
func NewDevice(path string, props bluez.Properties) Device {
	d := Device{
		Path:    path,
		Name:    Unknown,
		Address: Unknown,
		UUIDs:   []string{},
	}
	if name, ok := props["Name"].AsString(); ok && name != "" {
		d.Name = name
	}
	if addr, ok := props["Address"].AsString(); ok && addr != "" {
		d.Address = addr
	}
	if uuids, ok := props["UUIDs"].AsStrings(); ok {
		d.UUIDs = append(d.UUIDs, uuids...)
	}
	if rssi, ok := props["RSSI"].AsInt(); ok {
		v := int(rssi)
		d.RSSI = &v
	}
	d.Paired, _ = props["Paired"].AsBool()
	d.Connected, _ = props["Connected"].AsBool()
	return d
}

// HasService reports whether any advertised UUID contains filter as a
// substring. An empty filter matches every device.
//
// Matching ignores case: bluetoothd publishes lowercase 128-bit UUIDs, and a
// filter typed as "180D" must still find "0000180d-0000-1000-8000-00805f9b34fb".
func (d Device) HasService(filter string) bool {
	if filter == "" {
		return true
	}
	filter = strings.ToLower(filter)
	for _, u := range d.UUIDs {
		if strings.Contains(strings.ToLower(u), filter) {
			return true
		}
	}
	return false
}
