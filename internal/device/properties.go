package device

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/bluezctl/internal/bluez"
)

// flagBits maps BlueZ GattCharacteristic1 Flags strings to property bits.
var flagBits = map[string]ble.Property{
	"broadcast":                   ble.CharBroadcast,
	"read":                        ble.CharRead,
	"write-without-response":      ble.CharWriteNR,
	"write":                       ble.CharWrite,
	"notify":                      ble.CharNotify,
	"indicate":                    ble.CharIndicate,
	"authenticated-signed-writes": ble.CharSignedWrite,
	"extended-properties":         ble.CharExtended,
}

var propertyNames = []struct {
	bit  ble.Property
	name string
}{
	{ble.CharBroadcast, "Broadcast"},
	{ble.CharRead, "Read"},
	{ble.CharWriteNR, "WriteWithoutResponse"},
	{ble.CharWrite, "Write"},
	{ble.CharNotify, "Notify"},
	{ble.CharIndicate, "Indicate"},
	{ble.CharSignedWrite, "AuthenticatedSignedWrites"},
	{ble.CharExtended, "ExtendedProperties"},
}

// ParseFlags converts BlueZ flag strings into property bits. Flags with no
// standard property bit (e.g. "encrypt-read") are ignored.
func ParseFlags(flags []string) ble.Property {
	var p ble.Property
	for _, f := range flags {
		p |= flagBits[strings.ToLower(strings.TrimSpace(f))]
	}
	return p
}

// PropertyNames returns human-readable names of the set bits, in bit order.
func PropertyNames(p ble.Property) []string {
	names := []string{}
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// PreferredWriteType picks the write procedure a characteristic supports.
// Only characteristics that allow write-without-response and not an
// acknowledged write get WriteCommand; everything else, including unknown
// flags, gets WriteRequest.
func PreferredWriteType(p ble.Property) bluez.WriteType {
	if p&ble.CharWrite == 0 && p&ble.CharWriteNR != 0 {
		return bluez.WriteCommand
	}
	return bluez.WriteRequest
}
