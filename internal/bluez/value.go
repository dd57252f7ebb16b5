package bluez

import (
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
)

// Value is a dynamically typed property value as reported by BlueZ.
// The zero Value is invalid and every accessor reports false for it.
type Value struct {
	v any
}

// NewValue wraps a raw property value. D-Bus variants are unwrapped.
func NewValue(v any) Value {
	if variant, ok := v.(dbus.Variant); ok {
		v = variant.Value()
	}
	return Value{v: v}
}

// IsValid reports whether the value holds anything.
func (v Value) IsValid() bool {
	return v.v != nil
}

// Raw returns the underlying Go value.
func (v Value) Raw() any {
	return v.v
}

// AsBool returns the value as a boolean.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// AsString returns string and object-path values as a string.
func (v Value) AsString() (string, bool) {
	switch s := v.v.(type) {
	case string:
		return s, true
	case dbus.ObjectPath:
		return string(s), true
	default:
		return "", false
	}
}

// AsBytes returns a byte sequence value.
func (v Value) AsBytes() ([]byte, bool) {
	b, ok := v.v.([]byte)
	return b, ok
}

// AsStrings returns a string sequence value.
func (v Value) AsStrings() ([]string, bool) {
	switch s := v.v.(type) {
	case []string:
		return s, true
	case []dbus.ObjectPath:
		out := make([]string, len(s))
		for i, p := range s {
			out[i] = string(p)
		}
		return out, true
	default:
		return nil, false
	}
}

// AsInt returns any integer value widened to int64.
func (v Value) AsInt() (int64, bool) {
	switch n := v.v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	if v.v == nil {
		return "<invalid>"
	}
	return fmt.Sprintf("%v", v.v)
}

// Properties maps property names to values for one interface.
type Properties map[string]Value

// Interfaces maps interface names to their properties for one object.
type Interfaces map[string]Properties

// Snapshot is the full object tree returned by one GetManagedObjects call,
// keyed by object path.
type Snapshot map[string]Interfaces

// Paths returns the object paths in lexical order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Implements reports whether the object at path exposes iface.
func (s Snapshot) Implements(path, iface string) bool {
	ifaces, ok := s[path]
	if !ok {
		return false
	}
	_, ok = ifaces[iface]
	return ok
}

func snapshotFromDBus(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) Snapshot {
	snap := make(Snapshot, len(objects))
	for path, ifaces := range objects {
		converted := make(Interfaces, len(ifaces))
		for iface, props := range ifaces {
			p := make(Properties, len(props))
			for name, variant := range props {
				p[name] = NewValue(variant)
			}
			converted[iface] = p
		}
		snap[string(path)] = converted
	}
	return snap
}
