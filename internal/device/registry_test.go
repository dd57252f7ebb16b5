package device_test

import (
	"testing"

	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thermoTree() bluez.Snapshot {
	return testutils.CreateObjectTree().
		WithDevice("AA:BB:CC:DD:EE:FF", "Thermo").
		WithDevicePath("/org/bluez/hci0/dev_AA_BB").
		WithUUIDs("180D").
		Build()
}

func TestFindAdapterPath(t *testing.T) {
	tests := []struct {
		name     string
		snap     bluez.Snapshot
		adapter  string
		expected string
		err      error
	}{
		{
			name:     "single adapter",
			snap:     thermoTree(),
			expected: "/org/bluez/hci0",
		},
		{
			name: "first adapter in path order",
			snap: testutils.CreateObjectTree().
				WithAdapter("/org/bluez/hci1").
				WithObject("/org/bluez/hci0", bluez.Interfaces{bluez.AdapterInterface: bluez.Properties{}}).
				Build(),
			expected: "/org/bluez/hci0",
		},
		{
			name: "named adapter",
			snap: testutils.CreateObjectTree().
				WithAdapter("/org/bluez/hci1").
				WithObject("/org/bluez/hci0", bluez.Interfaces{bluez.AdapterInterface: bluez.Properties{}}).
				Build(),
			adapter:  "hci1",
			expected: "/org/bluez/hci1",
		},
		{
			name:    "named adapter missing",
			snap:    thermoTree(),
			adapter: "hci7",
			err:     device.ErrNoAdapter,
		},
		{
			name: "no adapter",
			snap: testutils.CreateObjectTree().WithAdapter("").Build(),
			err:  device.ErrNoAdapter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := device.FindAdapterPathNamed(tt.snap, tt.adapter)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, path)
		})
	}
}

func TestRegistryListsProjectedDevice(t *testing.T) {
	snap := thermoTree()

	adapter, err := device.FindAdapterPath(snap)
	require.NoError(t, err)
	assert.Equal(t, "/org/bluez/hci0", adapter)

	r := device.NewRegistry(nil)
	assert.Equal(t, 1, r.Refresh(snap))

	devices := r.List("")
	require.Len(t, devices, 1)
	assert.Equal(t, device.Device{
		Path:    "/org/bluez/hci0/dev_AA_BB",
		Name:    "Thermo",
		Address: "AA:BB:CC:DD:EE:FF",
		UUIDs:   []string{"180D"},
	}, devices[0])
}

func TestRegistryDefaults(t *testing.T) {
	snap := testutils.CreateObjectTree().
		WithObject("/org/bluez/hci0/dev_11_22", bluez.Interfaces{
			bluez.DeviceInterface: bluez.Properties{},
		}).
		Build()

	r := device.NewRegistry(nil)
	r.Refresh(snap)

	d, err := r.Get("/org/bluez/hci0/dev_11_22")
	require.NoError(t, err)
	assert.Equal(t, device.Unknown, d.Name)
	assert.Equal(t, device.Unknown, d.Address)
	assert.Empty(t, d.UUIDs)
	assert.Nil(t, d.RSSI)
}

func TestRegistryRefreshIsIdempotent(t *testing.T) {
	snap := testutils.CreateObjectTree().
		WithDevice("AA:BB:CC:DD:EE:FF", "Thermo").WithUUIDs("180D").WithRSSI(-40).
		WithDevice("11:22:33:44:55:66", "Scale").WithUUIDs("181D").WithPaired().
		Build()

	r := device.NewRegistry(nil)
	r.Refresh(snap)
	first := r.List("")
	r.Refresh(snap)
	second := r.List("")

	assert.Equal(t, first, second)
	assert.Len(t, second, 2)
}

func TestRegistryRefreshReplaces(t *testing.T) {
	r := device.NewRegistry(nil)
	r.Refresh(thermoTree())
	require.Equal(t, 1, r.Len())

	// A scan that reports nothing leaves nothing behind.
	r.Refresh(testutils.CreateObjectTree().Build())
	assert.Empty(t, r.List(""))

	r.Refresh(testutils.CreateObjectTree().Build())
	assert.Empty(t, r.List(""))
}

func TestRegistryListSortedAndFiltered(t *testing.T) {
	snap := testutils.CreateObjectTree().
		WithDevice("CC:00:00:00:00:03", "C").WithUUIDs("0000180d-0000-1000-8000-00805f9b34fb").
		WithDevice("AA:00:00:00:00:01", "A").WithUUIDs("0000180f-0000-1000-8000-00805f9b34fb").
		WithDevice("BB:00:00:00:00:02", "B").WithUUIDs("0000180F-0000-1000-8000-00805F9B34FB", "0000180D-0000-1000-8000-00805F9B34FB").
		Build()

	r := device.NewRegistry(nil)
	r.Refresh(snap)

	names := func(devs []device.Device) []string {
		out := []string{}
		for _, d := range devs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"A", "B", "C"}, names(r.List("")))
	assert.Equal(t, []string{"B", "C"}, names(r.List("180D")))
	assert.Equal(t, []string{"B", "C"}, names(r.List("180d")))
	assert.Empty(t, names(r.List("2a37")))
}

func TestRegistryRemove(t *testing.T) {
	r := device.NewRegistry(nil)
	r.Refresh(thermoTree())

	assert.True(t, r.Remove("/org/bluez/hci0/dev_AA_BB"))
	assert.False(t, r.Remove("/org/bluez/hci0/dev_AA_BB"))

	_, err := r.Get("/org/bluez/hci0/dev_AA_BB")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	assert.False(t, r.Contains("/org/bluez/hci0/dev_AA_BB"))
}
