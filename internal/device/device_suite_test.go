package device_test

import (
	"context"

	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/internal/testutils"
)

// DeviceSuite wires the device components over the fake bus, with the
// registry refreshed from the initial tree and the dispatcher running.
type DeviceSuite struct {
	testutils.BusSuite

	Directory  *bluez.Directory
	Registry   *device.Registry
	Catalog    *device.Catalog
	Dispatcher *device.Dispatcher
	Session    *device.Session
}

func (s *DeviceSuite) SetupTest() {
	s.BusSuite.SetupTest()

	s.Directory = bluez.NewDirectory(s.Bus, s.Logger)
	s.Registry = device.NewRegistry(s.Logger)
	s.Catalog = device.NewCatalog(s.Bus, s.Directory, s.Config.DiscoverySettle, s.Logger)
	s.Dispatcher = device.NewDispatcher(s.Bus, s.Catalog, s.Logger)
	s.Session = device.NewSession(s.Bus, s.Registry, s.Catalog, s.Dispatcher, s.Config.ConnectSettle, s.Logger)

	s.RefreshRegistry()
	s.Dispatcher.Start(context.Background())
}

func (s *DeviceSuite) TearDownTest() {
	s.Dispatcher.Close()
	s.BusSuite.TearDownTest()
}

// RefreshRegistry reloads the registry from the current bus tree.
func (s *DeviceSuite) RefreshRegistry() {
	snap, err := s.Directory.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Registry.Refresh(snap)
}

// MustConnect connects to the default device and fails the test otherwise.
func (s *DeviceSuite) MustConnect() {
	s.Require().NoError(s.Session.Connect(context.Background(), testutils.DefaultDevicePath))
}
