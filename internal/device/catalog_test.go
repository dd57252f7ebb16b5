package device_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type CatalogTestSuite struct {
	DeviceSuite
}

func (s *CatalogTestSuite) SetupTest() {
	s.WithObjects().
		// Shares the "/org/bluez/hci0/dev_AA_BB" string prefix but is another device.
		WithDevice("AA:BB:CC:00:00:01", "Neighbour").
		WithDevicePath("/org/bluez/hci0/dev_AA_BB_CC").
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{99})

	s.DeviceSuite.SetupTest()
}

func (s *CatalogTestSuite) TestDiscoverKeepsOnlyDescendants() {
	n, err := s.Catalog.Discover(context.Background(), testutils.DefaultDevicePath)
	s.Require().NoError(err)
	s.Equal(1, n)

	for _, ch := range s.Catalog.List(context.Background()) {
		s.True(strings.HasPrefix(ch.Path, testutils.DefaultDevicePath+"/"), ch.Path)
	}
	s.False(s.Catalog.Contains("/org/bluez/hci0/dev_AA_BB_CC/service000a/char000b"))
}

func (s *CatalogTestSuite) TestDiscoverIgnoresNonCharacteristics() {
	_, err := s.Catalog.Discover(context.Background(), testutils.DefaultDevicePath)
	s.Require().NoError(err)

	s.False(s.Catalog.Contains(testutils.DefaultServicePath))
	s.True(s.Catalog.Contains(testutils.DefaultCharPath))
}

func (s *CatalogTestSuite) TestDiscoverReplacesEntries() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	s.Bus.RemoveObjects(testutils.DefaultCharPath)
	s.Bus.AddObject(testutils.DefaultServicePath+"/char0010", bluez.Interfaces{
		bluez.GattCharacteristicInterface: bluez.Properties{
			"UUID":  bluez.NewValue("00002a38-0000-1000-8000-00805f9b34fb"),
			"Flags": bluez.NewValue([]string{"read"}),
		},
	})

	n, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.False(s.Catalog.Contains(testutils.DefaultCharPath))

	_, err = s.Catalog.Resolve("2A37")
	s.ErrorIs(err, device.ErrCharacteristicNotFound)
	ch, err := s.Catalog.Resolve("2A38")
	s.Require().NoError(err)
	s.Equal(testutils.DefaultServicePath+"/char0010", ch.Path)
}

func (s *CatalogTestSuite) TestDiscoverFailureKeepsPreviousCatalog() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	s.Bus.FailOn("GetManagedObjects", errors.New("bus gone"))
	_, err = s.Catalog.Discover(ctx, testutils.DefaultDevicePath)

	s.True(bluez.IsCommunicationError(err))
	s.Equal(1, s.Catalog.Len())
}

func (s *CatalogTestSuite) TestDiscoverHonoursContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.ErrorIs(err, context.Canceled)
	s.Zero(s.Catalog.Len())
}

func (s *CatalogTestSuite) TestResolve() {
	_, err := s.Catalog.Discover(context.Background(), testutils.DefaultDevicePath)
	s.Require().NoError(err)

	for _, id := range []string{"2A37", "2a37", "0x2A37", "00002a37-0000-1000-8000-00805f9b34fb", testutils.DefaultCharPath} {
		s.Run(id, func() {
			ch, err := s.Catalog.Resolve(id)
			s.Require().NoError(err)
			s.Equal(testutils.DefaultCharPath, ch.Path)
			s.Equal("00002a37-0000-1000-8000-00805f9b34fb", ch.UUID)
			s.Equal(testutils.DefaultServicePath, ch.Service)
		})
	}

	s.Run("unknown uuid", func() {
		_, err := s.Catalog.Resolve("2A19")
		s.ErrorIs(err, device.ErrCharacteristicNotFound)
	})

	s.Run("unknown path", func() {
		_, err := s.Catalog.Resolve(testutils.DefaultServicePath + "/char9999")
		s.ErrorIs(err, device.ErrCharacteristicNotFound)
	})
}

func (s *CatalogTestSuite) TestList() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	list := s.Catalog.List(ctx)
	s.Require().Len(list, 1)
	s.Equal([]string{"read", "notify"}, list[0].Flags)
	s.NoError(list[0].FlagsErr)
	s.Equal([]string{"Read", "Notify"}, device.PropertyNames(list[0].Properties()))
}

func (s *CatalogTestSuite) TestDescribe() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	ch, err := s.Catalog.Describe(ctx, "2a37")
	s.Require().NoError(err)
	s.Equal(testutils.DefaultCharPath, ch.Path)
	s.Equal([]string{"read", "notify"}, ch.Flags)

	_, err = s.Catalog.Describe(ctx, "2A19")
	s.ErrorIs(err, device.ErrCharacteristicNotFound)
}

func (s *CatalogTestSuite) TestClear() {
	_, err := s.Catalog.Discover(context.Background(), testutils.DefaultDevicePath)
	s.Require().NoError(err)

	s.Catalog.Clear()
	s.Zero(s.Catalog.Len())
	s.Empty(s.Catalog.List(context.Background()))
}

func TestCatalogTestSuite(t *testing.T) {
	suite.Run(t, new(CatalogTestSuite))
}

type CatalogDuplicatesTestSuite struct {
	DeviceSuite
}

func (s *CatalogDuplicatesTestSuite) SetupTest() {
	// Two services exposing the same characteristic UUID, plus a characteristic
	// published without Flags.
	s.WithEmptyTree().
		WithDevice("AA:BB:CC:DD:EE:FF", "Dual").
		WithDevicePath(testutils.DefaultDevicePath).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{10}).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{20}).
		WithObject(testutils.DefaultDevicePath+"/service0020/char0021", bluez.Interfaces{
			bluez.GattCharacteristicInterface: bluez.Properties{
				"UUID": bluez.NewValue("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
			},
		})

	s.DeviceSuite.SetupTest()
}

func (s *CatalogDuplicatesTestSuite) TestAmbiguousUUID() {
	_, err := s.Catalog.Discover(context.Background(), testutils.DefaultDevicePath)
	s.Require().NoError(err)

	_, err = s.Catalog.Resolve("2A19")
	var ambiguous *device.AmbiguousError
	s.Require().ErrorAs(err, &ambiguous)
	s.Equal([]string{
		testutils.DefaultDevicePath + "/service000a/char000b",
		testutils.DefaultDevicePath + "/service000d/char000e",
	}, ambiguous.Paths)

	ch, err := s.Catalog.Resolve(ambiguous.Paths[1])
	s.Require().NoError(err)
	s.Equal(ambiguous.Paths[1], ch.Path)
}

func (s *CatalogDuplicatesTestSuite) TestListIsolatesFlagFailures() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	list := s.Catalog.List(ctx)
	s.Require().Len(list, 3)

	s.Equal([]string{"read"}, list[0].Flags)
	s.Equal([]string{"read", "notify"}, list[1].Flags)
	s.Error(list[2].FlagsErr)
	s.Empty(list[2].Flags)
}

func (s *CatalogDuplicatesTestSuite) TestDescribeRecordsFlagFailure() {
	ctx := context.Background()
	_, err := s.Catalog.Discover(ctx, testutils.DefaultDevicePath)
	s.Require().NoError(err)

	ch, err := s.Catalog.Describe(ctx, testutils.DefaultDevicePath+"/service0020/char0021")
	s.Require().NoError(err, "a flags failure MUST NOT fail the lookup")
	s.Error(ch.FlagsErr)
	s.Equal(bluez.WriteRequest, device.PreferredWriteType(ch.Properties()))
}

func TestCatalogDuplicatesTestSuite(t *testing.T) {
	suite.Run(t, new(CatalogDuplicatesTestSuite))
}
