package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Paths of the default object tree.
const (
	DefaultDevicePath  = "/org/bluez/hci0/dev_AA_BB"
	DefaultServicePath = DefaultDevicePath + "/service000a"
	DefaultCharPath    = DefaultServicePath + "/char000b"
)

// BusSuite provides a fake BlueZ bus populated with an object tree.
//
// By default the tree holds adapter hci0 and one device "Thermo" exposing a
// Heart Rate service with a read/notify Heart Rate Measurement characteristic.
// Suites customize it by configuring TreeBuilder before calling SetupTest:
//
//	func (s *MySuite) SetupTest() {
//	    s.WithObjects().
//	        WithDevice("11:22:33:44:55:66", "Scale").
//	        WithUUIDs("181D")
//
//	    s.BusSuite.SetupTest() // Call parent last to apply configuration
//	}
type BusSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Config has zero settle intervals so tests never sleep.
	Config *config.Config

	TreeBuilder *ObjectTreeBuilder
	Bus         *FakeBus

	TestTimeout time.Duration
}

// SetupSuite runs once before all tests in the suite.
func (s *BusSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds a fresh bus before each test.
func (s *BusSuite) SetupTest() {
	if s.TreeBuilder == nil {
		s.TreeBuilder = DefaultObjectTree()
	}
	s.Bus = s.TreeBuilder.BuildBus()

	s.Config = config.DefaultConfig()
	s.Config.ConnectSettle = 0
	s.Config.DiscoverySettle = 0
	s.Config.ScanDuration = 10 * time.Millisecond

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the tree so the next test starts from the default.
func (s *BusSuite) TearDownTest() {
	s.TreeBuilder = nil
	s.Bus = nil
}

// WithObjects returns the tree builder, creating the default tree when absent.
func (s *BusSuite) WithObjects() *ObjectTreeBuilder {
	if s.TreeBuilder == nil {
		s.TreeBuilder = DefaultObjectTree()
	}
	return s.TreeBuilder
}

// WithEmptyTree starts the tree from an adapter with no devices.
func (s *BusSuite) WithEmptyTree() *ObjectTreeBuilder {
	s.TreeBuilder = NewObjectTreeBuilder()
	return s.TreeBuilder
}

// DefaultObjectTree returns the builder for the default tree.
func DefaultObjectTree() *ObjectTreeBuilder {
	return CreateObjectTreeFromJSON(`{
		"adapter": "/org/bluez/hci0",
		"devices": [
			{
				"path": %q,
				"name": "Thermo",
				"address": "AA:BB:CC:DD:EE:FF",
				"uuids": ["180D"],
				"rssi": -52,
				"mtu": 247,
				"services": [
					{
						"uuid": "180D",
						"characteristics": [
							{ "uuid": "2A37", "flags": "read,notify", "value": [0, 72] }
						]
					}
				]
			}
		]
	}`, DefaultDevicePath)
}
