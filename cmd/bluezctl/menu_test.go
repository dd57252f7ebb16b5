package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type MenuTestSuite struct {
	CommandTestSuite
}

func TestMenuTestSuite(t *testing.T) {
	suite.Run(t, new(MenuTestSuite))
}

func (s *MenuTestSuite) runScript(script string) string {
	out, err := s.ExecuteCommand(script)
	s.Require().NoError(err, "menu MUST exit cleanly")
	return transcript(out)
}

func (s *MenuTestSuite) TestFullSession() {
	out := s.runScript(strings.Join([]string{
		"1", "",
		"2",
		"4", testutils.DefaultDevicePath,
		"7",
		"11", "2A37",
		"12",
		"0",
	}, "\n") + "\n")

	testutils.NewTextAsserter(s.T()).Assert(out, `
Scan duration (seconds): Scanning for 10ms...
Scan complete. 1 devices known.

=== Available Devices ===
1. Thermo [AA:BB:CC:DD:EE:FF]
   Path: /org/bluez/hci0/dev_AA_BB
   Services: 180D (Heart Rate)

Enter device path: Connecting to device...
Successfully connected!
MTU: 247 bytes
Found 1 characteristics.

=== Available Characteristics ===
1. UUID: 00002a37-0000-1000-8000-00805f9b34fb (Heart Rate Measurement)
   Path: /org/bluez/hci0/dev_AA_BB/service000a/char000b
   Flags: read, notify
   Properties: Read, Notify

Enter characteristic UUID: Read from 2A37: 0x00 48  (.H)
Adapter: /org/bluez/hci0
State: connected
Device: /org/bluez/hci0/dev_AA_BB
MTU: 247 bytes
Exiting...
`)
}

func (s *MenuTestSuite) TestListBeforeScan() {
	out := s.runScript("2\n0\n")

	testutils.NewTextAsserter(s.T()).Assert(out, `
No devices found. Run scan first.
Exiting...
`)
}

func (s *MenuTestSuite) TestInvalidChoiceAndEndOfInput() {
	out := s.runScript("42\n")

	testutils.NewTextAsserter(s.T()).Assert(out, `
Invalid choice.

Exiting...
`)
}

func (s *MenuTestSuite) TestRequiresConnection() {
	out := s.runScript("5\n7\n11\n2A37\n0\n")

	testutils.NewTextAsserter(s.T()).Assert(out, `
No device connected.
No characteristics available. Connect to a device first.
Enter characteristic UUID: No device connected.
Exiting...
`)
}

func (s *MenuTestSuite) TestConnectUnknownDevice() {
	out := s.runScript("4\n/org/bluez/hci0/dev_00_00\n0\n")

	testutils.NewTextAsserter(s.T()).Assert(out, `
Enter device path: Connecting to device...
Failed to connect.
Error: device /org/bluez/hci0/dev_00_00 not found; run a scan first
Exiting...
`)
}

func (s *MenuTestSuite) TestWriteParsesHex() {
	out := s.runScript("1\n\n4\n" + testutils.DefaultDevicePath + "\n10\n2A37\n01 0A FF\n10\n2A37\nzz\n0\n")

	s.Contains(out, "Enter hex data (e.g., 01 02 03): Data written to characteristic 2A37")
	s.Contains(out, `Error: invalid hex byte "zz"`)

	writes := s.Bus.CallsTo(bluez.GattCharacteristicInterface + ".WriteValue")
	s.Require().Len(writes, 1, "only the valid input MUST be written")
	s.Equal(testutils.DefaultCharPath, writes[0].Path)
	s.Equal([]byte{0x01, 0x0A, 0xFF}, writes[0].Args[0])
	s.Equal(map[string]dbus.Variant{"type": dbus.MakeVariant("request")}, writes[0].Args[1])
}

func (s *MenuTestSuite) TestUnknownCharacteristic() {
	out := s.runScript("1\n\n4\n" + testutils.DefaultDevicePath + "\n11\n2A19\n9\n2A37\n0\n")

	s.Contains(out, "Enter characteristic UUID: Characteristic not found.")
	s.Contains(out, "Enter characteristic UUID: Notifications are not enabled for 2A37")
}

func (s *MenuTestSuite) TestForgetDevice() {
	out := s.runScript("1\n\n6\n" + testutils.DefaultDevicePath + "\n2\n0\n")

	s.Contains(out, "Enter device path: Device forgotten.")
	s.Contains(out, "No devices found. Run scan first.")
}

func (s *MenuTestSuite) TestNotificationsPrintedWhileWaiting() {
	a := s.NewApp()
	defer a.Close()

	inR, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}
	ctx := context.Background()
	m := newMenu(ctx, a, inR, out, false)

	done := make(chan error, 1)
	go func() { done <- m.run(ctx) }()

	_, err := io.WriteString(inW, "1\n\n4\n"+testutils.DefaultDevicePath+"\n8\n2A37\n")
	s.Require().NoError(err)
	s.WaitForOutput(out, "Notifications enabled for 2A37")

	s.Bus.EmitValue(testutils.DefaultCharPath, []byte("Hi"))
	s.WaitForOutput(out, "[NOTIFY 2A37] 0x48 69  (Hi)")

	_, err = io.WriteString(inW, "9\n2A37\n0\n")
	s.Require().NoError(err)
	s.Require().NoError(<-done)
	s.Contains(out.String(), "Notifications disabled for 2A37")
	s.Len(s.Bus.CallsTo(bluez.GattCharacteristicInterface+".StopNotify"), 1)
}

func (s *MenuTestSuite) TestCancelWhileWaitingForInput() {
	a := s.NewApp()
	defer a.Close()

	inR, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())
	m := newMenu(ctx, a, inR, io.Discard, false)

	done := make(chan error, 1)
	go func() { done <- m.run(ctx) }()
	cancel()

	s.True(errors.Is(<-done, context.Canceled))
}

type MenuNoAdapterTestSuite struct {
	CommandTestSuite
}

func TestMenuNoAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(MenuNoAdapterTestSuite))
}

func (s *MenuNoAdapterTestSuite) SetupTest() {
	s.WithEmptyTree().WithAdapter("")
	s.CommandTestSuite.SetupTest()
}

func (s *MenuNoAdapterTestSuite) TestStartupFails() {
	_, err := s.ExecuteCommand("0\n")

	s.Require().Error(err)
	s.Equal("no Bluetooth adapter found; is bluetoothd running and the adapter powered?", FormatUserError(err))
}

// MenuUARTTestSuite adds a UART-style service whose RX characteristic only
// accepts write-without-response.
type MenuUARTTestSuite struct {
	CommandTestSuite
}

func TestMenuUARTTestSuite(t *testing.T) {
	suite.Run(t, new(MenuUARTTestSuite))
}

const (
	uartRXUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	uartTXUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

func (s *MenuUARTTestSuite) SetupTest() {
	s.WithObjects().
		WithService("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
		WithCharacteristic(uartRXUUID, "write-without-response", nil).
		WithCharacteristic(uartTXUUID, "write,write-without-response,notify", nil)
	s.CommandTestSuite.SetupTest()
}

func (s *MenuUARTTestSuite) TestWriteWithoutResponseOnlyUsesCommand() {
	out, err := s.ExecuteCommand("1\n\n4\n" + testutils.DefaultDevicePath + "\n10\n" + uartRXUUID + "\n48 69\n0\n")
	s.Require().NoError(err)
	s.Contains(out, "Data written to characteristic "+uartRXUUID)

	writes := s.Bus.CallsTo(bluez.GattCharacteristicInterface + ".WriteValue")
	s.Require().Len(writes, 1)
	s.Equal([]byte("Hi"), writes[0].Args[0])
	s.Equal(map[string]dbus.Variant{"type": dbus.MakeVariant("command")}, writes[0].Args[1],
		"a characteristic without acknowledged write MUST get a write command")
}

func (s *MenuUARTTestSuite) TestAcknowledgedWritePreferred() {
	_, err := s.ExecuteCommand("1\n\n4\n" + testutils.DefaultDevicePath + "\n10\n" + uartTXUUID + "\n01\n0\n")
	s.Require().NoError(err)

	writes := s.Bus.CallsTo(bluez.GattCharacteristicInterface + ".WriteValue")
	s.Require().Len(writes, 1)
	s.Equal(map[string]dbus.Variant{"type": dbus.MakeVariant("request")}, writes[0].Args[1])
}

func (s *MenuUARTTestSuite) TestListShowsProperties() {
	out, err := s.ExecuteCommand("1\n\n4\n" + testutils.DefaultDevicePath + "\n7\n0\n")
	s.Require().NoError(err)

	s.Contains(out, "UUID: "+uartRXUUID+" (Nordic UART RX)\n")
	s.Contains(out, "   Flags: write-without-response\n   Properties: WriteWithoutResponse\n")
	s.Contains(out, "   Properties: WriteWithoutResponse, Write, Notify\n")
}
