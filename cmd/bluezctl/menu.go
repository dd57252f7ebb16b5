package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/central"
	"github.com/srg/bluezctl/internal/bledb"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/internal/groutine"
	"github.com/srg/bluezctl/pkg/config"
	"github.com/srg/bluezctl/scanner"
)

const menuText = `
=== Bluetooth LE Manager ===
1.  Scan for devices
2.  List all devices
3.  List devices by service UUID
4.  Connect to device
5.  Disconnect from device
6.  Forget device
7.  List characteristics
8.  Enable notifications
9.  Disable notifications
10. Write to characteristic
11. Read from characteristic
12. Show status
0.  Exit`

// lockedWriter serializes writes from the menu and from notification callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// menu drives the manager from numbered choices read line by line.
// Only the goroutine calling run touches the manager; notification
// callbacks just print.
type menu struct {
	mgr    *central.Manager
	cfg    *config.Config
	logger *logrus.Logger

	lines       <-chan string
	out         io.Writer
	interactive bool

	notifyColor *color.Color
	errorColor  *color.Color
}

func newMenu(ctx context.Context, a *app, in io.Reader, out io.Writer, interactive bool) *menu {
	m := &menu{
		mgr:         a.manager,
		cfg:         a.cfg,
		logger:      a.logger,
		lines:       readLines(ctx, in),
		out:         &lockedWriter{w: out},
		interactive: interactive,
		notifyColor: color.New(color.FgCyan, color.Bold),
		errorColor:  color.New(color.FgRed),
	}
	if !interactive {
		m.notifyColor.DisableColor()
		m.errorColor.DisableColor()
	}
	return m
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	groutine.Go(ctx, "menu-input", func(ctx context.Context) {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	})
	return lines
}

// run shows the menu until the user exits, input ends or ctx is cancelled.
// Failed actions are reported and the loop continues.
func (m *menu) run(ctx context.Context) error {
	for {
		fmt.Fprintln(m.out, menuText)
		choice, err := m.prompt(ctx, "\nChoice: ")
		if err != nil {
			return m.finish(err)
		}

		err = m.dispatch(ctx, strings.TrimSpace(choice))
		switch {
		case errors.Is(err, errExit):
			fmt.Fprintln(m.out, "Exiting...")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF):
			return m.finish(err)
		case err != nil:
			m.report(err)
		}
	}
}

var errExit = errors.New("exit")

func (m *menu) finish(err error) error {
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(m.out, "\nExiting...")
		return nil
	}
	return err
}

func (m *menu) dispatch(ctx context.Context, choice string) error {
	switch choice {
	case "0":
		return errExit
	case "1":
		return m.scan(ctx)
	case "2":
		m.listDevices("")
		return nil
	case "3":
		filter, err := m.prompt(ctx, "Enter service UUID (partial match): ")
		if err != nil {
			return err
		}
		m.listDevices(strings.TrimSpace(filter))
		return nil
	case "4":
		return m.connect(ctx)
	case "5":
		return m.disconnect(ctx)
	case "6":
		return m.forget(ctx)
	case "7":
		return m.listCharacteristics(ctx)
	case "8":
		return m.enableNotifications(ctx)
	case "9":
		return m.disableNotifications(ctx)
	case "10":
		return m.write(ctx)
	case "11":
		return m.read(ctx)
	case "12":
		m.status()
		return nil
	default:
		fmt.Fprintln(m.out, "Invalid choice.")
		return nil
	}
}

// prompt prints text and waits for one line. It returns io.EOF when input ends.
func (m *menu) prompt(ctx context.Context, text string) (string, error) {
	fmt.Fprint(m.out, text)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-m.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (m *menu) report(err error) {
	switch {
	case errors.Is(err, device.ErrCharacteristicNotFound):
		fmt.Fprintln(m.out, "Characteristic not found.")
	case device.IsConnectionState(err, device.NotConnected):
		fmt.Fprintln(m.out, "No device connected.")
	default:
		m.logger.WithError(err).Debug("Menu action failed")
		fmt.Fprintln(m.out, m.errorColor.Sprint("Error: "+FormatUserError(err)))
	}
}

func (m *menu) scan(ctx context.Context) error {
	line, err := m.prompt(ctx, "Scan duration (seconds): ")
	if err != nil {
		return err
	}

	duration := m.cfg.ScanDuration
	if s := strings.TrimSpace(line); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			fmt.Fprintln(m.out, "Invalid duration.")
			return nil
		}
		duration = time.Duration(secs) * time.Second
	}

	fmt.Fprintf(m.out, "Scanning for %s...\n", duration)

	var progress scanner.ProgressCallback
	if m.interactive {
		p := NewCountdownProgressPrinter(m.out, "Scanning for BLE devices", scanner.PhaseScanning, duration, scanner.PhaseProcessing)
		p.Start()
		defer p.Stop()
		progress = p.Callback()
	}

	devices, err := m.mgr.Scan(ctx, &scanner.ScanOptions{Duration: duration}, progress)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Scan complete. %d devices known.\n", len(devices))
	return nil
}

func (m *menu) listDevices(filter string) {
	if len(m.mgr.Devices("")) == 0 {
		fmt.Fprintln(m.out, "No devices found. Run scan first.")
		return
	}

	fmt.Fprintln(m.out, "\n=== Available Devices ===")
	for i, d := range m.mgr.Devices(filter) {
		fmt.Fprintf(m.out, "%d. %s [%s]\n", i+1, d.Name, d.Address)
		fmt.Fprintf(m.out, "   Path: %s\n", d.Path)
		if len(d.UUIDs) > 0 {
			fmt.Fprintf(m.out, "   Services: %s\n", formatServices(d.UUIDs))
		}
		fmt.Fprintln(m.out)
	}
}

func (m *menu) connect(ctx context.Context) error {
	path, err := m.prompt(ctx, "Enter device path: ")
	if err != nil {
		return err
	}

	fmt.Fprintln(m.out, "Connecting to device...")
	if m.interactive {
		p := NewProgressPrinter(m.out, "Connecting", "Waiting for link")
		p.Start()
		err = m.mgr.Connect(ctx, strings.TrimSpace(path))
		p.Stop()
	} else {
		err = m.mgr.Connect(ctx, strings.TrimSpace(path))
	}
	if err != nil {
		fmt.Fprintln(m.out, "Failed to connect.")
		return err
	}

	fmt.Fprintln(m.out, "Successfully connected!")
	if mtu, ok := m.mgr.MTU(); ok {
		fmt.Fprintf(m.out, "MTU: %d bytes\n", mtu)
	}
	chars, err := m.mgr.Characteristics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Found %d characteristics.\n", len(chars))
	return nil
}

func (m *menu) disconnect(ctx context.Context) error {
	if err := m.mgr.Disconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "Disconnected from device.")
	return nil
}

func (m *menu) forget(ctx context.Context) error {
	path, err := m.prompt(ctx, "Enter device path: ")
	if err != nil {
		return err
	}
	if err := m.mgr.Forget(ctx, strings.TrimSpace(path)); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "Device forgotten.")
	return nil
}

func (m *menu) listCharacteristics(ctx context.Context) error {
	chars, err := m.mgr.Characteristics(ctx)
	if err != nil && !device.IsConnectionState(err, device.NotConnected) {
		return err
	}
	if len(chars) == 0 {
		fmt.Fprintln(m.out, "No characteristics available. Connect to a device first.")
		return nil
	}

	fmt.Fprintln(m.out, "\n=== Available Characteristics ===")
	for i, c := range chars {
		if name := bledb.LookupCharacteristic(c.UUID); name != "" {
			fmt.Fprintf(m.out, "%d. UUID: %s (%s)\n", i+1, c.UUID, name)
		} else {
			fmt.Fprintf(m.out, "%d. UUID: %s\n", i+1, c.UUID)
		}
		fmt.Fprintf(m.out, "   Path: %s\n", c.Path)
		if len(c.Flags) > 0 {
			fmt.Fprintf(m.out, "   Flags: %s\n", strings.Join(c.Flags, ", "))
		}
		if names := device.PropertyNames(c.Properties()); len(names) > 0 {
			fmt.Fprintf(m.out, "   Properties: %s\n", strings.Join(names, ", "))
		}
		fmt.Fprintln(m.out)
	}
	return nil
}

func (m *menu) promptCharacteristic(ctx context.Context) (string, error) {
	id, err := m.prompt(ctx, "Enter characteristic UUID: ")
	return strings.TrimSpace(id), err
}

func (m *menu) enableNotifications(ctx context.Context) error {
	id, err := m.promptCharacteristic(ctx)
	if err != nil {
		return err
	}
	if _, err := m.mgr.Subscribe(ctx, id, func(value []byte) { m.printNotification(id, value) }); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Notifications enabled for %s\n", id)
	return nil
}

func (m *menu) printNotification(id string, value []byte) {
	fmt.Fprintf(m.out, "\n%s %s\n", m.notifyColor.Sprintf("[NOTIFY %s]", id), FormatHex(value))
}

func (m *menu) disableNotifications(ctx context.Context) error {
	id, err := m.promptCharacteristic(ctx)
	if err != nil {
		return err
	}
	err = m.mgr.Unsubscribe(ctx, id)
	if errors.Is(err, device.ErrNotSubscribed) {
		fmt.Fprintf(m.out, "Notifications are not enabled for %s\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Notifications disabled for %s\n", id)
	return nil
}

func (m *menu) write(ctx context.Context) error {
	id, err := m.promptCharacteristic(ctx)
	if err != nil {
		return err
	}
	line, err := m.prompt(ctx, "Enter hex data (e.g., 01 02 03): ")
	if err != nil {
		return err
	}

	data, err := ParseHexBytes(line)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrNoData
	}

	char, err := m.mgr.Characteristic(ctx, id)
	if err != nil {
		return err
	}
	mode := device.PreferredWriteType(char.Properties())
	m.logger.WithFields(logrus.Fields{"path": char.Path, "type": mode}).Debug("Writing characteristic")

	if err := m.mgr.Write(ctx, char.Path, data, mode); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Data written to characteristic %s\n", id)
	return nil
}

func (m *menu) read(ctx context.Context) error {
	id, err := m.promptCharacteristic(ctx)
	if err != nil {
		return err
	}
	value, err := m.mgr.Read(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Read from %s: %s\n", id, FormatHex(value))
	return nil
}

func (m *menu) status() {
	fmt.Fprintf(m.out, "Adapter: %s\n", m.mgr.AdapterPath())
	fmt.Fprintf(m.out, "State: %s\n", m.mgr.State())
	if path, ok := m.mgr.ConnectedDevice(); ok {
		fmt.Fprintf(m.out, "Device: %s\n", path)
	}
	if mtu, ok := m.mgr.MTU(); ok {
		fmt.Fprintf(m.out, "MTU: %d bytes\n", mtu)
	}
	if subs := m.mgr.Subscriptions(); len(subs) > 0 {
		fmt.Fprintf(m.out, "Subscriptions: %s\n", strings.Join(subs, ", "))
	}
}
