package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bluezctl/internal/device"
	"github.com/srg/bluezctl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Run one discovery pass and list the devices bluetoothd knows about,
including their names, addresses, RSSI values and advertised services.

Devices cached by bluetoothd from earlier scans are listed too.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanFilter    string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default from config)")
	scanCmd.Flags().StringVarP(&scanFilter, "filter", "s", "", "Only list devices advertising a service UUID containing this text")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "" && scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration < 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	ctx, cancel := interruptContext(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
	defer cancel()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format := scanFormat
	if format == "" {
		format = a.cfg.OutputFormat
	}
	opts := &scanner.ScanOptions{
		Duration:      a.cfg.ScanDuration,
		ServiceFilter: scanFilter,
		AllowList:     scanAllowList,
		BlockList:     scanBlockList,
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}

	var progress scanner.ProgressCallback
	if format == "table" && isTerminal(cmd.InOrStdin()) {
		p := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", scanner.PhaseScanning, opts.Duration, scanner.PhaseProcessing)
		p.Start()
		defer p.Stop()
		progress = p.Callback()
	}

	devices, err := a.manager.Scan(ctx, opts, progress)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Error("scan failed")
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

func displayDevicesTable(out io.Writer, devices []device.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tPATH")

	for _, d := range devices {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(d.UUIDs, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		rssi := "-"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *d.RSSI)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, d.Address, rssi, services, d.Path)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []device.Device) error {
	if devices == nil {
		devices = []device.Device{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
