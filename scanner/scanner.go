package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/device"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scan phases reported through ProgressCallback.
const (
	PhaseScanning   = "Scanning"
	PhaseStopping   = "Stopping discovery"
	PhaseProcessing = "Processing results"
)

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration time.Duration

	// ServiceFilter keeps devices advertising a UUID that contains it.
	ServiceFilter string
	AllowList     []string // addresses
	BlockList     []string // addresses
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Scanner runs timed discovery on one adapter and refreshes the registry.
type Scanner struct {
	adapter  *bluez.Adapter
	dir      *bluez.Directory
	registry *device.Registry
	logger   *logrus.Logger
}

// NewScanner creates a scanner for the adapter at adapterPath.
func NewScanner(bus bluez.Bus, adapterPath string, registry *device.Registry, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		adapter:  bluez.NewAdapter(bus, adapterPath),
		dir:      bluez.NewDirectory(bus, logger),
		registry: registry,
		logger:   logger,
	}
}

// Scan starts discovery, waits opts.Duration, stops discovery and refreshes
// the registry from a fresh snapshot. Stop errors are ignored since BlueZ
// rejects stopping a discovery that already ended.
//
// Cancelling ctx cuts the wait short; discovery is still stopped, the registry
// refreshed, and the devices are returned together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]device.Device, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithFields(logrus.Fields{
		"adapter":  s.adapter.Path(),
		"duration": opts.Duration,
	}).Info("Starting BLE scan...")

	progressCallback(PhaseScanning)
	if err := s.adapter.StartDiscovery(ctx); err != nil {
		return nil, err
	}

	waitErr := device.Wait(ctx, opts.Duration)

	// ctx may already be cancelled; cleanup must still reach the adapter.
	cleanupCtx := context.WithoutCancel(ctx)

	progressCallback(PhaseStopping)
	if err := s.adapter.StopDiscovery(cleanupCtx); err != nil {
		s.logger.WithError(err).Debug("Stop discovery failed, ignoring")
	}

	progressCallback(PhaseProcessing)
	snap, err := s.dir.Snapshot(cleanupCtx)
	if err != nil {
		return nil, err
	}
	s.registry.Refresh(snap)

	devices := Filter(s.registry.List(opts.ServiceFilter), opts)
	s.logger.WithField("device_count", len(devices)).Info("BLE scan completed")

	return devices, waitErr
}

// Filter applies the allow and block lists of opts.
func Filter(devices []device.Device, opts *ScanOptions) []device.Device {
	if opts == nil || (len(opts.AllowList) == 0 && len(opts.BlockList) == 0) {
		return devices
	}

	out := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		if contains(opts.BlockList, d.Address) {
			continue
		}
		if len(opts.AllowList) > 0 && !contains(opts.AllowList, d.Address) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func contains(list []string, addr string) bool {
	for _, a := range list {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}
