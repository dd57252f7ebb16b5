package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bluezctl/central"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/pkg/config"
)

// busFactory opens the system bus. Tests swap it for a fake.
var busFactory = func(logger *logrus.Logger) (bluez.Bus, error) {
	return bluez.DialSystemBus(logger)
}

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *central.Manager
}

// loadConfig reads --config (or the default path) and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}

	var (
		cfg *config.Config
		err error
	)
	if explicit {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// openApp loads configuration, dials the bus and locates the adapter.
// The caller must Close the returned app.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// Arguments and configuration are valid; runtime errors need no usage text.
	cmd.SilenceUsage = true

	bus, err := busFactory(logger)
	if err != nil {
		return nil, err
	}

	manager, err := central.New(ctx, bus, cfg, logger)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, manager: manager}, nil
}

// Close disconnects and releases the bus.
func (a *app) Close() {
	if err := a.manager.Close(context.Background()); err != nil {
		a.logger.WithError(err).Debug("Closing bus failed")
	}
}
