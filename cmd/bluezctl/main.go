package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd runs the interactive menu when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "bluezctl",
	Short: "Bluetooth Low Energy central for BlueZ",
	Long: `Bluetooth Low Energy (BLE) central that talks to bluetoothd over D-Bus:

- Scan for nearby devices and list them by advertised service
- Connect, disconnect and forget devices
- List GATT characteristics of the connected device
- Read, write and subscribe to characteristic notifications

Run without arguments for the interactive menu.`,
	Version: formatVersion(version),
	Args:    cobra.NoArgs,
	RunE:    runMenu,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("bluezctl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bluezctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

func runMenu(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptContext(cmd.ErrOrStderr(), "\nCtrl+C pressed, exiting...")
	defer cancel()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	in := cmd.InOrStdin()
	m := newMenu(ctx, a, in, cmd.OutOrStdout(), isTerminal(in))
	return m.run(ctx)
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM.
func interruptContext(out io.Writer, msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out, msg)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
