package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/central"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/testutils"
)

const testConfigYAML = `
scan_duration: 10ms
connect_settle: 0s
discovery_settle: 0s
`

// CommandTestSuite runs commands against the fake bus of BusSuite.
// Embedding suites configure the object tree before calling SetupTest.
type CommandTestSuite struct {
	testutils.BusSuite

	ConfigPath  string
	origFactory func(*logrus.Logger) (bluez.Bus, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.BusSuite.SetupTest()

	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(testConfigYAML), 0o600))

	bus := s.Bus
	s.origFactory = busFactory
	busFactory = func(*logrus.Logger) (bluez.Bus, error) { return bus, nil }

	resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	busFactory = s.origFactory
	s.BusSuite.TearDownTest()
}

// resetFlags restores package flag variables and cobra state shared between runs.
func resetFlags() {
	scanDuration = 0
	scanFormat = ""
	scanFilter = ""
	scanAllowList = nil
	scanBlockList = nil
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
	_ = rootCmd.PersistentFlags().Set("config", "")
}

// ExecuteCommand runs the root command with stdin and args, returning stdout.
// The test config is passed with --config.
func (s *CommandTestSuite) ExecuteCommand(stdin string, args ...string) (string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(append(args, "--config", s.ConfigPath))
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()

	err := rootCmd.Execute()
	return stdout.String(), err
}

// NewApp opens a manager over the suite bus.
func (s *CommandTestSuite) NewApp() *app {
	mgr, err := central.New(context.Background(), s.Bus, s.Config, s.Logger)
	s.Require().NoError(err, "manager MUST open")
	return &app{cfg: s.Config, logger: s.Logger, manager: mgr}
}

// syncBuffer is a bytes.Buffer safe to read while the menu writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// WaitForOutput waits until out contains text.
func (s *CommandTestSuite) WaitForOutput(out *syncBuffer, text string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(out.String(), text)
	}, s.TestTimeout, 5*time.Millisecond, "output MUST contain %q", text)
}

// transcript strips the repeated menu and choice prompt from menu output.
func transcript(out string) string {
	out = strings.ReplaceAll(out, menuText+"\n", "")
	return strings.ReplaceAll(out, "\nChoice: ", "")
}
