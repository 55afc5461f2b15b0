package harness

import (
	"fmt"
	"time"

	"github.com/loykin/gridharness/internal/history"
	"github.com/loykin/gridharness/internal/logger"
	"github.com/loykin/gridharness/internal/port"
)

// Scope controls how long a server started through Acquire lives.
type Scope string

const (
	// ScopePerTest starts a fresh server for every Acquire and tears it down
	// in the test's cleanup.
	ScopePerTest Scope = "per_test"
	// ScopePerRun shares one server across every Acquire until Close.
	ScopePerRun Scope = "per_run"
)

// Defaults for the lifecycle timings.
const (
	DefaultReadyTimeout = 5 * time.Second
	DefaultGracePeriod  = 2 * time.Second
	DefaultName         = "gridserver"
)

// Config describes the server under test and how to run it.
type Config struct {
	Name string `mapstructure:"name"`

	// Package is built with go build when Binary is empty.
	Package  string   `mapstructure:"package"`
	BuildDir string   `mapstructure:"dir"`
	BuildEnv []string `mapstructure:"build_env"`
	// Binary skips the build step and launches an existing executable.
	Binary string `mapstructure:"binary"`
	// KeepArtifact leaves the built binary on disk after Stop.
	KeepArtifact bool `mapstructure:"keep_artifact"`

	Args     []string `mapstructure:"args"`
	Env      []string `mapstructure:"env"`
	Host     string   `mapstructure:"host"`
	PortFlag string   `mapstructure:"port_flag"`
	PortMin  int      `mapstructure:"port_min"`
	PortMax  int      `mapstructure:"port_max"`

	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
	LogPoll       time.Duration `mapstructure:"log_poll"`
	GracePeriod   time.Duration `mapstructure:"grace"`

	Scope Scope `mapstructure:"scope"`

	// Log mirrors each server's output into Log.Dir/<name>.log when set.
	Log logger.FileConfig `mapstructure:"log"`
	// Echo mirrors server output into the harness logger.
	Echo bool `mapstructure:"echo"`

	// History receives lifecycle events. Optional.
	History history.Sink `mapstructure:"-"`
	// Guard tracks live servers; DefaultGuard() when nil.
	Guard *Guard `mapstructure:"-"`
	// DisableSignalHook is for callers that handle SIGINT/SIGTERM themselves
	// and call Close.
	DisableSignalHook bool `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Host == "" {
		c.Host = port.DefaultHost
	}
	if c.PortMin == 0 {
		c.PortMin = port.DefaultMin
	}
	if c.PortMax == 0 {
		c.PortMax = port.DefaultMax
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Scope == "" {
		c.Scope = ScopePerTest
	}
	if c.Guard == nil {
		c.Guard = DefaultGuard()
	}
	return c
}

// Validate reports configuration that cannot produce a server.
func (c Config) Validate() error {
	if c.Package == "" && c.Binary == "" {
		return fmt.Errorf("harness %q: either package or binary is required", c.Name)
	}
	if c.PortMin >= c.PortMax {
		return fmt.Errorf("harness %q: empty port range [%d, %d)", c.Name, c.PortMin, c.PortMax)
	}
	switch c.Scope {
	case ScopePerTest, ScopePerRun:
	default:
		return fmt.Errorf("harness %q: unknown scope %q", c.Name, c.Scope)
	}
	return nil
}
