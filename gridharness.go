package gridharness

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/gridharness/internal/config"
	"github.com/loykin/gridharness/internal/harness"
	"github.com/loykin/gridharness/internal/history"
	"github.com/loykin/gridharness/internal/history/factory"
	"github.com/loykin/gridharness/internal/logger"
	"github.com/loykin/gridharness/internal/metrics"
	"github.com/loykin/gridharness/internal/port"
	"github.com/loykin/gridharness/internal/probe"
	"github.com/loykin/gridharness/internal/process"
	"github.com/loykin/gridharness/internal/protocol"
	iapi "github.com/loykin/gridharness/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = harness.Config

type Server = harness.Server

type Lifecycle = harness.Lifecycle

type Guard = harness.Guard

type Scope = harness.Scope

type Status = process.Status

type FileConfig = cfg.FileConfig

type LogConfig = logger.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

type MemoryHistory = history.Memory

type Client = protocol.Client

type GameStart = protocol.GameStart

const (
	ScopePerTest = harness.ScopePerTest
	ScopePerRun  = harness.ScopePerRun
)

var (
	ErrBuildFailed       = process.ErrBuildFailed
	ErrLaunchFailed      = process.ErrLaunchFailed
	ErrPIDNotSet         = process.ErrPIDNotSet
	ErrHandleReused      = process.ErrHandleReused
	ErrServerDidNotStart = probe.ErrServerDidNotStart
	ErrNoPortAvailable   = port.ErrNoPortAvailable
	ErrStillRunning      = harness.ErrStillRunning
)

// New returns a lifecycle for c.
func New(c Config) (*Lifecycle, error) { return harness.New(c) }

// Main is the TestMain entry point; it always stops tracked servers after the tests.
func Main(m *testing.M) { harness.Main(m) }

func DefaultGuard() *Guard { return harness.DefaultGuard() }

func NewGuard(grace time.Duration) *Guard { return harness.NewGuard(grace) }

func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// NewHistorySink opens a sink from a DSN (sqlite, postgres or clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

func NewMemoryHistory() *MemoryHistory { return history.NewMemory() }

// SetupLogging installs the default slog logger.
func SetupLogging(c LogConfig) io.Closer { return logger.Setup(c) }

// AllocatePort returns a port in [min, max) on host that refused a connection.
func AllocatePort(host string, min, max int) (int, error) {
	return port.New(host, min, max).Allocate()
}

// WaitUntilReady polls host:port every interval until it accepts a TCP connection.
func WaitUntilReady(host string, p int, interval, timeout time.Duration) error {
	return probe.Prober{Interval: interval}.WaitUntilReady(host, p, timeout)
}

// Dial opens a player connection to a game server websocket URL.
func Dial(ctx context.Context, url string) (*Client, error) { return protocol.Dial(ctx, url) }

// NewHTTPServer starts an HTTP server exposing the status API for l.
func NewHTTPServer(addr, basePath string, l *Lifecycle, events *MemoryHistory) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, l, events)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
