package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	portFlags := &PortFlags{}
	smokeFlags := &SmokeFlags{}

	harnessCommand := command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createRunCommand(harnessCommand, globalFlags, runFlags),
		createProbeCommand(harnessCommand, probeFlags),
		createPortCommand(harnessCommand, portFlags),
		createSmokeCommand(harnessCommand, globalFlags, smokeFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "gridharness",
		Short: "Test harness for websocket game servers",
		Long: `Gridharness builds a game server, launches it on a free port, waits until it
accepts connections and tears it down again, capturing everything it prints.

Examples:
  gridharness run --package=./cmd/server --dir=/src/game
  gridharness smoke --binary=./bin/gridserver
  gridharness probe --port=8080 --timeout=3s
  gridharness port --min=20000 --max=20100`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "override log format (text, json, color)")
	root.PersistentFlags().StringVar(&flags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return root
}

func addServerFlags(cmd *cobra.Command, f *ServerFlags) {
	cmd.Flags().StringVar(&f.Package, "package", "", "package to build with go build")
	cmd.Flags().StringVar(&f.Dir, "dir", "", "working directory for the build")
	cmd.Flags().StringVar(&f.Binary, "binary", "", "launch an existing binary instead of building")
	cmd.Flags().StringSliceVar(&f.Args, "arg", nil, "extra server argument (repeatable)")
}

// createRunCommand creates the run subcommand
func createRunCommand(harnessCommand command, globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start one server and stream its output",
		Long: `Start one game server, print its websocket URL and stream its output until
SIGINT or SIGTERM, or until the server exits on its own.

Examples:
  gridharness run --package=./cmd/server
  gridharness run --binary=./gridserver --api-listen=:8081
  gridharness run --config=gridharness.toml --history-dsn=sqlite:///tmp/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return harnessCommand.Run(ctx, *globalFlags, *runFlags)
		},
	}

	addServerFlags(cmd, &runFlags.ServerFlags)
	cmd.Flags().StringVar(&runFlags.APIListen, "api-listen", "", "serve the status API on this address")
	cmd.Flags().StringVar(&runFlags.HistoryDSN, "history-dsn", "", "record lifecycle events (sqlite://, postgres://, clickhouse://)")
	cmd.Flags().BoolVar(&runFlags.Quiet, "quiet", false, "do not echo server output")

	return cmd
}

// createProbeCommand creates the probe subcommand
func createProbeCommand(harnessCommand command, probeFlags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Wait until a TCP port accepts connections",
		Long: `Poll host:port until it accepts a TCP connection or the timeout elapses.

Examples:
  gridharness probe --port=8080
  gridharness probe --host=127.0.0.1 --port=9000 --timeout=10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return harnessCommand.Probe(*probeFlags)
		},
	}

	cmd.Flags().StringVar(&probeFlags.Host, "host", "localhost", "host to probe")
	cmd.Flags().IntVar(&probeFlags.Port, "port", 0, "port to probe (required)")
	cmd.Flags().DurationVar(&probeFlags.Timeout, "timeout", 5*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&probeFlags.Interval, "interval", 200*time.Millisecond, "delay between attempts")

	if err := cmd.MarkFlagRequired("port"); err != nil {
		panic(err)
	}

	return cmd
}

// createPortCommand creates the port subcommand
func createPortCommand(harnessCommand command, portFlags *PortFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print a port nothing is listening on",
		Long: `Print a port from [min, max) on host whose connection attempt was refused.

Examples:
  gridharness port
  gridharness port --min=20000 --max=20100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return harnessCommand.Port(*portFlags)
		},
	}

	cmd.Flags().StringVar(&portFlags.Host, "host", "localhost", "host to check")
	cmd.Flags().IntVar(&portFlags.Min, "min", 8080, "lowest candidate port")
	cmd.Flags().IntVar(&portFlags.Max, "max", 12400, "upper bound (exclusive)")

	return cmd
}

// createSmokeCommand creates the smoke subcommand
func createSmokeCommand(harnessCommand command, globalFlags *GlobalFlags, smokeFlags *SmokeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Launch a server and play the opening of one game against it",
		Long: `Launch a server, join two players, start a game, check that both players
receive game_start and that the server logged the game, then tear it down.

Examples:
  gridharness smoke --package=./cmd/server
  gridharness smoke --binary=./gridserver --players=ann,ben`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return harnessCommand.Smoke(ctx, *globalFlags, *smokeFlags)
		},
	}

	addServerFlags(cmd, &smokeFlags.ServerFlags)
	cmd.Flags().StringSliceVar(&smokeFlags.Players, "players", []string{"alice", "bob"}, "the two player names")
	cmd.Flags().DurationVar(&smokeFlags.Timeout, "timeout", 3*time.Second, "per-step timeout")

	return cmd
}
