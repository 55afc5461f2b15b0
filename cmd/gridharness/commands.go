package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/gridharness"
	"github.com/loykin/gridharness/internal/history"
)

type command struct {
	out io.Writer
}

// session is the state shared by run and smoke: the loaded config, the
// installed logger and whatever needs closing afterwards.
type session struct {
	fc      *gridharness.FileConfig
	closers []io.Closer
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openSession loads the config, applies the global flag overrides, installs
// the logger and starts the metrics endpoint when requested.
func (c *command) openSession(g GlobalFlags) (*session, error) {
	fc, err := gridharness.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		fc.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		fc.Log.Format = g.LogFormat
	}
	if g.MetricsListen != "" {
		fc.Metrics.Listen = g.MetricsListen
	}
	s := &session{fc: fc}
	s.closers = append(s.closers, gridharness.SetupLogging(fc.LoggerConfig()))

	if fc.Metrics.Listen != "" || fc.API.Listen != "" {
		if err := gridharness.RegisterMetricsDefault(); err != nil {
			slog.Warn("failed to register metrics", "error", err)
		}
	}
	if fc.Metrics.Listen != "" {
		addr := fc.Metrics.Listen
		go func() {
			if err := gridharness.ServeMetrics(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "addr", addr, "error", err)
			}
		}()
	}
	return s, nil
}

// harnessConfig builds the lifecycle config from the file config with the
// server flags applied on top.
func (s *session) harnessConfig(f ServerFlags) (gridharness.Config, error) {
	if f.Package != "" {
		s.fc.Server.Package = f.Package
		s.fc.Server.Binary = ""
	}
	if f.Dir != "" {
		s.fc.Server.Dir = f.Dir
	}
	if f.Binary != "" {
		s.fc.Server.Binary = f.Binary
	}
	if len(f.Args) > 0 {
		s.fc.Server.Args = append(s.fc.Server.Args, f.Args...)
	}
	hc, err := s.fc.HarnessConfig()
	if err != nil {
		return hc, err
	}
	// the CLI owns SIGINT/SIGTERM and closes the lifecycle itself
	hc.DisableSignalHook = true
	hc.Guard = gridharness.NewGuard(hc.GracePeriod)
	return hc, nil
}

// historySink returns a memory recorder for the API plus the configured sink, if any.
func (s *session) historySink(dsn string) (*gridharness.MemoryHistory, history.Sink, error) {
	if dsn == "" {
		dsn = s.fc.History.DSN
	}
	mem := gridharness.NewMemoryHistory()
	if dsn == "" {
		return mem, mem, nil
	}
	sink, err := gridharness.NewHistorySink(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open history sink: %w", err)
	}
	if cl, ok := sink.(io.Closer); ok {
		s.closers = append(s.closers, cl)
	}
	return mem, history.Multi{mem, sink}, nil
}

// Run starts one server and blocks until ctx is cancelled or the server exits.
func (c *command) Run(ctx context.Context, g GlobalFlags, f RunFlags) error {
	s, err := c.openSession(g)
	if err != nil {
		return err
	}
	defer closeQuietly(s)

	hc, err := s.harnessConfig(f.ServerFlags)
	if err != nil {
		return err
	}
	hc.Echo = hc.Echo || !f.Quiet
	mem, sink, err := s.historySink(f.HistoryDSN)
	if err != nil {
		return err
	}
	hc.History = sink

	l, err := gridharness.New(hc)
	if err != nil {
		return err
	}
	srv, err := l.Start(ctx)
	if err != nil {
		_ = l.Close()
		return err
	}
	_, _ = fmt.Fprintf(c.out, "server %s ready at %s\n", srv.ID, srv.WebSocketURL())

	apiListen := f.APIListen
	if apiListen == "" {
		apiListen = s.fc.API.Listen
	}
	if apiListen != "" {
		httpSrv, err := gridharness.NewHTTPServer(apiListen, s.fc.API.BasePath, l, mem)
		if err != nil {
			_ = l.Close()
			return err
		}
		defer closeQuietly(httpSrv)
		slog.Info("status api listening", "addr", apiListen, "base", s.fc.API.BasePath)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "server", srv.ID)
	case <-srv.Handle.Done():
		slog.Warn("server exited on its own", "server", srv.ID, "error", srv.Handle.ExitErr())
	}
	return l.Close()
}

// Probe waits for host:port to accept a connection.
func (c *command) Probe(f ProbeFlags) error {
	if f.Port <= 0 || f.Port > 65535 {
		return fmt.Errorf("invalid port %d", f.Port)
	}
	if err := gridharness.WaitUntilReady(f.Host, f.Port, f.Interval, f.Timeout); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s:%d is accepting connections\n", f.Host, f.Port)
	return nil
}

// Port prints a free port from the requested range.
func (c *command) Port(f PortFlags) error {
	if f.Min >= f.Max {
		return fmt.Errorf("empty port range [%d, %d)", f.Min, f.Max)
	}
	p, err := gridharness.AllocatePort(f.Host, f.Min, f.Max)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, p)
	return nil
}

type smokeResult struct {
	Server  string                 `json:"server"`
	URL     string                 `json:"url"`
	Players map[string]smokePlayer `json:"players"`
}

type smokePlayer struct {
	GameID   string `json:"game_id"`
	Role     string `json:"role"`
	Opponent string `json:"opponent"`
	Turn     string `json:"turn"`
}

// Smoke launches a server, joins two players, starts a game and checks both
// sides of the handshake before tearing everything down.
func (c *command) Smoke(ctx context.Context, g GlobalFlags, f SmokeFlags) error {
	if len(f.Players) != 2 || f.Players[0] == f.Players[1] {
		return fmt.Errorf("smoke needs two distinct player names, got %v", f.Players)
	}
	s, err := c.openSession(g)
	if err != nil {
		return err
	}
	defer closeQuietly(s)

	hc, err := s.harnessConfig(f.ServerFlags)
	if err != nil {
		return err
	}
	_, sink, err := s.historySink("")
	if err != nil {
		return err
	}
	hc.History = sink
	hc.Scope = gridharness.ScopePerTest

	l, err := gridharness.New(hc)
	if err != nil {
		return err
	}
	defer closeQuietly(l)

	srv, err := l.Start(ctx)
	if err != nil {
		return err
	}
	res, err := c.playOpening(ctx, srv, f)
	if err != nil {
		lines := srv.Logs.Lines()
		if len(lines) > 10 {
			lines = lines[len(lines)-10:]
		}
		slog.Error("smoke failed", "server", srv.ID, "output", strings.Join(lines, " | "))
		return err
	}
	if err := l.Stop(srv); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) playOpening(ctx context.Context, srv *gridharness.Server, f SmokeFlags) (smokeResult, error) {
	res := smokeResult{Server: srv.ID, URL: srv.WebSocketURL(), Players: map[string]smokePlayer{}}

	// dial in order; the server pairs players by connection order
	clients := make([]*gridharness.Client, 0, len(f.Players))
	defer func() {
		for _, cl := range clients {
			_ = cl.Close()
		}
	}()
	for _, name := range f.Players {
		cl, err := gridharness.Dial(ctx, srv.WebSocketURL())
		if err != nil {
			return res, err
		}
		clients = append(clients, cl)
		if err := cl.Join(name); err != nil {
			return res, err
		}
		if !srv.WaitForLog("Player joined: "+name, f.Timeout) {
			return res, fmt.Errorf("server never logged join of %s", name)
		}
	}

	if err := clients[0].Start(); err != nil {
		return res, err
	}
	starts := make([]gridharness.GameStart, len(clients))
	var eg errgroup.Group
	for i, cl := range clients {
		eg.Go(func() error {
			gs, err := cl.ExpectGameStart(f.Timeout)
			if err != nil {
				return fmt.Errorf("%s: %w", cl.Name(), err)
			}
			starts[i] = gs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	a, b := starts[0], starts[1]
	if a.GameID != b.GameID {
		return res, fmt.Errorf("players got different games: %s and %s", a.GameID, b.GameID)
	}
	if a.YourRole == b.YourRole {
		return res, fmt.Errorf("both players were assigned %s", a.YourRole)
	}
	if a.Opponent != f.Players[1] || b.Opponent != f.Players[0] {
		return res, fmt.Errorf("unexpected opponents: %s saw %s, %s saw %s", f.Players[0], a.Opponent, f.Players[1], b.Opponent)
	}
	if !srv.WaitForLog("Started between", f.Timeout) {
		return res, errors.New("server never logged the game start")
	}
	for i, name := range f.Players {
		res.Players[name] = smokePlayer{GameID: starts[i].GameID, Role: starts[i].YourRole, Opponent: starts[i].Opponent, Turn: starts[i].Turn}
	}
	return res, nil
}
