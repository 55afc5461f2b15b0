package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/gridharness/internal/history"
	"github.com/loykin/gridharness/internal/logcapture"
	"github.com/loykin/gridharness/internal/metrics"
	"github.com/loykin/gridharness/internal/port"
	"github.com/loykin/gridharness/internal/probe"
	"github.com/loykin/gridharness/internal/process"
)

// ErrStillRunning is returned by Stop when the process survived termination.
var ErrStillRunning = errors.New("server still running after teardown")

// tailDrain bounds how long Stop waits for the log reader to hit EOF.
const tailDrain = time.Second

// Lifecycle builds, launches and tears down game servers for tests.
type Lifecycle struct {
	cfg    Config
	alloc  *port.Allocator
	prober probe.Prober
	guard  *Guard

	mu      sync.Mutex
	servers map[string]*Server
	order   []string

	sharedMu sync.Mutex
	shared   *Server
}

// New validates cfg and returns a lifecycle. Unless disabled, it installs the
// guard's signal hook so interrupted runs do not leak servers.
func New(cfg Config) (*Lifecycle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Lifecycle{
		cfg:     cfg,
		alloc:   port.New(cfg.Host, cfg.PortMin, cfg.PortMax),
		prober:  probe.Prober{Interval: cfg.ReadyInterval},
		guard:   cfg.Guard,
		servers: make(map[string]*Server),
	}
	if !cfg.DisableSignalHook {
		l.guard.InstallSignalHandler()
	}
	return l, nil
}

// Config returns the effective configuration.
func (l *Lifecycle) Config() Config { return l.cfg }

// Guard returns the guard tracking this lifecycle's servers.
func (l *Lifecycle) Guard() *Guard { return l.guard }

// Start builds (unless a binary is configured), picks a port, launches the
// server, starts capturing its output and waits for it to accept TCP
// connections. On a readiness failure, including ctx being cancelled while
// waiting, the process is torn down before the error is returned.
func (l *Lifecycle) Start(ctx context.Context) (*Server, error) {
	id := uuid.NewString()
	name := l.cfg.Name

	bin, owned, err := l.artifact(ctx, id)
	if err != nil {
		return nil, err
	}

	p, err := l.alloc.Allocate()
	if err != nil {
		l.removeArtifact(bin, owned)
		return nil, err
	}

	h := process.NewHandle(process.Spec{
		Name:     name,
		Path:     bin,
		Args:     l.cfg.Args,
		Dir:      l.cfg.BuildDir,
		Env:      l.cfg.Env,
		Port:     p,
		PortFlag: l.cfg.PortFlag,
	})
	if err := h.Start(); err != nil {
		l.removeArtifact(bin, owned)
		l.record(history.EventLaunch, id, h, err.Error())
		return nil, err
	}

	srv := &Server{
		ID:           id,
		Name:         name,
		Host:         l.cfg.Host,
		Port:         p,
		Handle:       h,
		Logs:         logcapture.New(),
		Artifact:     bin,
		ownsArtifact: owned && !l.cfg.KeepArtifact,
		tailDone:     make(chan struct{}),
	}
	// the capture is fully configured before the server becomes visible
	l.startTail(srv)
	l.guard.Register(id, h)
	l.track(srv)
	l.record(history.EventLaunch, id, h, "")
	slog.Info("server launched", "server", name, "id", id, "pid", h.PID(), "port", p)

	began := time.Now()
	if err := l.prober.WaitUntilReadyContext(ctx, srv.Host, p, l.cfg.ReadyTimeout); err != nil {
		metrics.IncReadinessFailure(name)
		l.record(history.EventFailure, id, h, err.Error())
		if serr := l.Stop(srv); serr != nil {
			slog.Warn("cleanup after failed readiness", "server", name, "id", id, "error", serr)
		}
		return nil, fmt.Errorf("%s on %s: %w", name, srv.Addr(), err)
	}
	metrics.ObserveReadiness(name, time.Since(began).Seconds())
	h.MarkReady()
	l.record(history.EventReady, id, h, "")
	slog.Info("server ready", "server", name, "id", id, "addr", srv.Addr(), "after", time.Since(began).Round(time.Millisecond))
	return srv, nil
}

func (l *Lifecycle) artifact(ctx context.Context, id string) (string, bool, error) {
	if l.cfg.Binary != "" {
		return l.cfg.Binary, false, nil
	}
	out, err := process.Build(ctx, process.BuildSpec{
		Package: l.cfg.Package,
		Dir:     l.cfg.BuildDir,
		Env:     l.cfg.BuildEnv,
	})
	detail := out
	if err != nil {
		detail = err.Error()
	}
	l.send(history.Event{
		Type:       history.EventBuild,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{RunID: id, Name: l.cfg.Name, State: process.StateUnstarted.String(), Detail: detail},
	})
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

func (l *Lifecycle) startTail(srv *Server) {
	name := srv.Name
	c := srv.Logs
	c.Interval = l.cfg.LogPoll
	if w := l.cfg.Log.ServerWriter(fmt.Sprintf("%s-%d", name, srv.Port)); w != nil {
		c.Mirror = w
		srv.mirror = w
	}
	echo := l.cfg.Echo
	c.OnLine = func(line string) {
		metrics.IncLogLine(name)
		if echo {
			slog.Info("server output", "server", name, "line", line)
		}
	}
	out := srv.Handle.Output()
	go func() {
		defer close(srv.tailDone)
		if err := c.Tail(out); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Warn("server output reader stopped", "server", name, "error", err)
		}
	}()
}

// Stop tears srv down: terminate through the guard with SIGKILL escalation,
// confirm the process is gone, remove the build artifact and deregister.
// Stopping an already stopped server is a no-op.
func (l *Lifecycle) Stop(srv *Server) error {
	if srv == nil {
		return nil
	}
	srv.stopMu.Lock()
	defer srv.stopMu.Unlock()
	if !l.tracked(srv.ID) {
		return nil
	}
	h := srv.Handle

	forced, err := l.guard.Stop(h, l.cfg.GracePeriod)
	if err != nil {
		return fmt.Errorf("stop %s: %w", srv.Name, err)
	}
	if forced {
		l.record(history.EventKill, srv.ID, h, "")
	} else {
		l.record(history.EventTerminate, srv.ID, h, "")
	}

	running, err := h.IsRunning()
	if err != nil {
		return fmt.Errorf("stop %s: %w", srv.Name, err)
	}
	if running {
		return fmt.Errorf("%w: %s pid %d", ErrStillRunning, srv.Name, h.PID())
	}

	select {
	case <-srv.tailDone:
	case <-time.After(tailDrain):
		h.CloseOutput()
		<-srv.tailDone
	}
	if srv.mirror != nil {
		_ = srv.mirror.Close()
	}
	l.removeArtifact(srv.Artifact, srv.ownsArtifact)

	detail := ""
	if e := h.ExitErr(); e != nil {
		detail = e.Error()
	}
	l.record(history.EventExit, srv.ID, h, detail)

	l.guard.Deregister(srv.ID)
	l.untrack(srv.ID)
	slog.Info("server stopped", "server", srv.Name, "id", srv.ID, "forced", forced)
	return nil
}

// Acquire returns a ready server for t according to the configured scope.
// Under ScopePerTest the server is stopped in t's cleanup; under ScopePerRun
// one server is shared until Close.
func (l *Lifecycle) Acquire(t testing.TB) *Server {
	t.Helper()
	if l.cfg.Scope == ScopePerRun {
		srv, err := l.sharedServer()
		if err != nil {
			t.Fatalf("start shared %s: %v", l.cfg.Name, err)
		}
		return srv
	}
	srv, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("start %s: %v", l.cfg.Name, err)
	}
	t.Cleanup(func() {
		if err := l.Stop(srv); err != nil {
			t.Errorf("stop %s: %v", srv.Name, err)
		}
	})
	return srv
}

func (l *Lifecycle) sharedServer() (*Server, error) {
	l.sharedMu.Lock()
	defer l.sharedMu.Unlock()
	if l.shared != nil && l.tracked(l.shared.ID) {
		return l.shared, nil
	}
	srv, err := l.Start(context.Background())
	if err != nil {
		return nil, err
	}
	l.shared = srv
	return srv, nil
}

// Close stops every server this lifecycle still tracks, including the
// shared one.
func (l *Lifecycle) Close() error {
	l.sharedMu.Lock()
	l.shared = nil
	l.sharedMu.Unlock()

	var errs []error
	for _, srv := range l.Servers() {
		if err := l.Stop(srv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Servers returns the live servers in start order.
func (l *Lifecycle) Servers() []*Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Server, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.servers[id])
	}
	return out
}

// Lookup returns the live server with id.
func (l *Lifecycle) Lookup(id string) (*Server, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[id]
	return s, ok
}

func (l *Lifecycle) track(srv *Server) {
	l.mu.Lock()
	l.servers[srv.ID] = srv
	l.order = append(l.order, srv.ID)
	l.mu.Unlock()
}

func (l *Lifecycle) tracked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.servers[id]
	return ok
}

func (l *Lifecycle) untrack(id string) {
	l.mu.Lock()
	delete(l.servers, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

func (l *Lifecycle) removeArtifact(path string, owned bool) {
	if !owned || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove build artifact", "path", path, "error", err)
	}
}

func (l *Lifecycle) record(typ history.EventType, id string, h *process.Handle, detail string) {
	l.send(history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			RunID:  id,
			Name:   h.Name(),
			PID:    h.PID(),
			Port:   h.Port(),
			State:  h.State().String(),
			Detail: detail,
		},
	})
}

func (l *Lifecycle) send(e history.Event) {
	if l.cfg.History == nil {
		return
	}
	if err := l.cfg.History.Send(context.Background(), e); err != nil {
		slog.Warn("history send failed", "event", e.Type, "server", e.Record.Name, "error", err)
	}
}

// Main runs the tests of a package and always stops every tracked server
// afterwards. Use it from TestMain:
//
//	func TestMain(m *testing.M) { harness.Main(m) }
func Main(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m interface{ Run() int }) int {
	defer DefaultGuard().Shutdown()
	return m.Run()
}

var _ io.Closer = (*Lifecycle)(nil)
