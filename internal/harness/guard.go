package harness

import (
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/gridharness/internal/metrics"
	"github.com/loykin/gridharness/internal/process"
)

// killWait bounds how long the guard waits for a SIGKILLed process to be reaped.
const killWait = time.Second

// Guard tracks every live server process so that none outlives the harness,
// whether the run ends normally, through a failing test, or on a signal.
type Guard struct {
	mu      sync.Mutex
	handles map[string]*process.Handle
	grace   time.Duration

	sigOnce sync.Once
	sigCh   chan os.Signal
	// exit is called after a signal-triggered shutdown. Tests replace it.
	exit func(code int)
}

// NewGuard returns an empty guard that gives processes grace to exit after
// SIGTERM before escalating to SIGKILL.
func NewGuard(grace time.Duration) *Guard {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Guard{handles: make(map[string]*process.Handle), grace: grace, exit: os.Exit}
}

var (
	defaultGuard     *Guard
	defaultGuardOnce sync.Once
)

// DefaultGuard returns the process-wide guard.
func DefaultGuard() *Guard {
	defaultGuardOnce.Do(func() { defaultGuard = NewGuard(DefaultGracePeriod) })
	return defaultGuard
}

// Register starts tracking h under id.
func (g *Guard) Register(id string, h *process.Handle) {
	g.mu.Lock()
	g.handles[id] = h
	n := len(g.handles)
	g.mu.Unlock()
	metrics.SetTracked(n)
}

// Deregister stops tracking id. Unknown ids are ignored.
func (g *Guard) Deregister(id string) {
	g.mu.Lock()
	delete(g.handles, id)
	n := len(g.handles)
	g.mu.Unlock()
	metrics.SetTracked(n)
}

// Len returns the number of tracked handles.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// IDs returns the tracked ids in sorted order.
func (g *Guard) IDs() []string {
	g.mu.Lock()
	ids := make([]string, 0, len(g.handles))
	for id := range g.handles {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Release terminates the process tracked under id with the guard's
// escalation. The handle stays registered; callers deregister once they have
// confirmed it is gone.
func (g *Guard) Release(id string) (forced bool, err error) {
	g.mu.Lock()
	h := g.handles[id]
	g.mu.Unlock()
	if h == nil {
		return false, nil
	}
	return g.stop(h, g.grace)
}

// Stop terminates h: SIGTERM to its group, up to grace for it to exit, then
// SIGKILL. It reports whether the kill was needed.
func (g *Guard) Stop(h *process.Handle, grace time.Duration) (forced bool, err error) {
	if grace <= 0 {
		grace = g.grace
	}
	return g.stop(h, grace)
}

func (g *Guard) stop(h *process.Handle, grace time.Duration) (bool, error) {
	if h.State() == process.StateTerminated {
		return false, nil
	}
	if err := h.Terminate(); err != nil {
		return false, err
	}
	if h.Wait(grace) {
		metrics.IncTermination(h.Name(), "graceful")
		return false, nil
	}
	slog.Warn("server ignored SIGTERM, killing", "server", h.Name(), "pid", h.PID(), "grace", grace)
	if err := h.Kill(); err != nil {
		return true, err
	}
	h.Wait(killWait)
	metrics.IncTermination(h.Name(), "killed")
	return true, nil
}

// Shutdown terminates and forgets every tracked process. Safe to call more
// than once.
func (g *Guard) Shutdown() {
	g.mu.Lock()
	handles := g.handles
	g.handles = make(map[string]*process.Handle)
	g.mu.Unlock()
	metrics.SetTracked(0)

	var wg sync.WaitGroup
	for id, h := range handles {
		wg.Add(1)
		go func(id string, h *process.Handle) {
			defer wg.Done()
			if _, err := g.stop(h, g.grace); err != nil {
				slog.Warn("guard shutdown", "id", id, "server", h.Name(), "error", err)
			}
		}(id, h)
	}
	wg.Wait()
}

// InstallSignalHandler makes SIGINT and SIGTERM shut the guard down before
// the harness exits. Only the first call installs the hook.
func (g *Guard) InstallSignalHandler() {
	g.sigOnce.Do(func() {
		g.sigCh = make(chan os.Signal, 1)
		signal.Notify(g.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-g.sigCh
			signal.Stop(g.sigCh)
			slog.Warn("signal received, stopping tracked servers", "signal", sig.String(), "tracked", g.Len())
			g.Shutdown()
			code := 1
			if s, ok := sig.(syscall.Signal); ok {
				code = 128 + int(s)
			}
			g.exit(code)
		}()
	})
}
