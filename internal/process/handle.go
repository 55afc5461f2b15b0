package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/loykin/gridharness/internal/metrics"
)

// Handle is a launched (or launchable) server process.
// A handle starts at most once; after the process exits it stays Terminated.
type Handle struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	state     State
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	osStart   int64 // OS start time of pid, Unix seconds; 0 when unknown
	output    *os.File
	waitDone  chan struct{} // closed by monitor when cmd.Wait returns
}

// NewHandle returns an unstarted handle for spec.
func NewHandle(spec Spec) *Handle {
	return &Handle{spec: spec, state: StateUnstarted}
}

// Launch creates a handle for spec and starts it.
func Launch(spec Spec) (*Handle, error) {
	h := NewHandle(spec)
	if err := h.Start(); err != nil {
		return nil, err
	}
	return h, nil
}

// Start spawns the process with stdout and stderr merged into one pipe.
// It returns as soon as the OS has assigned a PID; readiness is separate.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUnstarted {
		return ErrHandleReused
	}
	name := h.spec.DisplayName()

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: %s: output pipe: %w", ErrLaunchFailed, name, err)
	}
	cmd := h.spec.BuildCommand()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := startLocked(cmd); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("%w: %s: %w", ErrLaunchFailed, name, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.output = pr
	h.startedAt = time.Now()
	h.osStart = procStartUnix(h.pid)
	h.waitDone = make(chan struct{})
	h.setStateLocked(StateLaunched)
	metrics.IncLaunch(name)

	go h.monitor(cmd, h.waitDone)
	return nil
}

// startLocked starts cmd on a locked OS thread. A parent-death signal set in
// SysProcAttr fires when the spawning thread exits, and the runtime only
// exits a thread whose goroutine returns while locked to it.
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return cmd.Start()
}

// monitor reaps the child and finalizes state. It is the only caller of cmd.Wait.
func (h *Handle) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.stoppedAt = time.Now()
	h.setStateLocked(StateTerminated)
	close(done)
	h.mu.Unlock()
}

func (h *Handle) setStateLocked(to State) {
	from := h.state
	if from == to || !CanTransition(from, to) {
		return
	}
	h.state = to
	metrics.RecordStateTransition(h.spec.DisplayName(), from.String(), to.String())
}

// MarkReady records that the readiness probe succeeded.
func (h *Handle) MarkReady() {
	h.mu.Lock()
	h.setStateLocked(StateReady)
	h.mu.Unlock()
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PID returns the process id, or 0 before launch.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

func (h *Handle) Port() int { return h.spec.Port }

func (h *Handle) Name() string { return h.spec.DisplayName() }

// Output returns the merged stdout/stderr stream, or nil before launch.
func (h *Handle) Output() io.Reader {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.output == nil {
		return nil
	}
	return h.output
}

// CloseOutput closes the read end of the output pipe.
func (h *Handle) CloseOutput() {
	h.mu.Lock()
	out := h.output
	h.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
}

// Done is closed once the process has exited and been reaped.
// It returns nil before launch.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitDone
}

// ExitErr returns the error from cmd.Wait once the process has exited.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// IsRunning sends the null signal to the recorded PID. Delivery success means
// alive; any failure, including a permission error, means not alive. A zombie
// counts as not alive. Calling it before launch is a contract violation and
// returns ErrPIDNotSet.
func (h *Handle) IsRunning() (bool, error) {
	h.mu.Lock()
	pid, state, osStart := h.pid, h.state, h.osStart
	h.mu.Unlock()
	if pid == 0 {
		return false, ErrPIDNotSet
	}
	if state == StateTerminated {
		// reaped; the pid may already belong to someone else
		return false, nil
	}
	if isZombie(pid) {
		return false, nil
	}
	if osStart != 0 {
		// a different start time means the pid was recycled
		if cur := procStartUnix(pid); cur != 0 && cur != osStart {
			return false, nil
		}
	}
	return signalZero(pid) == nil, nil
}

// Terminate asks the process group to exit gracefully. It does not wait and
// does not escalate.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	pid := h.pid
	if pid == 0 {
		h.mu.Unlock()
		return ErrPIDNotSet
	}
	if h.state == StateTerminated {
		h.mu.Unlock()
		return nil
	}
	h.setStateLocked(StateTerminating)
	h.mu.Unlock()
	return terminateGroup(pid)
}

// Kill forcefully stops the process group.
func (h *Handle) Kill() error {
	h.mu.Lock()
	pid := h.pid
	if pid == 0 {
		h.mu.Unlock()
		return ErrPIDNotSet
	}
	if h.state == StateTerminated {
		h.mu.Unlock()
		return nil
	}
	h.setStateLocked(StateTerminating)
	h.mu.Unlock()
	return killGroup(pid)
}

// Wait blocks until the process has been reaped or timeout elapses.
// It reports whether the process exited.
func (h *Handle) Wait(timeout time.Duration) bool {
	done := h.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Snapshot returns a copy of the current status, including best-effort OS
// details while the process is alive.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	s := Status{
		Name:      h.spec.DisplayName(),
		PID:       h.pid,
		Port:      h.spec.Port,
		State:     h.state,
		StartedAt: h.startedAt,
		StoppedAt: h.stoppedAt,
	}
	if h.exitErr != nil {
		s.ExitErr = h.exitErr.Error()
	}
	h.mu.Unlock()

	s.Running = s.State != StateUnstarted && s.State != StateTerminated
	if s.Running {
		info := inspect(s.PID)
		s.RSSBytes = info.RSS
		s.Cmdline = info.Cmdline
	}
	return s
}
