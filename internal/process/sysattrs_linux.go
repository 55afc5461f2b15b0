//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so that
// termination signals reach anything it forks as well. Pdeathsig kills the
// child when the harness dies without running its cleanup, e.g. a panic or a
// test timeout. The kernel ties Pdeathsig to the spawning thread, so Start
// keeps cmd.Start on a locked OS thread.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
