//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr creates a new process group on Windows.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
