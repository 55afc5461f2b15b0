//go:build windows

package process

import (
	"errors"
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// signalZero has no Windows equivalent; existence is checked instead.
func signalZero(pid int) error {
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("process not found")
	}
	return nil
}

// Windows has no graceful signal for arbitrary console processes, so
// termination and kill are the same operation.
func terminateGroup(pid int) error { return killGroup(pid) }

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func isZombie(int) bool { return false }
