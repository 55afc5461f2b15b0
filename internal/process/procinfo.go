package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// procInfo is best-effort OS-level detail about a live process.
type procInfo struct {
	RSS     uint64
	Cmdline string
}

// inspect reads resident memory and command line via gopsutil.
// Missing fields are left zero.
func inspect(pid int) procInfo {
	var info procInfo
	if pid <= 0 {
		return info
	}
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return info
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		info.RSS = mi.RSS
	}
	if cl, err := p.Cmdline(); err == nil {
		info.Cmdline = cl
	}
	return info
}
