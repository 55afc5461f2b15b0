package process

import "time"

// Status is a point-in-time copy of a handle.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
	RSSBytes  uint64    `json:"rss_bytes,omitempty"`
	Cmdline   string    `json:"cmdline,omitempty"`
}
