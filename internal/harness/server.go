package harness

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/gridharness/internal/logcapture"
	"github.com/loykin/gridharness/internal/process"
)

// WebSocketPath is where the game server accepts websocket connections.
const WebSocketPath = "/ws"

// Server is a ready server yielded to a test.
type Server struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Handle   *process.Handle
	Logs     *logcapture.Capture
	Artifact string // built binary, removed on Stop unless kept

	ownsArtifact bool
	tailDone     chan struct{}
	mirror       interface{ Close() error }
	stopMu       sync.Mutex
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebSocketURL returns the ws:// URL of the game endpoint.
func (s *Server) WebSocketURL() string {
	return fmt.Sprintf("ws://%s%s", s.Addr(), WebSocketPath)
}

// WaitForLog waits up to timeout for a server log line containing substr.
func (s *Server) WaitForLog(substr string, timeout time.Duration) bool {
	return s.Logs.Contains(substr, timeout)
}

// Status returns the process snapshot.
func (s *Server) Status() process.Status {
	return s.Handle.Snapshot()
}
