package port

import (
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Default allocation range. Max is exclusive.
const (
	DefaultMin         = 8080
	DefaultMax         = 12400
	DefaultHost        = "localhost"
	DefaultDialTimeout = 200 * time.Millisecond
)

var ErrNoPortAvailable = errors.New("no port available in range")

// Allocator picks TCP ports that nothing is listening on at selection time.
// A port is only reported free when a connect attempt is actively refused.
// Selection and the eventual bind are separate steps, so another process can
// still claim the port in between.
type Allocator struct {
	Host        string
	Min         int
	Max         int
	DialTimeout time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns an Allocator over [min, max) on host. Zero values use the defaults.
func New(host string, min, max int) *Allocator {
	return &Allocator{Host: host, Min: min, Max: max}
}

func (a *Allocator) bounds() (string, int, int) {
	host := a.Host
	if host == "" {
		host = DefaultHost
	}
	lo, hi := a.Min, a.Max
	if lo <= 0 {
		lo = DefaultMin
	}
	if hi <= 0 {
		hi = DefaultMax
	}
	return host, lo, hi
}

// Allocate samples candidates from the range without replacement and returns
// the first one whose connection is refused.
func (a *Allocator) Allocate() (int, error) {
	host, lo, hi := a.bounds()
	if hi <= lo {
		return 0, ErrNoPortAvailable
	}
	timeout := a.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	a.mu.Lock()
	if a.rnd == nil {
		a.rnd = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- port sampling
	}
	order := a.rnd.Perm(hi - lo)
	a.mu.Unlock()

	for _, off := range order {
		candidate := lo + off
		if refused(host, candidate, timeout) {
			return candidate, nil
		}
	}
	return 0, ErrNoPortAvailable
}

// IsFree reports whether a connection to host:port is refused right now.
func IsFree(host string, port int) bool {
	return refused(host, port, DefaultDialTimeout)
}

func refused(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err == nil {
		_ = conn.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
