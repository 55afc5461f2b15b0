package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultInterval    = 200 * time.Millisecond
	DefaultDialTimeout = 200 * time.Millisecond
)

var ErrServerDidNotStart = errors.New("server did not start")

// Prober polls a TCP endpoint until it accepts a connection.
// Accepting the connection is the whole readiness contract; nothing is sent.
type Prober struct {
	Interval    time.Duration
	DialTimeout time.Duration
}

// WaitUntilReady polls host:port with the default intervals.
func WaitUntilReady(host string, port int, timeout time.Duration) error {
	return Prober{}.WaitUntilReady(host, port, timeout)
}

// WaitUntilReady returns nil on the first successful connect, or an error
// wrapping ErrServerDidNotStart once timeout has elapsed. It never touches the
// process behind the port; cleanup is the caller's job.
func (p Prober) WaitUntilReady(host string, port int, timeout time.Duration) error {
	return p.WaitUntilReadyContext(context.Background(), host, port, timeout)
}

// WaitUntilReadyContext is WaitUntilReady that also gives up as soon as ctx
// is done, returning an error wrapping both ErrServerDidNotStart and ctx.Err().
func (p Prober) WaitUntilReadyContext(ctx context.Context, host string, port int, timeout time.Duration) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dial := p.DialTimeout
	if dial <= 0 {
		dial = DefaultDialTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		remaining := time.Until(deadline)
		d := dial
		if remaining > 0 && remaining < d {
			d = remaining
		}
		if isOpen(host, port, d) {
			return nil
		}
		remaining = time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s not accepting connections after %s",
				ErrServerDidNotStart, addr, time.Since(start).Round(time.Millisecond))
		}
		t := time.NewTimer(min(remaining, interval))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %w", ErrServerDidNotStart, addr, ctx.Err())
		case <-t.C:
		}
	}
}

// IsOpen reports whether host:port accepts a TCP connection right now.
func IsOpen(host string, port int) bool {
	return isOpen(host, port, DefaultDialTimeout)
}

func isOpen(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
