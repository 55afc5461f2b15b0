package logcapture

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is how often Contains re-checks the buffer.
const DefaultInterval = 100 * time.Millisecond

// maxLine bounds a single log line read by Tail.
const maxLine = 1 << 20

// Entry is one observed log line and the time it was appended.
type Entry struct {
	Text string
	At   time.Time
}

// Capture is an append-only buffer of log lines with a polling substring wait.
// It expects exactly one writer (normally Tail) and any number of readers.
type Capture struct {
	mu      sync.RWMutex
	entries []Entry

	// Interval overrides DefaultInterval when positive.
	Interval time.Duration
	// OnLine, when set, is called by Tail for every line after it is appended.
	OnLine func(line string)
	// Mirror, when set, receives every tailed line followed by a newline.
	Mirror io.Writer
}

func New() *Capture { return &Capture{} }

// Append records line. Entries are never modified after they are appended.
func (c *Capture) Append(line string) {
	e := Entry{Text: line, At: time.Now()}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Contains polls until a line containing substr has been appended or timeout
// elapses. Only lines appended at or before the deadline count, so a line that
// arrives after the wait gave up can never flip the answer.
func (c *Capture) Contains(substr string, timeout time.Duration) bool {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		if c.seen(substr, deadline) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining < interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(interval)
		}
	}
}

func (c *Capture) seen(substr string, deadline time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.At.After(deadline) {
			// entries are in arrival order
			return false
		}
		if strings.Contains(e.Text, substr) {
			return true
		}
	}
	return false
}

// Count returns how many current lines contain substr.
func (c *Capture) Count(substr string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if strings.Contains(e.Text, substr) {
			n++
		}
	}
	return n
}

// Lines returns a copy of the buffered lines in arrival order.
func (c *Capture) Lines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Text
	}
	return out
}

// snapshot returns a copy of the buffered entries.
func (c *Capture) snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

func (c *Capture) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every buffered line. It must not race with a pending Contains.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// Tail reads r line by line until EOF and appends each trimmed line.
// It is meant to run on its own goroutine for the lifetime of the process
// producing r and keeps draining r whatever it reads: a line longer than
// maxLine is cut at maxLine and the rest of it is discarded. A nil error
// means the stream ended normally.
func (c *Capture) Tail(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if keep := maxLine - len(buf); keep > 0 {
			buf = append(buf, chunk[:min(keep, len(chunk))]...)
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
			c.emit(buf)
			buf = buf[:0]
		case errors.Is(err, io.EOF):
			if len(buf) > 0 {
				c.emit(buf)
			}
			return nil
		default:
			if len(buf) > 0 {
				c.emit(buf)
			}
			return err
		}
	}
}

func (c *Capture) emit(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if c.Mirror != nil {
		_, _ = io.WriteString(c.Mirror, line+"\n")
	}
	c.Append(line)
	if c.OnLine != nil {
		c.OnLine(line)
	}
}
