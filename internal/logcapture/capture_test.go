package logcapture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsImmediateHit(t *testing.T) {
	c := New()
	c.Append("Server starting: localhost:9000")
	start := time.Now()
	assert.True(t, c.Contains("Server starting", time.Second))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestContainsWaitsForWriter(t *testing.T) {
	c := New()
	go func() {
		time.Sleep(250 * time.Millisecond)
		c.Append("Player joined: alice")
	}()
	assert.True(t, c.Contains("Player joined: alice", 3*time.Second))
}

func TestContainsTimesOut(t *testing.T) {
	c := &Capture{Interval: 20 * time.Millisecond}
	c.Append("Player joined: bob")
	start := time.Now()
	assert.False(t, c.Contains("Player joined: alice", 300*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestLateAppendDoesNotCount(t *testing.T) {
	c := &Capture{Interval: 10 * time.Millisecond}
	assert.False(t, c.Contains("late", 100*time.Millisecond))

	deadline := time.Now()
	time.Sleep(5 * time.Millisecond)
	c.Append("late line")
	assert.False(t, c.seen("late", deadline))
	assert.True(t, c.seen("late", time.Now()))
}

func TestResetClears(t *testing.T) {
	c := New()
	c.Append("a")
	c.Append("b")
	require.Equal(t, 2, c.Len())
	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("a", 0))
	c.Append("c")
	assert.Equal(t, []string{"c"}, c.Lines())
}

func TestLinesKeepArrivalOrder(t *testing.T) {
	c := New()
	for i := 0; i < 100; i++ {
		c.Append(fmt.Sprintf("line %d", i))
	}
	lines := c.Lines()
	require.Len(t, lines, 100)
	for i, l := range lines {
		assert.Equal(t, fmt.Sprintf("line %d", i), l)
	}
	entries := c.snapshot()
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].At.Before(entries[i-1].At))
	}
}

func TestCount(t *testing.T) {
	c := New()
	c.Append("Player joined: a")
	c.Append("Player left: a")
	c.Append("Player joined: b")
	assert.Equal(t, 2, c.Count("Player joined"))
	assert.Equal(t, 0, c.Count("nothing"))
}

func TestTailTrimsAndMirrors(t *testing.T) {
	var mirror bytes.Buffer
	var seen []string
	c := New()
	c.Mirror = &mirror
	c.OnLine = func(l string) { seen = append(seen, l) }

	err := c.Tail(strings.NewReader("  first \r\nsecond\n\nthird"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "", "third"}, c.Lines())
	assert.Equal(t, c.Lines(), seen)
	assert.Equal(t, "first\nsecond\n\nthird\n", mirror.String())
}

func TestConcurrentWriterAndReaders(t *testing.T) {
	c := &Capture{Interval: 5 * time.Millisecond}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- c.Tail(pr) }()

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Contains(fmt.Sprintf("event %d", i), 3*time.Second)
		}(i)
	}
	for i := 0; i < 8; i++ {
		_, err := fmt.Fprintf(pw, "event %d\n", i)
		require.NoError(t, err)
	}
	require.NoError(t, pw.Close())
	wg.Wait()
	require.NoError(t, <-done)
	for i, ok := range results {
		assert.True(t, ok, "reader %d missed its line", i)
	}
	assert.Equal(t, 8, c.Len())
}

func TestTailKeepsDrainingAfterOversizedLine(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)

	written := make(chan error, 1)
	go func() {
		defer func() { _ = pw.Close() }()
		if _, err := pw.WriteString(strings.Repeat("x", 2*maxLine) + "\n"); err != nil {
			written <- err
			return
		}
		for i := 0; i < 20000; i++ {
			if _, err := fmt.Fprintf(pw, "line %d\n", i); err != nil {
				written <- err
				return
			}
		}
		_, err := pw.WriteString("done-marker\n")
		written <- err
	}()

	c := New()
	c.Interval = 10 * time.Millisecond
	tailErr := make(chan error, 1)
	go func() { tailErr <- c.Tail(pr) }()

	assert.True(t, c.Contains("done-marker", 5*time.Second))
	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked on a full pipe")
	}
	require.NoError(t, <-tailErr)
	_ = pr.Close()

	lines := c.Lines()
	require.Len(t, lines, 20002)
	assert.Len(t, lines[0], maxLine)
	assert.Equal(t, "line 0", lines[1])
	assert.Equal(t, "done-marker", lines[20001])
}
