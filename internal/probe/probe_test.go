package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	n, _ := strconv.Atoi(p)
	return n
}

func TestWaitUntilReadyOpenListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)

	start := time.Now()
	require.NoError(t, WaitUntilReady("127.0.0.1", port, 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitUntilReadyTimesOut(t *testing.T) {
	port := closedPort(t)
	start := time.Now()
	err := WaitUntilReady("127.0.0.1", port, time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrServerDidNotStart)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1300*time.Millisecond)
}

func TestWaitUntilReadyListenerAppearsLate(t *testing.T) {
	port := closedPort(t)
	errc := make(chan error, 1)
	go func() {
		errc <- Prober{Interval: 50 * time.Millisecond}.WaitUntilReady("127.0.0.1", port, 3*time.Second)
	}()

	time.Sleep(300 * time.Millisecond)
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Skipf("port %d was claimed by another process: %v", port, err)
	}
	defer ln.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not observe the late listener")
	}
}

func TestIsOpen(t *testing.T) {
	assert.False(t, IsOpen("127.0.0.1", closedPort(t)))
}

func TestWaitUntilReadyStopsOnCancel(t *testing.T) {
	port := closedPort(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	err := Prober{Interval: 50 * time.Millisecond}.WaitUntilReadyContext(ctx, "127.0.0.1", port, 10*time.Second)
	require.ErrorIs(t, err, ErrServerDidNotStart)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
