//go:build !windows

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/gridharness/internal/process"
)

var (
	fixtureOnce sync.Once
	fixtureBin  string
	fixtureErr  error
)

func fixture(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the fixture server")
	}
	fixtureOnce.Do(func() {
		dir, err := os.MkdirTemp("", "gridharness-cli")
		if err != nil {
			fixtureErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		fixtureBin, fixtureErr = process.Build(ctx, process.BuildSpec{
			Package: "../../internal/harness/testdata/gridserver",
			Output:  filepath.Join(dir, "gridserver"),
		})
	})
	if fixtureErr != nil {
		t.Skipf("fixture server unavailable: %v", fixtureErr)
	}
	return fixtureBin
}

func TestMain(m *testing.M) {
	code := m.Run()
	if fixtureBin != "" {
		_ = os.RemoveAll(filepath.Dir(fixtureBin))
	}
	os.Exit(code)
}

func TestSmokeAgainstFixture(t *testing.T) {
	bin := fixture(t)

	out, err := execute(t, "smoke", "--binary", bin, "--timeout", "5s", "--players", "ann,ben")
	require.NoError(t, err)

	var res smokeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Players, 2)
	ann, ben := res.Players["ann"], res.Players["ben"]
	assert.Equal(t, ann.GameID, ben.GameID)
	assert.NotEqual(t, ann.Role, ben.Role)
	assert.Equal(t, "ben", ann.Opponent)
	assert.Equal(t, "ann", ben.Opponent)
	assert.True(t, strings.HasPrefix(res.URL, "ws://"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunStopsWhenCancelled(t *testing.T) {
	bin := fixture(t)

	out := &syncBuffer{}
	c := command{out: out}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, GlobalFlags{}, RunFlags{ServerFlags: ServerFlags{Binary: bin}, Quiet: true})
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ready at ws://") },
		10*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
