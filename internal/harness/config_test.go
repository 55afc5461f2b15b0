package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/gridharness/internal/port"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{Package: "./cmd/server"}.withDefaults()
	assert.Equal(t, DefaultName, c.Name)
	assert.Equal(t, port.DefaultHost, c.Host)
	assert.Equal(t, port.DefaultMin, c.PortMin)
	assert.Equal(t, port.DefaultMax, c.PortMax)
	assert.Equal(t, DefaultReadyTimeout, c.ReadyTimeout)
	assert.Equal(t, DefaultGracePeriod, c.GracePeriod)
	assert.Equal(t, ScopePerTest, c.Scope)
	assert.Same(t, DefaultGuard(), c.Guard)
	assert.NoError(t, c.Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no package or binary", Config{}},
		{"empty range", Config{Binary: "x", PortMin: 9000, PortMax: 9000}},
		{"bad scope", Config{Binary: "x", Scope: "forever"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.withDefaults().Validate())
		})
	}
}

func TestServerURLs(t *testing.T) {
	s := &Server{Host: "localhost", Port: 9123}
	assert.Equal(t, "localhost:9123", s.Addr())
	assert.Equal(t, "ws://localhost:9123/ws", s.WebSocketURL())
}
