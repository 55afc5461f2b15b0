package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/gridharness/internal/harness"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	fc, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.Name != harness.DefaultName || fc.Server.Host != "localhost" {
		t.Fatalf("unexpected server defaults: %+v", fc.Server)
	}
	if fc.Server.PortMin != 8080 || fc.Server.PortMax != 12400 || fc.Server.PortFlag != "--port" {
		t.Fatalf("unexpected port defaults: %+v", fc.Server)
	}
	if fc.Timeouts.Ready != 5*time.Second || fc.Timeouts.Grace != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", fc.Timeouts)
	}
	if fc.Timeouts.ReadyInterval != 200*time.Millisecond || fc.Timeouts.LogPoll != 100*time.Millisecond {
		t.Fatalf("unexpected poll intervals: %+v", fc.Timeouts)
	}
	if fc.Scope != "per_test" || fc.API.BasePath != "/api" {
		t.Fatalf("unexpected scope/api: %q %q", fc.Scope, fc.API.BasePath)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "gridharness.toml", `
scope = "per_run"
env = ["MODE=test"]

[server]
name = "grid"
package = "./cmd/server"
dir = "/src/game"
args = ["--verbose"]
port_min = 20000
port_max = 20100

[timeouts]
ready = "3s"
grace = "500ms"

[log]
level = "debug"
format = "json"
dir = "/tmp/gridlogs"
echo = true

[history]
dsn = "sqlite://:memory:"

[metrics]
listen = ":9090"

[api]
listen = ":8081"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.Name != "grid" || fc.Server.Package != "./cmd/server" || fc.Server.Dir != "/src/game" {
		t.Fatalf("unexpected server: %+v", fc.Server)
	}
	if len(fc.Server.Args) != 1 || fc.Server.Args[0] != "--verbose" {
		t.Fatalf("unexpected args: %v", fc.Server.Args)
	}
	if fc.Timeouts.Ready != 3*time.Second || fc.Timeouts.Grace != 500*time.Millisecond {
		t.Fatalf("unexpected timeouts: %+v", fc.Timeouts)
	}
	// untouched keys keep defaults
	if fc.Timeouts.ReadyInterval != 200*time.Millisecond || fc.Server.Host != "localhost" {
		t.Fatalf("defaults lost: %+v %+v", fc.Timeouts, fc.Server)
	}
	if fc.History.DSN != "sqlite://:memory:" || fc.Metrics.Listen != ":9090" || fc.API.Listen != ":8081" {
		t.Fatalf("unexpected sections: %+v %+v %+v", fc.History, fc.Metrics, fc.API)
	}

	hc, err := fc.HarnessConfig()
	if err != nil {
		t.Fatalf("harness config: %v", err)
	}
	if hc.Scope != harness.ScopePerRun || hc.PortMin != 20000 || hc.PortMax != 20100 {
		t.Fatalf("unexpected harness config: %+v", hc)
	}
	if hc.Log.Dir != "/tmp/gridlogs" || !hc.Echo {
		t.Fatalf("log settings not carried: %+v", hc.Log)
	}
	if len(hc.Env) != 1 || hc.Env[0] != "MODE=test" {
		t.Fatalf("unexpected env: %v", hc.Env)
	}
	if err := hc.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	lc := fc.LoggerConfig()
	if lc.Level != "debug" || lc.Format != "json" || lc.File.Dir != "/tmp/gridlogs" {
		t.Fatalf("unexpected logger config: %+v", lc)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "gridharness.yaml", `
server:
  binary: /usr/local/bin/gridserver
timeouts:
  ready: 10s
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.Binary != "/usr/local/bin/gridserver" || fc.Timeouts.Ready != 10*time.Second {
		t.Fatalf("unexpected config: %+v %+v", fc.Server, fc.Timeouts)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GRIDHARNESS_SERVER_BINARY", "/opt/grid/server")
	t.Setenv("GRIDHARNESS_TIMEOUTS_GRACE", "750ms")
	t.Setenv("GRIDHARNESS_SCOPE", "per_run")

	p := writeFile(t, "c.toml", "[server]\nbinary = \"/from/file\"\n")
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.Binary != "/opt/grid/server" {
		t.Fatalf("env should override file, got %q", fc.Server.Binary)
	}
	if fc.Timeouts.Grace != 750*time.Millisecond || fc.Scope != "per_run" {
		t.Fatalf("unexpected overrides: %+v %q", fc.Timeouts, fc.Scope)
	}
}

func TestServerEnvMergesFilesThenList(t *testing.T) {
	dotenv := writeFile(t, ".env", "A=1\n#comment\nB=two\n")
	fc := &FileConfig{EnvFiles: []string{dotenv}, Env: []string{"B=three", "C=4", "junk"}}
	env, err := fc.ServerEnv()
	if err != nil {
		t.Fatalf("server env: %v", err)
	}
	want := []string{"A=1", "B=three", "C=4"}
	if len(env) != len(want) {
		t.Fatalf("got %v want %v", env, want)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("got %v want %v", env, want)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/definitely/not/exist.toml"); err == nil {
		t.Fatalf("expected error for missing config")
	}
	bad := writeFile(t, "bad.toml", "[server\nname=")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected error for malformed toml")
	}
	if _, err := loadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
	fc := &FileConfig{EnvFiles: []string{"/definitely/not/exist.env"}}
	if _, err := fc.HarnessConfig(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
