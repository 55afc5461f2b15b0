package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/loykin/gridharness/internal/metrics"
)

// BuildSpec describes how to compile the server under test.
type BuildSpec struct {
	Package string   // package path or directory passed to go build, e.g. ./cmd/server
	Dir     string   // working directory for the build
	Output  string   // binary path; a temp path is chosen when empty
	Env     []string // extra environment for the go tool
	GoBin   string   // go executable; defaults to "go"
}

// DefaultOutput returns a unique temp path for a build artifact.
func DefaultOutput(name string) string {
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "server"
	}
	out := filepath.Join(os.TempDir(), fmt.Sprintf("gridharness-%s-%d-%d", name, os.Getpid(), time.Now().UnixNano()))
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	return out
}

// Build compiles spec.Package into an executable and returns its path.
// A failing go build is wrapped in ErrBuildFailed together with the tool output.
func Build(ctx context.Context, spec BuildSpec) (string, error) {
	if strings.TrimSpace(spec.Package) == "" {
		return "", fmt.Errorf("%w: no package to build", ErrBuildFailed)
	}
	goBin := spec.GoBin
	if goBin == "" {
		goBin = "go"
	}
	out := spec.Output
	if out == "" {
		out = DefaultOutput(filepath.Base(spec.Package))
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(spec.Dir, out)
	}
	if abs, err := filepath.Abs(out); err == nil {
		out = abs
	}

	// #nosec G204 -- package path comes from harness configuration
	cmd := exec.CommandContext(ctx, goBin, "build", "-o", out, spec.Package)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	b, err := cmd.CombinedOutput()
	if err != nil {
		metrics.IncBuild("failed")
		return "", fmt.Errorf("%w: go build %s: %v\n%s", ErrBuildFailed, spec.Package, err, strings.TrimSpace(string(b)))
	}
	metrics.IncBuild("ok")
	return out, nil
}
