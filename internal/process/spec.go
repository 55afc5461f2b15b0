package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultPortFlag is passed before the port number when Spec.Port is set.
const DefaultPortFlag = "--port"

// Spec describes a server executable to launch.
type Spec struct {
	Name     string   `json:"name" mapstructure:"name"`
	Path     string   `json:"path" mapstructure:"path"`           // executable path
	Args     []string `json:"args" mapstructure:"args"`           // extra arguments before the port flag
	Dir      string   `json:"dir" mapstructure:"dir"`             // optional working dir
	Env      []string `json:"env" mapstructure:"env"`             // appended to the parent environment
	Port     int      `json:"port" mapstructure:"port"`           // 0 lets the server use its default
	PortFlag string   `json:"port_flag" mapstructure:"port_flag"` // defaults to --port
}

// DisplayName returns Name, or the executable's base name when Name is empty.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Path)
}

// Argv returns the full argument vector excluding the executable.
func (s Spec) Argv() []string {
	args := append([]string(nil), s.Args...)
	if s.Port > 0 {
		flag := s.PortFlag
		if flag == "" {
			flag = DefaultPortFlag
		}
		args = append(args, flag, strconv.Itoa(s.Port))
	}
	return args
}

// BuildCommand constructs the *exec.Cmd for the spec. No shell is involved;
// the executable is run directly with Argv.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- path comes from the harness build step or its config
	cmd := exec.Command(s.Path, s.Argv()...)
	if s.Dir != "" {
		cmd.Dir = s.Dir
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}
