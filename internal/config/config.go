package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/gridharness/internal/harness"
	"github.com/loykin/gridharness/internal/logger"
	"github.com/loykin/gridharness/internal/process"
)

// EnvPrefix prefixes environment overrides, e.g. GRIDHARNESS_SERVER_BINARY.
const EnvPrefix = "GRIDHARNESS"

// FileConfig represents the top-level configuration file.
type FileConfig struct {
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Timeouts TimeoutsConfig `toml:"timeouts" mapstructure:"timeouts"`
	Scope    string         `toml:"scope" mapstructure:"scope"`
	Env      []string       `toml:"env" mapstructure:"env"`
	EnvFiles []string       `toml:"env_files" mapstructure:"env_files"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	API      APIConfig      `toml:"api" mapstructure:"api"`
}

// ServerConfig describes the game server under test.
type ServerConfig struct {
	Name         string   `toml:"name" mapstructure:"name"`
	Package      string   `toml:"package" mapstructure:"package"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	Binary       string   `toml:"binary" mapstructure:"binary"`
	KeepArtifact bool     `toml:"keep_artifact" mapstructure:"keep_artifact"`
	Args         []string `toml:"args" mapstructure:"args"`
	Host         string   `toml:"host" mapstructure:"host"`
	PortFlag     string   `toml:"port_flag" mapstructure:"port_flag"`
	PortMin      int      `toml:"port_min" mapstructure:"port_min"`
	PortMax      int      `toml:"port_max" mapstructure:"port_max"`
}

type TimeoutsConfig struct {
	Ready         time.Duration `toml:"ready" mapstructure:"ready"`
	ReadyInterval time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`
	LogPoll       time.Duration `toml:"log_poll" mapstructure:"log_poll"`
	Grace         time.Duration `toml:"grace" mapstructure:"grace"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	ShowTime   bool   `toml:"show_time" mapstructure:"show_time"`
	Echo       bool   `toml:"echo" mapstructure:"echo"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type APIConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", harness.DefaultName)
	v.SetDefault("server.package", "")
	v.SetDefault("server.dir", "")
	v.SetDefault("server.binary", "")
	v.SetDefault("server.keep_artifact", false)
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port_flag", process.DefaultPortFlag)
	v.SetDefault("server.port_min", 8080)
	v.SetDefault("server.port_max", 12400)
	v.SetDefault("timeouts.ready", harness.DefaultReadyTimeout)
	v.SetDefault("timeouts.ready_interval", 200*time.Millisecond)
	v.SetDefault("timeouts.log_poll", 100*time.Millisecond)
	v.SetDefault("timeouts.grace", harness.DefaultGracePeriod)
	v.SetDefault("scope", string(harness.ScopePerTest))
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.show_time", true)
	v.SetDefault("log.echo", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("api.listen", "")
	v.SetDefault("api.base_path", "/api")
}

// Load reads path (TOML or YAML, chosen by extension; TOML when unknown) on
// top of the defaults and applies GRIDHARNESS_* environment overrides. An
// empty path loads defaults and environment only.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &fc, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

// LoggerConfig returns the harness logging configuration.
func (fc *FileConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:    fc.Log.Level,
		Format:   fc.Log.Format,
		ShowTime: fc.Log.ShowTime,
		File:     fc.fileConfig(),
	}
}

func (fc *FileConfig) fileConfig() logger.FileConfig {
	return logger.FileConfig{
		Dir:        fc.Log.Dir,
		Path:       fc.Log.Path,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}

// ServerEnv merges env_files in order and then the env list; later entries
// override earlier ones. The result is sorted by key.
func (fc *FileConfig) ServerEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// HarnessConfig converts the file configuration into a harness.Config.
// History and Guard are left for the caller to attach.
func (fc *FileConfig) HarnessConfig() (harness.Config, error) {
	env, err := fc.ServerEnv()
	if err != nil {
		return harness.Config{}, err
	}
	return harness.Config{
		Name:          fc.Server.Name,
		Package:       fc.Server.Package,
		BuildDir:      fc.Server.Dir,
		Binary:        fc.Server.Binary,
		KeepArtifact:  fc.Server.KeepArtifact,
		Args:          fc.Server.Args,
		Env:           env,
		Host:          fc.Server.Host,
		PortFlag:      fc.Server.PortFlag,
		PortMin:       fc.Server.PortMin,
		PortMax:       fc.Server.PortMax,
		ReadyTimeout:  fc.Timeouts.Ready,
		ReadyInterval: fc.Timeouts.ReadyInterval,
		LogPoll:       fc.Timeouts.LogPoll,
		GracePeriod:   fc.Timeouts.Grace,
		Scope:         harness.Scope(fc.Scope),
		Log:           fc.fileConfig(),
		Echo:          fc.Log.Echo,
	}, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
