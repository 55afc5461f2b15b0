package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath    string
	LogLevel      string
	LogFormat     string
	MetricsListen string
}

// ServerFlags override the [server] section of the config file.
type ServerFlags struct {
	Package string
	Dir     string
	Binary  string
	Args    []string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ServerFlags
	APIListen  string
	HistoryDSN string
	Quiet      bool
}

type ProbeFlags struct {
	Host     string
	Port     int
	Timeout  time.Duration
	Interval time.Duration
}

type PortFlags struct {
	Host string
	Min  int
	Max  int
}

type SmokeFlags struct {
	ServerFlags
	Players []string
	Timeout time.Duration
}
