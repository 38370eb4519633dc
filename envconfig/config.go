// Package envconfig reads WAVENET_* environment variables.
//
// Values are resolved on every call so tests can override them with
// t.Setenv. Command-line flags take precedence over anything read here.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LogLevel returns the log level configured by WAVENET_DEBUG.
// 0/false = INFO (default), 1/true = DEBUG, 2 = TRACE-like (-8).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("WAVENET_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Home returns the directory used for snapshots, generated audio and the
// metrics database. Configurable via WAVENET_HOME.
// Default: $HOME/.wavenet
func Home() string {
	if s := Var("WAVENET_HOME"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".wavenet"
	}

	return filepath.Join(home, ".wavenet")
}

// Metrics returns the path of the SQLite metrics database.
// Configurable via WAVENET_METRICS. Default: $WAVENET_HOME/metrics.db
func Metrics() string {
	if s := Var("WAVENET_METRICS"); s != "" {
		return s
	}
	return filepath.Join(Home(), "metrics.db")
}

// Device is the compute device selector (auto, cpu, cuda, cuda:N).
var Device = StringWithDefault("WAVENET_DEVICE", "auto")

// Workers is the number of dataset prefetch workers.
var Workers = Uint("WAVENET_WORKERS", 8)

// Var returns an environment variable stripped of surrounding quotes and
// whitespace.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// StringWithDefault returns a getter for a string variable with a fallback.
func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// Uint returns a getter for an unsigned integer variable with a fallback.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// EnvVar describes one environment variable for help output.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every supported variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"WAVENET_DEBUG":   {"WAVENET_DEBUG", LogLevel(), "Show additional debug information (e.g. WAVENET_DEBUG=1)"},
		"WAVENET_DEVICE":  {"WAVENET_DEVICE", Device(), "Compute device: auto, cpu, cuda or cuda:N (default auto)"},
		"WAVENET_HOME":    {"WAVENET_HOME", Home(), "Directory for snapshots, samples and metrics (default ~/.wavenet)"},
		"WAVENET_METRICS": {"WAVENET_METRICS", Metrics(), "Path of the SQLite metrics database"},
		"WAVENET_WORKERS": {"WAVENET_WORKERS", Workers(), "Dataset prefetch workers (default 8)"},
	}
}

// Values returns every variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
