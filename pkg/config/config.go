package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smith-xyz/go-module-patcher/pkg/canon"
	"github.com/smith-xyz/go-module-patcher/pkg/diagnostics"
)

const (
	EnvDiagnosticsCapacity = "MODPATCH_DIAGNOSTICS_CAPACITY"
	EnvMatchTimeout        = "MODPATCH_MATCH_TIMEOUT"
	EnvLogLevel            = "MODPATCH_LOG_LEVEL"
	EnvDiagnosticsLog      = "MODPATCH_DIAGNOSTICS_LOG"
	EnvDebugContext        = "MODPATCH_DEBUG_CONTEXT"
	EnvSelfReference       = "MODPATCH_SELF_REFERENCE"
)

type Config struct {
	DiagnosticsCapacity int
	MatchTimeout        time.Duration
	LogLevel            slog.Level
	DiagnosticsLog      string
	DebugContext        int
	SelfReference       string
}

func Default() Config {
	return Config{
		DiagnosticsCapacity: diagnostics.DefaultCapacity,
		LogLevel:            slog.LevelInfo,
		SelfReference:       canon.DefaultSelfReferenceFormat,
	}
}

func LoadConfigFromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv(EnvDiagnosticsCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s: want a positive integer, got %q", EnvDiagnosticsCapacity, v)
		}
		cfg.DiagnosticsCapacity = n
	}

	if v := getenv(EnvMatchTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvMatchTimeout, err)
		}
		if d < 0 {
			return cfg, fmt.Errorf("%s: negative duration %s", EnvMatchTimeout, v)
		}
		cfg.MatchTimeout = d
	}

	if v := getenv(EnvLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}

	cfg.DiagnosticsLog = getenv(EnvDiagnosticsLog)

	if v := getenv(EnvDebugContext); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("%s: want a non-negative integer, got %q", EnvDebugContext, v)
		}
		cfg.DebugContext = n
	}

	if v := getenv(EnvSelfReference); v != "" {
		if strings.Count(v, "%s") != 1 {
			return cfg, fmt.Errorf("%s: format must contain exactly one %%s, got %q", EnvSelfReference, v)
		}
		cfg.SelfReference = v
	}

	return cfg, nil
}

// ShouldLogToFile reports whether failure reports are also written to disk.
func (c Config) ShouldLogToFile() bool {
	return c.DiagnosticsLog != ""
}
