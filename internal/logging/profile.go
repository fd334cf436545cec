package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	EnvLogLevel     = "LOOMCTL_LOG_LEVEL"
	EnvLogTimestamp = "LOOMCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "LOOMCTL_LOG_NOCOLOR"
	EnvLogBypass    = "LOOMCTL_LOG_BYPASS"
)

// Profile selects a baseline configuration for a process class.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var profileOnce sync.Once

func ConfigureRuntime() {
	configureProfile(ProfileRuntime)
}

func ConfigureTests() {
	configureProfile(ProfileTest)
}

// configureProfile applies a profile exactly once per process; the first
// caller wins so test harnesses and daemons cannot fight over the logger.
func configureProfile(profile Profile) {
	profileOnce.Do(func() {
		cfg := profileConfig(profile)
		applyEnvOverrides(&cfg)
		Configure(cfg)
	})
}

func profileConfig(profile Profile) Config {
	cfg := DefaultConfig()
	switch profile {
	case ProfileTest:
		cfg.Level = DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return InfoLevel, false
	case "trace", "diagnostics":
		return TraceLevel, true
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return Disabled, true
	default:
		return InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
