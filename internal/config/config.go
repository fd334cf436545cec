package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LoomConfig is the on-disk shape of a loom host configuration. Durations
// are strings in time.ParseDuration form.
type LoomConfig struct {
	ID              string       `toml:"id"`
	Heartbeat       string       `toml:"heartbeat"`
	AdminAddr       string       `toml:"admin_addr"`
	AdminToken      string       `toml:"admin_token"`
	CorsOrigins     []string     `toml:"cors_origins"`
	Entries         []string     `toml:"entries"`
	IdentityCeiling uint64       `toml:"identity_ceiling"`
	Join            JoinConfig   `toml:"join"`
	Worker          WorkerConfig `toml:"worker"`
}

// JoinConfig paces cooperative join polling.
type JoinConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
	MaxPolls     int     `toml:"max_polls"`
}

// WorkerConfig describes the shuttle subprocess a loom spawns per thread.
type WorkerConfig struct {
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	Bootstraps       []string `toml:"bootstraps"`
	SpawnTimeout     string   `toml:"spawn_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	TerminateGrace   string   `toml:"terminate_grace"`
}

// ShuttleConfig is the on-disk shape of a worker-side configuration.
type ShuttleConfig struct {
	WorkerID   string   `toml:"worker_id"`
	Entries    []string `toml:"entries"`
	Bootstraps []string `toml:"bootstraps"`
}

func LoadLoomConfig(path string) (LoomConfig, error) {
	var cfg LoomConfig
	if err := loadToml(path, &cfg); err != nil {
		return LoomConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "loom.local"
	}
	if err := ValidateLoomConfig(cfg); err != nil {
		return LoomConfig{}, err
	}
	return cfg, nil
}

func LoadShuttleConfig(path string) (ShuttleConfig, error) {
	var cfg ShuttleConfig
	if err := loadToml(path, &cfg); err != nil {
		return ShuttleConfig{}, err
	}
	if err := ValidateShuttleConfig(cfg); err != nil {
		return ShuttleConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLoomConfig(cfg LoomConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("loom config missing id")
	}
	for _, field := range []struct {
		name string
		raw  string
	}{
		{"heartbeat", cfg.Heartbeat},
		{"join.initial_delay", cfg.Join.InitialDelay},
		{"join.max_delay", cfg.Join.MaxDelay},
		{"worker.spawn_timeout", cfg.Worker.SpawnTimeout},
		{"worker.handshake_timeout", cfg.Worker.HandshakeTimeout},
		{"worker.terminate_grace", cfg.Worker.TerminateGrace},
	} {
		if err := checkDuration(field.name, field.raw); err != nil {
			return err
		}
	}
	if cfg.Worker.Command == "" && len(cfg.Worker.Args) > 0 {
		return fmt.Errorf("worker args set without worker command")
	}
	for i, uri := range cfg.Worker.Bootstraps {
		if strings.TrimSpace(uri) == "" {
			return fmt.Errorf("worker bootstrap[%d] is blank", i)
		}
	}
	return nil
}

func ValidateShuttleConfig(cfg ShuttleConfig) error {
	for i, name := range cfg.Entries {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("entry[%d] is blank", i)
		}
	}
	for i, uri := range cfg.Bootstraps {
		if strings.TrimSpace(uri) == "" {
			return fmt.Errorf("bootstrap[%d] is blank", i)
		}
	}
	return nil
}

func checkDuration(name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s invalid: %w", name, err)
	}
	return nil
}
