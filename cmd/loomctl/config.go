package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/treadle/loomctl/internal/loom"
)

type fileConfig struct {
	ID              string   `toml:"id"`
	Heartbeat       string   `toml:"heartbeat"`
	HeartbeatMS     int64    `toml:"heartbeat_ms"`
	AdminAddr       string   `toml:"admin_addr"`
	AdminToken      string   `toml:"admin_token"`
	CORSOrigins     []string `toml:"cors_origins"`
	Entries         []string `toml:"entries"`
	IdentityCeiling uint64   `toml:"identity_ceiling"`

	JoinInitialDelay string  `toml:"join_initial_delay"`
	JoinMultiplier   float64 `toml:"join_multiplier"`
	JoinMaxDelay     string  `toml:"join_max_delay"`
	JoinJitter       bool    `toml:"join_jitter"`
	JoinMaxPolls     int     `toml:"join_max_polls"`

	WorkerCommand    string   `toml:"worker_command"`
	WorkerArgs       []string `toml:"worker_args"`
	WorkerBootstraps []string `toml:"worker_bootstraps"`
	SpawnTimeout     string   `toml:"spawn_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	TerminateGrace   string   `toml:"terminate_grace"`
}

func loadServiceConfig(path string) (loom.ServiceConfig, error) {
	cfg := loom.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return loom.ServiceConfig{}, fmt.Errorf("load loom config: %w", err)
	}

	if meta.IsDefined("id") {
		id := strings.TrimSpace(raw.ID)
		if id != "" {
			cfg.LoomID = id
		}
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("heartbeat_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatMS) * time.Millisecond
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeIDs(raw.CORSOrigins)
	}

	if meta.IsDefined("entries") {
		cfg.BuiltinEntryIDs = normalizeIDs(raw.Entries)
	}

	if meta.IsDefined("identity_ceiling") {
		cfg.IdentityCeiling = raw.IdentityCeiling
	}

	if meta.IsDefined("join_initial_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.JoinInitialDelay))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse join_initial_delay: %w", err)
		}
		cfg.Join.Backoff.InitialDelay = d
	}

	if meta.IsDefined("join_multiplier") {
		cfg.Join.Backoff.Multiplier = raw.JoinMultiplier
	}

	if meta.IsDefined("join_max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.JoinMaxDelay))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse join_max_delay: %w", err)
		}
		cfg.Join.Backoff.MaxDelay = d
	}

	if meta.IsDefined("join_jitter") {
		cfg.Join.Backoff.Jitter = raw.JoinJitter
	}

	if meta.IsDefined("join_max_polls") {
		cfg.Join.MaxPolls = raw.JoinMaxPolls
	}

	if meta.IsDefined("worker_command") {
		cfg.Worker.Command = strings.TrimSpace(raw.WorkerCommand)
	}

	if meta.IsDefined("worker_args") {
		cfg.Worker.Args = raw.WorkerArgs
	}

	if meta.IsDefined("worker_bootstraps") {
		cfg.Worker.BootstrapURIs = normalizeIDs(raw.WorkerBootstraps)
	}

	if meta.IsDefined("spawn_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SpawnTimeout))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse spawn_timeout: %w", err)
		}
		cfg.Worker.SpawnTimeout = d
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Worker.HandshakeTimeout = d
	}

	if meta.IsDefined("terminate_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TerminateGrace))
		if err != nil {
			return loom.ServiceConfig{}, fmt.Errorf("parse terminate_grace: %w", err)
		}
		cfg.Worker.TerminateGrace = d
	}

	return cfg, nil
}

func normalizeIDs(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, id := range in {
		v := strings.TrimSpace(id)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
