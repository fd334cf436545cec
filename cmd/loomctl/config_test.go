package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/treadle/loomctl/internal/loom"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
id = "loom.test"
heartbeat = "2s"
admin_addr = "127.0.0.1:9200"
admin_token = "hunter2"
cors_origins = ["http://localhost:4000"]
entries = ["std.echo", "std.sum"]
identity_ceiling = 500

join_initial_delay = "4ms"
join_multiplier = 3.0
join_max_delay = "100ms"
join_jitter = true
join_max_polls = 12

worker_command = "shuttlectl"
worker_args = ["-config", "shuttle.toml"]
worker_bootstraps = ["boot.noop"]
spawn_timeout = "8s"
handshake_timeout = "3s"
terminate_grace = "1s"
`)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LoomID != "loom.test" {
		t.Fatalf("unexpected id: %q", cfg.LoomID)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
	if cfg.AdminListenAddr != "127.0.0.1:9200" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListenAddr)
	}
	if cfg.AdminToken != "hunter2" {
		t.Fatalf("unexpected admin token: %q", cfg.AdminToken)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:4000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if len(cfg.BuiltinEntryIDs) != 2 {
		t.Fatalf("unexpected entries: %+v", cfg.BuiltinEntryIDs)
	}
	if cfg.IdentityCeiling != 500 {
		t.Fatalf("unexpected identity ceiling: %d", cfg.IdentityCeiling)
	}
	if cfg.Join.Backoff.InitialDelay != 4*time.Millisecond {
		t.Fatalf("unexpected join initial delay: %v", cfg.Join.Backoff.InitialDelay)
	}
	if cfg.Join.Backoff.Multiplier != 3.0 {
		t.Fatalf("unexpected join multiplier: %v", cfg.Join.Backoff.Multiplier)
	}
	if cfg.Join.Backoff.MaxDelay != 100*time.Millisecond {
		t.Fatalf("unexpected join max delay: %v", cfg.Join.Backoff.MaxDelay)
	}
	if !cfg.Join.Backoff.Jitter {
		t.Fatalf("expected join jitter enabled")
	}
	if cfg.Join.MaxPolls != 12 {
		t.Fatalf("unexpected join max polls: %d", cfg.Join.MaxPolls)
	}
	if cfg.Worker.Command != "shuttlectl" {
		t.Fatalf("unexpected worker command: %q", cfg.Worker.Command)
	}
	if len(cfg.Worker.Args) != 2 || cfg.Worker.Args[0] != "-config" {
		t.Fatalf("unexpected worker args: %+v", cfg.Worker.Args)
	}
	if len(cfg.Worker.BootstrapURIs) != 1 || cfg.Worker.BootstrapURIs[0] != "boot.noop" {
		t.Fatalf("unexpected worker bootstraps: %+v", cfg.Worker.BootstrapURIs)
	}
	if cfg.Worker.SpawnTimeout != 8*time.Second {
		t.Fatalf("unexpected spawn timeout: %v", cfg.Worker.SpawnTimeout)
	}
	if cfg.Worker.HandshakeTimeout != 3*time.Second {
		t.Fatalf("unexpected handshake timeout: %v", cfg.Worker.HandshakeTimeout)
	}
	if cfg.Worker.TerminateGrace != time.Second {
		t.Fatalf("unexpected terminate grace: %v", cfg.Worker.TerminateGrace)
	}
}

func TestLoadServiceConfigPartialOverlay(t *testing.T) {
	path := writeConfig(t, `
admin_addr = "127.0.0.1:9300"
`)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := loom.DefaultServiceConfig()
	if cfg.AdminListenAddr != "127.0.0.1:9300" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListenAddr)
	}
	if cfg.LoomID != def.LoomID {
		t.Fatalf("id should keep default, got %q", cfg.LoomID)
	}
	if cfg.HeartbeatInterval != def.HeartbeatInterval {
		t.Fatalf("heartbeat should keep default, got %v", cfg.HeartbeatInterval)
	}
	if len(cfg.BuiltinEntryIDs) != len(def.BuiltinEntryIDs) {
		t.Fatalf("entries should keep default, got %+v", cfg.BuiltinEntryIDs)
	}
	if cfg.Worker.SpawnTimeout != def.Worker.SpawnTimeout {
		t.Fatalf("spawn timeout should keep default, got %v", cfg.Worker.SpawnTimeout)
	}
}

func TestLoadServiceConfigHeartbeatMillis(t *testing.T) {
	path := writeConfig(t, `
heartbeat_ms = 1200
`)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HeartbeatInterval != 1200*time.Millisecond {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
}

func TestLoadServiceConfigEmptyEntriesOverride(t *testing.T) {
	path := writeConfig(t, `
entries = []
`)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.BuiltinEntryIDs) != 0 {
		t.Fatalf("expected entries cleared, got %+v", cfg.BuiltinEntryIDs)
	}
}

func TestLoadServiceConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `
heartbeat = "abc"
`)

	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadServiceConfigMissingFile(t *testing.T) {
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestNormalizeIDsTrimsAndDrops(t *testing.T) {
	out := normalizeIDs([]string{" std.echo ", "", "std.sum", "  "})
	if len(out) != 2 || out[0] != "std.echo" || out[1] != "std.sum" {
		t.Fatalf("unexpected ids: %+v", out)
	}
}
