package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "loom":
		return loomTemplate, nil
	case "shuttle":
		return shuttleTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const loomTemplate = `id = "loom.local"
heartbeat = "5s"
admin_addr = "127.0.0.1:9200"
admin_token = ""
cors_origins = ["http://localhost:3000"]
entries = ["std.echo", "std.sum", "std.sleep"]

[join]
initial_delay = "1ms"
multiplier = 2.0
max_delay = "50ms"
jitter = false
max_polls = 0

[worker]
command = "shuttlectl"
args = []
bootstraps = ["boot.noop"]
spawn_timeout = "10s"
handshake_timeout = "5s"
terminate_grace = "2s"
`

const shuttleTemplate = `worker_id = ""
entries = ["std.echo", "std.sum", "std.sleep"]
bootstraps = ["boot.noop", "boot.fail"]
`
