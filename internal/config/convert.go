package config

import (
	"github.com/treadle/loomctl/internal/entry"
)

// ShuttleRegistries assembles the entry registry and bootstrap set a worker
// runtime serves from. An empty entry list means the standard builtins; an
// empty bootstrap list registers the builtin bootstraps so hosts can name
// them in load_scripts.
func ShuttleRegistries(cfg ShuttleConfig) (*entry.Registry, *entry.BootstrapSet, error) {
	entries := cfg.Entries
	if len(entries) == 0 {
		entries = []string{entry.BuiltinEcho, entry.BuiltinSum, entry.BuiltinSleep}
	}
	bootstraps := cfg.Bootstraps
	if len(bootstraps) == 0 {
		bootstraps = []string{entry.BuiltinBootNoop, entry.BuiltinBootFail}
	}

	reg := entry.NewRegistry()
	if err := entry.RegisterBuiltins(reg, entries); err != nil {
		return nil, nil, err
	}
	set := entry.NewBootstrapSet()
	if err := entry.RegisterBuiltinBootstraps(set, bootstraps); err != nil {
		return nil, nil, err
	}
	return reg, set, nil
}
