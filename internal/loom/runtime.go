package loom

import (
	"github.com/treadle/loomctl/internal/entry"
)

// RuntimeConfig assembles the collaborators shared by every thread.
type RuntimeConfig struct {
	// IdentityCeiling caps the shared identity counter. Zero means the
	// full range.
	IdentityCeiling uint64
	Registry        *entry.Registry
	Scheduler       Scheduler
	Join            JoinConfig
}

// Runtime owns state shared across threads: one identity counter, one
// entry registry, and one scheduler pacing join polls. Worker and inline
// threads draw from the same runtime so task ids stay unique across modes.
type Runtime struct {
	identity  *Identity
	registry  *entry.Registry
	scheduler Scheduler
	join      JoinConfig
}

func NewRuntime() *Runtime {
	return NewRuntimeWithConfig(RuntimeConfig{})
}

func NewRuntimeWithConfig(cfg RuntimeConfig) *Runtime {
	reg := cfg.Registry
	if reg == nil {
		reg = entry.NewRegistry()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = TickScheduler{}
	}
	return &Runtime{
		identity:  NewIdentityWithCeiling(cfg.IdentityCeiling),
		registry:  reg,
		scheduler: sched,
		join:      cfg.Join.WithDefaults(),
	}
}

func (r *Runtime) Registry() *entry.Registry { return r.registry }

func (r *Runtime) Identity() *Identity { return r.identity }

func (r *Runtime) JoinConfig() JoinConfig { return r.join }
