package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logs "github.com/treadle/loomctl/internal/logging"
)

// Builtin entry and bootstrap ids. The host registers entries so dispatch
// can resolve them; the shuttle binary registers the same set so the
// worker can execute them.
const (
	BuiltinEcho  = "std.echo"
	BuiltinSum   = "std.sum"
	BuiltinSleep = "std.sleep"

	BuiltinBootNoop = "boot.noop"
	BuiltinBootFail = "boot.fail"
)

var (
	ErrUnknownBuiltinEntry     = errors.New("entry: unknown builtin entry")
	ErrUnknownBuiltinBootstrap = errors.New("entry: unknown builtin bootstrap")
	ErrBootFailRequested       = errors.New("entry: boot.fail always fails")
)

// RegisterBuiltins installs the named builtin entries into reg. Blank and
// duplicate ids are skipped; an unknown id is an error.
func RegisterBuiltins(reg *Registry, ids []string) error {
	seen := make(map[string]struct{})
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || id == "none" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		switch id {
		case BuiltinEcho:
			if err := reg.Register(BuiltinEcho, EchoEntry); err != nil {
				return err
			}
		case BuiltinSum:
			if err := reg.Register(BuiltinSum, SumEntry); err != nil {
				return err
			}
		case BuiltinSleep:
			if err := reg.Register(BuiltinSleep, SleepEntry); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownBuiltinEntry, id)
		}
	}
	return nil
}

// RegisterBuiltinBootstraps installs the named builtin bootstraps into set.
func RegisterBuiltinBootstraps(set *BootstrapSet, ids []string) error {
	seen := make(map[string]struct{})
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || id == "none" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		switch id {
		case BuiltinBootNoop:
			if err := set.Register(BootstrapFunc{BootName: BuiltinBootNoop, InitFn: noopBoot}); err != nil {
				return err
			}
		case BuiltinBootFail:
			if err := set.Register(BootstrapFunc{BootName: BuiltinBootFail, InitFn: failBoot}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownBuiltinBootstrap, id)
		}
	}
	return nil
}

// EchoEntry returns its param unchanged.
func EchoEntry(_ context.Context, param []byte) ([]byte, error) {
	return param, nil
}

// SumEntry sums a JSON array of numbers: [1,2,3] -> {"sum":6}.
func SumEntry(_ context.Context, param []byte) ([]byte, error) {
	var values []float64
	if err := json.Unmarshal(param, &values); err != nil {
		return nil, fmt.Errorf("entry: %s param: %w", BuiltinSum, err)
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return json.Marshal(map[string]float64{"sum": total})
}

// SleepEntry sleeps for {"ms":N} honoring ctx, then reports the elapsed
// time. It exists to exercise pending-task tracking and join polling.
func SleepEntry(ctx context.Context, param []byte) ([]byte, error) {
	var req struct {
		MS int64 `json:"ms"`
	}
	if err := json.Unmarshal(param, &req); err != nil {
		return nil, fmt.Errorf("entry: %s param: %w", BuiltinSleep, err)
	}
	if req.MS < 0 {
		req.MS = 0
	}
	start := time.Now()
	timer := time.NewTimer(time.Duration(req.MS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return json.Marshal(map[string]int64{"slept_ms": time.Since(start).Milliseconds()})
}

func noopBoot(context.Context) error {
	logs.Debugf("entry.boot.noop ok")
	return nil
}

func failBoot(context.Context) error {
	return ErrBootFailRequested
}
