package entry

import (
	"context"
	"errors"
	"testing"

	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func echoEntry(_ context.Context, param []byte) ([]byte, error) {
	return param, nil
}

func TestRegisterAndResolve(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register("worker.echo", echoEntry); err != nil {
		t.Fatalf("register: %v", err)
	}
	fn, ok := r.Resolve("worker.echo")
	if !ok {
		t.Fatalf("resolve miss")
	}
	out, err := fn(context.Background(), []byte("x"))
	if err != nil || string(out) != "x" {
		t.Fatalf("entry call: out=%q err=%v", out, err)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register("worker.echo", echoEntry); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register("worker.echo", echoEntry)
	if !errors.Is(err, ErrEntryExists) {
		t.Fatalf("expected ErrEntryExists, got %v", err)
	}
}

func TestRegisterRejectsNilAndBadNames(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register("worker.echo", nil); !errors.Is(err, ErrEntryNil) {
		t.Fatalf("expected ErrEntryNil, got %v", err)
	}
	for _, name := range []string{"", "Worker.Echo", ".echo", "echo.", "a..b", "a b"} {
		if err := r.Register(name, echoEntry); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestMustResolveMissIsTyped(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	_, err := r.MustResolve("worker.absent")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for _, name := range []string{"worker.zeta", "worker.alpha", "worker.mid"} {
		if err := r.Register(name, echoEntry); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	names := r.Names()
	if len(names) != 3 || names[0] != "worker.alpha" || names[1] != "worker.mid" || names[2] != "worker.zeta" {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestBootstrapSetRegisterResolve(t *testing.T) {
	testlog.Start(t)
	s := NewBootstrapSet()
	ran := false
	b := BootstrapFunc{BootName: "boot.runtime", InitFn: func(context.Context) error {
		ran = true
		return nil
	}}
	if err := s.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := s.Resolve("boot.runtime")
	if !ok {
		t.Fatalf("resolve miss")
	}
	if err := got.Init(context.Background()); err != nil || !ran {
		t.Fatalf("init: ran=%v err=%v", ran, err)
	}
	if err := s.Register(b); !errors.Is(err, ErrBootstrapExists) {
		t.Fatalf("expected ErrBootstrapExists, got %v", err)
	}
}
