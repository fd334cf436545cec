package entry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrBootstrapExists = errors.New("entry: bootstrap already registered")
	ErrBootstrapNil    = errors.New("entry: nil bootstrap")
)

// Bootstrap is one named initialization unit a worker can load before it
// accepts task dispatches.
type Bootstrap interface {
	Name() string
	Init(ctx context.Context) error
}

// BootstrapFunc adapts a function into a Bootstrap.
type BootstrapFunc struct {
	BootName string
	InitFn   func(ctx context.Context) error
}

func (b BootstrapFunc) Name() string { return b.BootName }

func (b BootstrapFunc) Init(ctx context.Context) error {
	if b.InitFn == nil {
		return nil
	}
	return b.InitFn(ctx)
}

// BootstrapSet stores bootstraps by stable name.
type BootstrapSet struct {
	items map[string]Bootstrap
}

// NewBootstrapSet creates an empty bootstrap set.
func NewBootstrapSet() *BootstrapSet {
	return &BootstrapSet{items: make(map[string]Bootstrap)}
}

// Register adds one bootstrap to the set.
func (s *BootstrapSet) Register(b Bootstrap) error {
	if b == nil {
		return ErrBootstrapNil
	}
	name := strings.TrimSpace(b.Name())
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := s.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrBootstrapExists, name)
	}
	s.items[name] = b
	return nil
}

// Resolve returns a bootstrap by name.
func (s *BootstrapSet) Resolve(name string) (Bootstrap, bool) {
	b, ok := s.items[name]
	return b, ok
}

// Names returns deterministic name ordering.
func (s *BootstrapSet) Names() []string {
	list := make([]string, 0, len(s.items))
	for name := range s.items {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
