package entry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrEntryExists   = errors.New("entry: already registered")
	ErrEntryNil      = errors.New("entry: nil func")
	ErrInvalidName   = errors.New("entry: invalid name")
	ErrNotRegistered = errors.New("entry: not registered")
)

// Func is one dispatchable entry point. Param and result bytes are opaque
// to the runtime; JSON by convention.
type Func func(ctx context.Context, param []byte) ([]byte, error)

// Registry stores entry points by stable name. Registration happens during
// program init; Resolve is read-only after that, so no lock is held.
type Registry struct {
	items map[string]Func
}

// NewRegistry creates an empty entry registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Func)}
}

// ValidateName checks entry name format: lowercase dotted identifiers,
// no leading/trailing/doubled separators.
func ValidateName(name string) error {
	if !isValidName(strings.TrimSpace(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Register adds one entry point under name.
func (r *Registry) Register(name string, fn Func) error {
	if fn == nil {
		return ErrEntryNil
	}
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrEntryExists, name)
	}
	r.items[name] = fn
	return nil
}

// Resolve returns an entry point by name.
func (r *Registry) Resolve(name string) (Func, bool) {
	fn, ok := r.items[name]
	return fn, ok
}

// MustResolve returns an entry point or a typed lookup miss.
func (r *Registry) MustResolve(name string) (Func, error) {
	fn, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return fn, nil
}

// Names returns deterministic name ordering.
func (r *Registry) Names() []string {
	list := make([]string, 0, len(r.items))
	for name := range r.items {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(name)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
