package loom

import (
	"errors"
	"math"
	"sync/atomic"
)

var ErrIdentityExhausted = errors.New("loom: identity counter exhausted")

// MainContextID is the acting-context value outside any inline task run.
const MainContextID uint64 = 0

// DefaultIdentityCeiling leaves the top id unissued so the counter can
// saturate without ever wrapping back to issued values.
const DefaultIdentityCeiling uint64 = math.MaxUint64 - 1

// Identity is the shared id source for threads and tasks. Ids are strictly
// increasing and never reused; at the ceiling the counter saturates and
// Next fails instead of wrapping.
//
// It also tracks the acting-context id: MainContextID normally, the thread
// id while that thread runs an entry inline.
type Identity struct {
	ceiling uint64
	counter atomic.Uint64
	acting  atomic.Uint64
}

func NewIdentity() *Identity {
	return NewIdentityWithCeiling(DefaultIdentityCeiling)
}

// NewIdentityWithCeiling caps the counter at ceiling; zero means the
// default ceiling. Tests use small ceilings to reach saturation.
func NewIdentityWithCeiling(ceiling uint64) *Identity {
	if ceiling == 0 {
		ceiling = DefaultIdentityCeiling
	}
	return &Identity{ceiling: ceiling}
}

// Next issues the next id, or ErrIdentityExhausted once the ceiling is
// reached. A failed call never consumes an id.
func (id *Identity) Next() (uint64, error) {
	for {
		cur := id.counter.Load()
		if cur >= id.ceiling {
			return 0, ErrIdentityExhausted
		}
		if id.counter.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

// Issued reports how many ids have been handed out.
func (id *Identity) Issued() uint64 {
	return id.counter.Load()
}

// Acting reports the current acting-context id.
func (id *Identity) Acting() uint64 {
	return id.acting.Load()
}

func (id *Identity) setActing(ctxID uint64) {
	id.acting.Store(ctxID)
}
