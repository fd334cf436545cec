package loom

import (
	"errors"
	"testing"

	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func TestIdentityNextStrictlyIncreasing(t *testing.T) {
	testlog.Start(t)
	id := NewIdentity()
	for want := uint64(1); want <= 5; want++ {
		got, err := id.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	if id.Issued() != 5 {
		t.Fatalf("expected 5 issued, got %d", id.Issued())
	}
}

func TestIdentityCeilingSaturates(t *testing.T) {
	testlog.Start(t)
	id := NewIdentityWithCeiling(2)
	if _, err := id.Next(); err != nil {
		t.Fatalf("next 1: %v", err)
	}
	if _, err := id.Next(); err != nil {
		t.Fatalf("next 2: %v", err)
	}
	if _, err := id.Next(); !errors.Is(err, ErrIdentityExhausted) {
		t.Fatalf("expected ErrIdentityExhausted, got %v", err)
	}
	if id.Issued() != 2 {
		t.Fatalf("failed next must not issue, got %d", id.Issued())
	}
	if _, err := id.Next(); !errors.Is(err, ErrIdentityExhausted) {
		t.Fatalf("counter must stay saturated, got %v", err)
	}
}

func TestIdentityZeroCeilingMeansDefault(t *testing.T) {
	testlog.Start(t)
	id := NewIdentityWithCeiling(0)
	if id.ceiling != DefaultIdentityCeiling {
		t.Fatalf("expected default ceiling, got %d", id.ceiling)
	}
}

func TestIdentityActingStartsAtMain(t *testing.T) {
	testlog.Start(t)
	id := NewIdentity()
	if id.Acting() != MainContextID {
		t.Fatalf("expected main acting context, got %d", id.Acting())
	}
	id.setActing(7)
	if id.Acting() != 7 {
		t.Fatalf("expected acting 7, got %d", id.Acting())
	}
	id.setActing(MainContextID)
	if id.Acting() != MainContextID {
		t.Fatalf("expected main acting context restored, got %d", id.Acting())
	}
}
