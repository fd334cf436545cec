package loom

import (
	"testing"
	"time"

	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func TestPendingSetPutTake(t *testing.T) {
	testlog.Start(t)
	p := NewPendingSet()
	if !p.Put(PendingTask{TaskID: 3, Param: []byte("x"), DispatchedAt: time.Now()}) {
		t.Fatalf("put rejected")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", p.Len())
	}
	task, ok := p.Take(3)
	if !ok || string(task.Param) != "x" {
		t.Fatalf("take mismatch: ok=%v param=%q", ok, task.Param)
	}
	if _, ok := p.Take(3); ok {
		t.Fatalf("second take must miss")
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty set, got %d", p.Len())
	}
}

func TestPendingSetRejectsZeroAndDuplicateIDs(t *testing.T) {
	testlog.Start(t)
	p := NewPendingSet()
	if p.Put(PendingTask{TaskID: 0}) {
		t.Fatalf("zero id must be rejected")
	}
	if !p.Put(PendingTask{TaskID: 9}) {
		t.Fatalf("first put rejected")
	}
	if p.Put(PendingTask{TaskID: 9}) {
		t.Fatalf("duplicate id must be rejected")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", p.Len())
	}
}

func TestPendingSetClearReportsDropped(t *testing.T) {
	testlog.Start(t)
	p := NewPendingSet()
	p.Put(PendingTask{TaskID: 1})
	p.Put(PendingTask{TaskID: 2})
	if got := p.Clear(); got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty set after clear, got %d", p.Len())
	}
	if got := p.Clear(); got != 0 {
		t.Fatalf("expected 0 dropped on empty clear, got %d", got)
	}
}

func TestPendingSetListOrderedByTaskID(t *testing.T) {
	testlog.Start(t)
	p := NewPendingSet()
	for _, id := range []uint64{5, 2, 9} {
		p.Put(PendingTask{TaskID: id})
	}
	list := p.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(list))
	}
	for i, want := range []uint64{2, 5, 9} {
		if list[i].TaskID != want {
			t.Fatalf("list[%d]: expected %d, got %d", i, want, list[i].TaskID)
		}
	}
}
