package loom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func newPollableWorkerThread(t *testing.T, join JoinConfig) (*Thread, *fakeHandle, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{}
	rt := NewRuntimeWithConfig(RuntimeConfig{Scheduler: sched, Join: join})
	if err := rt.Registry().Register("double", doubler); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := &fakeHandle{session: "sess-join"}
	th, err := New(context.Background(), rt, ThreadConfig{
		BootstrapURIs: []string{"boot.noop"},
		Spawner:       &fakeSpawner{handle: h},
	})
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	return th, h, sched
}

func TestJoinFiresImmediatelyWhenNothingPending(t *testing.T) {
	testlog.Start(t)
	th, _, sched := newPollableWorkerThread(t, JoinConfig{})

	done := false
	th.Join(func() { done = true }, nil)
	if !done {
		t.Fatalf("empty pending set must complete the join synchronously")
	}
	if sched.scheduled() != 0 {
		t.Fatalf("synchronous completion must not schedule a poll, got %d", sched.scheduled())
	}
}

func TestJoinPollsUntilDrained(t *testing.T) {
	testlog.Start(t)
	th, h, sched := newPollableWorkerThread(t, JoinConfig{})

	taskID, err := th.Dispatch(ByName("double"), []byte("5"), nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	done := false
	th.Join(func() { done = true }, nil)
	if done {
		t.Fatalf("join must not complete while a task is pending")
	}
	if sched.scheduled() != 1 {
		t.Fatalf("expected one scheduled poll, got %d", sched.scheduled())
	}
	if sched.lastDelay() != DefaultJoinConfig().Backoff.InitialDelay {
		t.Fatalf("first poll must use the initial delay, got %v", sched.lastDelay())
	}

	if !sched.runNext() {
		t.Fatalf("expected a runnable poll")
	}
	if done {
		t.Fatalf("poll with a pending task must reschedule, not complete")
	}
	if sched.scheduled() != 2 {
		t.Fatalf("expected a second scheduled poll, got %d", sched.scheduled())
	}

	h.deliver(protocol.NewFinish(taskID, []byte("10")))
	if !sched.runNext() {
		t.Fatalf("expected a runnable poll")
	}
	if !done {
		t.Fatalf("join must complete after the pending set drains")
	}
	if sched.scheduled() != 2 {
		t.Fatalf("completed join must not reschedule, got %d", sched.scheduled())
	}
}

func TestJoinBackoffDelaysGrow(t *testing.T) {
	testlog.Start(t)
	th, _, sched := newPollableWorkerThread(t, JoinConfig{
		Backoff: BackoffConfig{InitialDelay: 4 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second},
	})
	if _, err := th.Dispatch(ByName("double"), []byte("1"), nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	th.Join(nil, nil)
	if sched.lastDelay() != 4*time.Millisecond {
		t.Fatalf("attempt 1 delay: %v", sched.lastDelay())
	}
	sched.runNext()
	if sched.lastDelay() != 8*time.Millisecond {
		t.Fatalf("attempt 2 delay: %v", sched.lastDelay())
	}
	sched.runNext()
	if sched.lastDelay() != 16*time.Millisecond {
		t.Fatalf("attempt 3 delay: %v", sched.lastDelay())
	}
}

func TestJoinExhaustsPollBudget(t *testing.T) {
	testlog.Start(t)
	th, _, sched := newPollableWorkerThread(t, JoinConfig{MaxPolls: 2})
	if _, err := th.Dispatch(ByName("double"), []byte("1"), nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	done := false
	var failed error
	th.Join(func() { done = true }, func(err error) { failed = err })

	for i := 0; i < 2; i++ {
		if failed != nil {
			t.Fatalf("budget exhausted early at poll %d: %v", i, failed)
		}
		if !sched.runNext() {
			t.Fatalf("expected a runnable poll at %d", i)
		}
	}
	if done {
		t.Fatalf("exhausted join must not report done")
	}
	if !errors.Is(failed, ErrJoinPollsExhausted) {
		t.Fatalf("expected ErrJoinPollsExhausted, got %v", failed)
	}
	if !strings.Contains(failed.Error(), "polls=2") {
		t.Fatalf("expected the recheck count in the failure, got %v", failed)
	}
	if sched.runNext() {
		t.Fatalf("exhausted join must stop scheduling")
	}
}

func TestJoinBudgetFailureWithoutHandlerGoesToThreadErrors(t *testing.T) {
	testlog.Start(t)
	th, _, sched := newPollableWorkerThread(t, JoinConfig{MaxPolls: 1})
	if _, err := th.Dispatch(ByName("double"), []byte("1"), nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var failures []error
	th.OnError(func(err error) { failures = append(failures, err) })

	th.Join(nil, nil)
	sched.runNext()
	if len(failures) != 1 || !errors.Is(failures[0], ErrJoinPollsExhausted) {
		t.Fatalf("expected ErrJoinPollsExhausted on the thread error path, got %v", failures)
	}
}

func TestJoinCancelInvokesNeitherCallback(t *testing.T) {
	testlog.Start(t)
	th, h, sched := newPollableWorkerThread(t, JoinConfig{})
	taskID, err := th.Dispatch(ByName("double"), []byte("1"), nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	done := false
	var failed error
	cancel := th.Join(func() { done = true }, func(err error) { failed = err })
	cancel()

	h.deliver(protocol.NewFinish(taskID, []byte("2")))
	sched.runNext()
	if done || failed != nil {
		t.Fatalf("canceled join must stay silent: done=%v failed=%v", done, failed)
	}
	cancel()
}

func TestJoinContextCompletesOnDrain(t *testing.T) {
	testlog.Start(t)
	rt := NewRuntime()
	if err := rt.Registry().Register("double", doubler); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := &fakeHandle{session: "sess-ctx"}
	th, err := New(context.Background(), rt, ThreadConfig{
		BootstrapURIs: []string{"boot.noop"},
		Spawner:       &fakeSpawner{handle: h},
	})
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	taskID, err := th.Dispatch(ByName("double"), []byte("5"), nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.deliver(protocol.NewFinish(taskID, []byte("10")))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := th.JoinContext(ctx); err != nil {
		t.Fatalf("join context: %v", err)
	}
	if th.PendingCount() != 0 {
		t.Fatalf("expected drained pending set, got %d", th.PendingCount())
	}
}

func TestJoinContextHonorsDeadline(t *testing.T) {
	testlog.Start(t)
	th, _, _ := newPollableWorkerThread(t, JoinConfig{})
	if _, err := th.Dispatch(ByName("double"), []byte("1"), nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := th.JoinContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
