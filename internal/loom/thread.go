package loom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/treadle/loomctl/internal/entry"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/observability"
	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/substrate"
)

var (
	ErrRuntimeRequired   = errors.New("loom: runtime required")
	ErrThreadDead        = errors.New("loom: thread is dead")
	ErrResultWouldBeLost = errors.New("loom: unresolved task result would be lost")
	ErrUnnamedEntry      = errors.New("loom: worker dispatch requires a registered entry name")
	ErrTaskFailed        = errors.New("loom: task failed")
	ErrUnknownTask       = errors.New("loom: unknown task id")
	ErrBootstrapLoad     = errors.New("loom: bootstrap script load failed")
	ErrNoWorker          = errors.New("loom: no worker attached")
)

// Mode reports which execution path a thread drives.
type Mode string

const (
	ModeWorker Mode = "worker"
	ModeInline Mode = "inline"
)

// Callback receives one completed task result. It runs with no thread
// locks held: synchronously inside Dispatch for inline threads, on the
// receive path for worker threads.
type Callback func(t *Thread, param, result []byte)

// EntryRef names what a dispatch should run: a registered entry name,
// dispatchable in both modes, or a direct func, runnable only inline.
type EntryRef struct {
	name string
	fn   entry.Func
}

func ByName(name string) EntryRef { return EntryRef{name: strings.TrimSpace(name)} }

func ByFunc(fn entry.Func) EntryRef { return EntryRef{fn: fn} }

func (r EntryRef) Name() string { return r.name }

// ThreadConfig describes one worker-backed thread. A nil Spawner or an
// empty bootstrap list yields an inline thread.
type ThreadConfig struct {
	BootstrapURIs []string
	Spawner       substrate.Spawner
	SpawnTimeout  time.Duration
}

// Thread drives one worker through a substrate handle, or runs entries
// inline in the caller's goroutine when no worker could be attached.
type Thread struct {
	id uint64
	rt *Runtime

	mu        sync.Mutex
	dead      bool
	worker    substrate.Handle
	hasResult bool
	lastRes   []byte
	listeners []func(payload []byte)
	onError   func(error)

	pending *PendingSet
}

// New constructs a live thread. With a spawner and at least one bootstrap
// URI it attempts a worker; any spawn failure degrades to inline mode
// without surfacing an error.
func New(ctx context.Context, rt *Runtime, cfg ThreadConfig) (*Thread, error) {
	t, err := newThread(rt)
	if err != nil {
		return nil, err
	}
	if cfg.Spawner == nil || len(cfg.BootstrapURIs) == 0 {
		logs.Debugf("loom.Thread created thread_id=%d mode=inline", t.id)
		return t, nil
	}
	t.adoptWorker(ctx, cfg)
	return t, nil
}

// NewInert yields an already-dead placeholder thread. It holds an identity
// but never accepts dispatches; it stands in for the current execution
// context where no real worker applies.
func NewInert(rt *Runtime) (*Thread, error) {
	t, err := newThread(rt)
	if err != nil {
		return nil, err
	}
	t.dead = true
	return t, nil
}

func newThread(rt *Runtime) (*Thread, error) {
	if rt == nil {
		return nil, ErrRuntimeRequired
	}
	id, err := rt.identity.Next()
	if err != nil {
		return nil, err
	}
	return &Thread{id: id, rt: rt, pending: NewPendingSet()}, nil
}

func (t *Thread) adoptWorker(ctx context.Context, cfg ThreadConfig) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.SpawnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SpawnTimeout)
		defer cancel()
	}
	h, err := cfg.Spawner.Spawn(ctx, substrate.SpawnRequest{BootstrapURIs: cfg.BootstrapURIs})
	if err != nil {
		logs.Debugf("loom.Thread spawn failed thread_id=%d mode=inline err=%v", t.id, err)
		return
	}

	t.mu.Lock()
	t.worker = h
	t.mu.Unlock()

	h.SetReceiver(func(env protocol.Envelope) {
		if err := t.Route(env); err != nil {
			t.reportError(err)
		}
	})
	h.SetErrorHandler(func(err error) {
		t.reportError(fmt.Errorf("loom: worker channel failed thread_id=%d: %w", t.id, err))
	})

	if err := h.Send(protocol.NewLoadScripts(cfg.BootstrapURIs...)); err != nil {
		logs.Debugf("loom.Thread bootstrap send failed thread_id=%d mode=inline err=%v", t.id, err)
		t.mu.Lock()
		t.worker = nil
		t.mu.Unlock()
		h.Terminate()
		return
	}
	logs.Infof("loom.Thread spawned thread_id=%d session_id=%s scripts=%d", t.id, h.SessionID(), len(cfg.BootstrapURIs))
}

// Dispatch hands one entry invocation to the thread and returns the task id
// it was assigned. Worker mode posts a start envelope and tracks the task
// until its finish or exception arrives; inline mode runs the entry
// synchronously before returning. Precondition failures consume no id.
func (t *Thread) Dispatch(ref EntryRef, param []byte, onResult Callback) (uint64, error) {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: thread_id=%d", ErrThreadDead, t.id)
	}
	if onResult == nil && t.pending.Len() > 0 {
		pending := t.pending.Len()
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: thread_id=%d pending=%d", ErrResultWouldBeLost, t.id, pending)
	}
	worker := t.worker

	var fn entry.Func
	switch {
	case ref.name != "":
		resolved, err := t.rt.registry.MustResolve(ref.name)
		if err != nil {
			t.mu.Unlock()
			return 0, err
		}
		fn = resolved
	case worker != nil:
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: thread_id=%d", ErrUnnamedEntry, t.id)
	case ref.fn == nil:
		t.mu.Unlock()
		return 0, entry.ErrEntryNil
	default:
		fn = ref.fn
	}

	taskID, err := t.rt.identity.Next()
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}

	if worker != nil {
		t.pending.Put(PendingTask{TaskID: taskID, Param: param, OnResult: onResult, DispatchedAt: time.Now()})
		t.mu.Unlock()
		observability.AddPendingTasks(1)
		if err := worker.Send(protocol.NewStart(taskID, ref.name, param)); err != nil {
			if _, taken := t.pending.Take(taskID); taken {
				observability.AddPendingTasks(-1)
			}
			return 0, fmt.Errorf("loom: start send failed thread_id=%d task_id=%d: %w", t.id, taskID, err)
		}
		observability.RecordDispatch(string(ModeWorker))
		logs.Debugf("loom.Thread dispatched thread_id=%d task_id=%d entry=%q mode=worker", t.id, taskID, ref.name)
		return taskID, nil
	}

	t.mu.Unlock()
	observability.RecordDispatch(string(ModeInline))
	logs.Debugf("loom.Thread dispatched thread_id=%d task_id=%d entry=%q mode=inline", t.id, taskID, ref.name)
	if err := t.runInline(taskID, fn, param, onResult); err != nil {
		return 0, err
	}
	return taskID, nil
}

// runInline executes one entry in the caller's goroutine. The acting
// context id is set to this thread for the duration and restored to main
// afterward, success or failure.
func (t *Thread) runInline(taskID uint64, fn entry.Func, param []byte, onResult Callback) error {
	start := time.Now()
	t.rt.identity.setActing(t.id)
	defer t.rt.identity.setActing(MainContextID)

	result, err := runEntry(fn, param)
	if err != nil {
		observability.RecordCompletion(outcomeException, time.Since(start))
		return fmt.Errorf("%w: thread_id=%d task_id=%d: %v", ErrTaskFailed, t.id, taskID, err)
	}
	observability.RecordCompletion(outcomeFinish, time.Since(start))
	if onResult != nil {
		onResult(t, param, result)
		return nil
	}
	t.mu.Lock()
	t.lastRes = result
	t.hasResult = true
	t.mu.Unlock()
	return nil
}

func runEntry(fn entry.Func, param []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entry panicked: %v", r)
		}
	}()
	return fn(context.Background(), param)
}

// Dispose transitions the thread to dead: pending tasks are dropped without
// their callbacks, the worker is terminated, further dispatches are
// rejected. Safe to call repeatedly.
func (t *Thread) Dispose() {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return
	}
	t.dead = true
	w := t.worker
	t.worker = nil
	t.mu.Unlock()

	dropped := t.pending.Clear()
	if dropped > 0 {
		observability.AddPendingTasks(-float64(dropped))
	}
	if w != nil {
		w.Terminate()
	}
	logs.Debugf("loom.Thread disposed thread_id=%d dropped=%d", t.id, dropped)
}

// Abort is an alias for Dispose.
func (t *Thread) Abort() { t.Dispose() }

// PostMessage wraps payload in a message envelope and sends it to the
// owned worker. The worker-side mirror of this channel lives in the
// shuttle runtime.
func (t *Thread) PostMessage(payload []byte) error {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return fmt.Errorf("%w: thread_id=%d", ErrThreadDead, t.id)
	}
	w := t.worker
	t.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: thread_id=%d", ErrNoWorker, t.id)
	}
	return w.Send(protocol.NewMessage(payload))
}

// OnMessage registers a listener for message envelopes arriving from the
// worker. Listeners run on the receive path in registration order.
func (t *Thread) OnMessage(fn func(payload []byte)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// OnError installs the handler for failures surfaced off the dispatch
// path: route errors from the receive loop, worker channel errors, and
// join poll exhaustion. Without a handler these are logged.
func (t *Thread) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

func (t *Thread) reportError(err error) {
	t.mu.Lock()
	fn := t.onError
	t.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	logs.Warnf("loom.Thread unhandled failure thread_id=%d err=%v", t.id, err)
}

func (t *Thread) ID() uint64 { return t.id }

func (t *Thread) IsDead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dead
}

func (t *Thread) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.worker != nil {
		return ModeWorker
	}
	return ModeInline
}

func (t *Thread) PendingCount() int { return t.pending.Len() }

// LastResult reports the most recent result that completed without a
// callback. It does not consume the slot.
func (t *Thread) LastResult() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRes, t.hasResult
}

// Status is one admin-surface snapshot of a thread.
type Status struct {
	ID      uint64 `json:"thread_id"`
	Mode    Mode   `json:"mode"`
	Pending int    `json:"pending"`
	Dead    bool   `json:"dead"`
}

func (t *Thread) Status() Status {
	return Status{
		ID:      t.ID(),
		Mode:    t.Mode(),
		Pending: t.PendingCount(),
		Dead:    t.IsDead(),
	}
}
