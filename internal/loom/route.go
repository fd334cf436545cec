package loom

import (
	"fmt"
	"time"

	"github.com/treadle/loomctl/internal/observability"
	"github.com/treadle/loomctl/internal/protocol"
)

const (
	outcomeFinish    = "finish"
	outcomeException = "exception"
)

// Route consumes one inbound envelope and mutates the thread accordingly.
// It is the only inbound mutation path; the worker receive loop feeds it
// and hands failures to the thread's error handler.
//
// A finish envelope resolves its pending task through the task's callback,
// or the unclaimed-result slot when none was given. An exception envelope
// removes the pending task but never invokes its callback; the failure is
// returned to the routing caller instead. Callers waiting on a callback
// must also watch the error path.
func (t *Thread) Route(env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	switch env.Kind {
	case protocol.KindFinish:
		return t.routeFinish(env.Finish)
	case protocol.KindException:
		return t.routeException(env.Exception)
	case protocol.KindScriptLoadException:
		return t.routeScriptLoadFailure(env.ScriptLoadFailure)
	case protocol.KindMessage:
		return t.routeMessage(env.Message)
	default:
		return fmt.Errorf("%w: %s not routable on the host side", protocol.ErrUnknownKind, env.Kind)
	}
}

func (t *Thread) routeFinish(env *protocol.FinishEnv) error {
	task, ok := t.pending.Take(env.TaskID)
	if !ok {
		return fmt.Errorf("%w: finish task_id=%d", ErrUnknownTask, env.TaskID)
	}
	observability.AddPendingTasks(-1)
	observability.RecordCompletion(outcomeFinish, time.Since(task.DispatchedAt))

	if task.OnResult != nil {
		task.OnResult(t, task.Param, env.Result)
		return nil
	}
	t.mu.Lock()
	t.lastRes = env.Result
	t.hasResult = true
	t.mu.Unlock()
	return nil
}

func (t *Thread) routeException(env *protocol.ExceptionEnv) error {
	task, ok := t.pending.Take(env.TaskID)
	if !ok {
		return fmt.Errorf("%w: exception task_id=%d", ErrUnknownTask, env.TaskID)
	}
	observability.AddPendingTasks(-1)
	observability.RecordCompletion(outcomeException, time.Since(task.DispatchedAt))
	return fmt.Errorf("%w: thread_id=%d task_id=%d", ErrTaskFailed, t.id, env.TaskID)
}

func (t *Thread) routeScriptLoadFailure(env *protocol.ScriptLoadFailureEnv) error {
	t.Dispose()
	return fmt.Errorf("%w: thread_id=%d uri=%q", ErrBootstrapLoad, t.id, env.URI)
}

func (t *Thread) routeMessage(env *protocol.MessageEnv) error {
	t.mu.Lock()
	listeners := make([]func([]byte), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(env.Payload)
	}
	return nil
}
