package loom

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var ErrJoinPollsExhausted = errors.New("loom: join polls exhausted")

// Join begins one cooperative poll for pending-task drain. The first check
// runs synchronously: with nothing pending, onDone fires before Join
// returns and no poll is scheduled. Otherwise the check reschedules itself
// on the runtime scheduler at backoff-paced delays until the set drains,
// the configured poll budget runs out, or cancel is called.
//
// onDone fires exactly once, only on drain. onFail, when non-nil, receives
// the budget-exhaustion error; without it the error goes to the thread's
// error handler. A canceled join invokes neither callback. Join never
// blocks the calling goroutine; use JoinContext to wait.
func (t *Thread) Join(onDone func(), onFail func(error)) (cancel func()) {
	p := &joinPoll{t: t, cfg: t.rt.join, onDone: onDone, onFail: onFail}
	if p.cfg.Backoff.Jitter {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p.check()
	return p.cancel
}

// JoinContext blocks until no tasks remain pending, the poll budget runs
// out, or ctx ends.
func (t *Thread) JoinContext(ctx context.Context) error {
	done := make(chan struct{})
	fail := make(chan error, 1)
	cancel := t.Join(
		func() { close(done) },
		func(err error) { fail <- err },
	)
	select {
	case <-done:
		return nil
	case err := <-fail:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// joinPoll is one in-flight join. The mutex orders the scheduler-driven
// checks against cancel; callbacks run with it released.
type joinPoll struct {
	t      *Thread
	cfg    JoinConfig
	onDone func()
	onFail func(error)
	rng    *rand.Rand

	mu         sync.Mutex
	polls      int
	stopped    bool
	cancelTick func()
}

func (p *joinPoll) check() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.t.PendingCount() == 0 {
		p.stopped = true
		p.mu.Unlock()
		if p.onDone != nil {
			p.onDone()
		}
		return
	}
	p.polls++
	if p.cfg.MaxPolls > 0 && p.polls > p.cfg.MaxPolls {
		p.stopped = true
		polls := p.polls - 1
		p.mu.Unlock()
		err := fmt.Errorf("%w: thread_id=%d polls=%d", ErrJoinPollsExhausted, p.t.id, polls)
		if p.onFail != nil {
			p.onFail(err)
			return
		}
		p.t.reportError(err)
		return
	}
	delay := NextPollDelay(p.cfg.Backoff, p.polls, p.rng)
	p.cancelTick = p.t.rt.scheduler.Tick(delay, p.check)
	p.mu.Unlock()
}

func (p *joinPoll) cancel() {
	p.mu.Lock()
	p.stopped = true
	stop := p.cancelTick
	p.cancelTick = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}
