package substrate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/protocol"
)

// EnvelopeHandler is the worker-side state machine a loopback worker runs.
// Handle consumes one inbound envelope and returns the reports to send back.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env protocol.Envelope) []protocol.Envelope
}

// LoopbackSpawner runs workers as goroutines in this process. Frames still
// round-trip through the wire codec so handle sides never share memory.
type LoopbackSpawner struct {
	handler EnvelopeHandler
}

func NewLoopbackSpawner(h EnvelopeHandler) (*LoopbackSpawner, error) {
	if h == nil {
		return nil, ErrHandlerRequired
	}
	return &LoopbackSpawner{handler: h}, nil
}

func (s *LoopbackSpawner) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workerCtx, cancel := context.WithCancel(MarkWorkerContext(context.Background()))
	h := &loopHandle{
		session: sessionID,
		cancel:  cancel,
		in:      make(chan []byte, 64),
		out:     make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go h.workerLoop(workerCtx, s.handler)
	go h.deliverLoop()
	logs.Debugf("substrate.LoopbackSpawner.Spawn session=%q", sessionID)
	return h, nil
}

type loopHandle struct {
	session string
	cancel  context.CancelFunc
	in      chan []byte
	out     chan []byte
	done    chan struct{}

	sendSeq    atomic.Uint64
	replySeq   atomic.Uint64
	terminated atomic.Bool
	termOnce   sync.Once

	cbMu     sync.Mutex
	receiver func(protocol.Envelope)
	onError  func(error)
}

func (h *loopHandle) SessionID() string { return h.session }

func (h *loopHandle) Send(env protocol.Envelope) error {
	if h.terminated.Load() {
		return ErrTerminated
	}
	b, err := protocol.MarshalEnvelope(h.sendSeq.Add(1), env)
	if err != nil {
		return err
	}
	select {
	case h.in <- b:
		return nil
	case <-h.done:
		return ErrTerminated
	}
}

func (h *loopHandle) SetReceiver(fn func(protocol.Envelope)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.receiver = fn
}

func (h *loopHandle) SetErrorHandler(fn func(error)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onError = fn
}

func (h *loopHandle) Terminate() {
	h.termOnce.Do(func() {
		h.terminated.Store(true)
		h.cancel()
		close(h.done)
		logs.Debugf("substrate.loopHandle.Terminate session=%q", h.session)
	})
}

func (h *loopHandle) workerLoop(ctx context.Context, handler EnvelopeHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-h.in:
			env, seq, err := protocol.UnmarshalEnvelope(b)
			if err != nil {
				h.deliverError(err)
				continue
			}
			logs.Tracef("substrate.loopHandle.workerLoop recv session=%q seq=%d kind=%s", h.session, seq, env.Kind)
			for _, report := range handler.Handle(ctx, env) {
				rb, err := protocol.MarshalEnvelope(h.replySeq.Add(1), report)
				if err != nil {
					logs.Errf("substrate.loopHandle.workerLoop encode session=%q kind=%s err=%v", h.session, report.Kind, err)
					continue
				}
				select {
				case h.out <- rb:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (h *loopHandle) deliverLoop() {
	for {
		select {
		case <-h.done:
			return
		case b := <-h.out:
			env, _, err := protocol.UnmarshalEnvelope(b)
			if err != nil {
				h.deliverError(err)
				continue
			}
			h.deliver(env)
		}
	}
}

func (h *loopHandle) deliver(env protocol.Envelope) {
	h.cbMu.Lock()
	fn := h.receiver
	h.cbMu.Unlock()
	if fn == nil {
		logs.Warnf("substrate.loopHandle.deliver dropped session=%q kind=%s: no receiver", h.session, env.Kind)
		return
	}
	fn(env)
}

func (h *loopHandle) deliverError(err error) {
	h.cbMu.Lock()
	fn := h.onError
	h.cbMu.Unlock()
	if fn == nil {
		logs.Warnf("substrate.loopHandle error session=%q err=%v", h.session, err)
		return
	}
	fn(err)
}
