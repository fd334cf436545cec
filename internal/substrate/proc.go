package substrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/protocol/frame"
)

// ProcConfig describes how to launch one shuttle subprocess.
type ProcConfig struct {
	Bin              string
	Args             []string
	HandshakeTimeout time.Duration
	TerminateGrace   time.Duration
	Limits           frame.Limits
}

func DefaultProcConfig() ProcConfig {
	return ProcConfig{
		HandshakeTimeout: 5 * time.Second,
		TerminateGrace:   2 * time.Second,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultProcConfig.
func (c ProcConfig) WithDefaults() ProcConfig {
	def := DefaultProcConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = def.TerminateGrace
	}
	if c.Limits.MaxAuthBytes == 0 && c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}

// ProcSpawner launches shuttle subprocesses and speaks frames over their
// stdio pipes. Worker stderr passes through for logs.
type ProcSpawner struct {
	cfg ProcConfig
}

func NewProcSpawner(cfg ProcConfig) (*ProcSpawner, error) {
	if strings.TrimSpace(cfg.Bin) == "" {
		return nil, ErrWorkerBinaryRequired
	}
	cfg = cfg.WithDefaults()
	return &ProcSpawner{cfg: cfg}, nil
}

func (s *ProcSpawner) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cmd := exec.Command(s.cfg.Bin, s.cfg.Args...)
	cmd.Env = append(os.Environ(),
		EnvShuttleMarker+"=1",
		EnvSessionID+"="+sessionID,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logs.Debugf("substrate.ProcSpawner.Spawn started bin=%q pid=%d session=%q", s.cfg.Bin, cmd.Process.Pid, sessionID)

	h := &procHandle{
		session: sessionID,
		cmd:     cmd,
		stdin:   stdin,
		reader:  bufio.NewReader(stdout),
		limits:  s.cfg.Limits,
		grace:   s.cfg.TerminateGrace,
		inbox:   make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}

	if err := s.handshake(h, stdout, req); err != nil {
		h.Terminate()
		return nil, fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
	}

	h.readerStarted.Store(true)
	go h.readLoop()
	go h.dispatchLoop()
	return h, nil
}

// handshake consumes the worker hello line and answers with an ack before
// any frames flow.
func (s *ProcSpawner) handshake(h *procHandle, stdout io.Reader, req SpawnRequest) error {
	if f, ok := stdout.(*os.File); ok {
		_ = f.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer func() { _ = f.SetReadDeadline(time.Time{}) }()
	}

	hello, err := protocol.ReadHello(h.reader)
	if err != nil {
		return err
	}
	if hello.SessionID != h.session {
		s.reject(h, "session mismatch")
		return fmt.Errorf("session mismatch: got %q want %q", hello.SessionID, h.session)
	}
	if hello.ProtoVersion != frame.Version {
		s.reject(h, "proto version mismatch")
		return fmt.Errorf("proto version mismatch: got %d want %d", hello.ProtoVersion, frame.Version)
	}
	for _, uri := range req.BootstrapURIs {
		if !containsString(hello.Bootstraps, uri) {
			logs.Debugf("substrate.ProcSpawner.handshake unadvertised bootstrap session=%q uri=%q", h.session, uri)
		}
	}

	ack := protocol.HelloAck{
		Status:      protocol.AckStatusAccepted,
		SessionID:   h.session,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if err := protocol.WriteHelloAck(h.stdin, ack); err != nil {
		return err
	}
	logs.Infof("substrate.ProcSpawner.handshake ok worker_id=%q session=%q bootstraps=%d", hello.WorkerID, h.session, len(hello.Bootstraps))
	return nil
}

func (s *ProcSpawner) reject(h *procHandle, reason string) {
	ack := protocol.HelloAck{
		Status:      protocol.AckStatusRejected,
		Code:        1,
		Message:     reason,
		SessionID:   h.session,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	_ = protocol.WriteHelloAck(h.stdin, ack)
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

type procHandle struct {
	session string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	limits  frame.Limits
	grace   time.Duration

	sendMu        sync.Mutex
	sendSeq       atomic.Uint64
	terminated    atomic.Bool
	termOnce      sync.Once
	readerStarted atomic.Bool
	inbox         chan protocol.Envelope
	done          chan struct{}

	cbMu     sync.Mutex
	receiver func(protocol.Envelope)
	onError  func(error)
	readFail error
}

func (h *procHandle) SessionID() string { return h.session }

func (h *procHandle) Send(env protocol.Envelope) error {
	if h.terminated.Load() {
		return ErrTerminated
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.terminated.Load() {
		return ErrTerminated
	}
	seq := h.sendSeq.Add(1)
	logs.Tracef("substrate.procHandle.Send session=%q seq=%d kind=%s", h.session, seq, env.Kind)
	return protocol.WriteEnvelope(h.stdin, seq, env)
}

func (h *procHandle) SetReceiver(fn func(protocol.Envelope)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.receiver = fn
}

func (h *procHandle) SetErrorHandler(fn func(error)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onError = fn
}

func (h *procHandle) Terminate() {
	h.termOnce.Do(func() {
		h.terminated.Store(true)
		_ = h.stdin.Close()
		if h.readerStarted.Load() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
			}
		}
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		go func() { _ = h.cmd.Wait() }()
		logs.Debugf("substrate.procHandle.Terminate session=%q", h.session)
	})
}

// readLoop decodes frames off the worker pipe and queues them for the
// dispatch goroutine. Keeping decode and delivery apart means a receiver
// callback that terminates the handle never holds up pipe draining.
func (h *procHandle) readLoop() {
	defer func() {
		close(h.done)
		close(h.inbox)
	}()
	for {
		env, seq, err := protocol.ReadEnvelope(h.reader, h.limits)
		if err != nil {
			if h.terminated.Load() {
				logs.Debugf("substrate.procHandle.readLoop closed session=%q", h.session)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, frame.ErrShortHeader) {
				logs.Debugf("substrate.procHandle.readLoop worker left session=%q err=%v", h.session, err)
				h.setReadFailure(fmt.Errorf("%w: worker closed channel", ErrTerminated))
				return
			}
			logs.Warnf("substrate.procHandle.readLoop decode session=%q err=%v", h.session, err)
			h.setReadFailure(err)
			return
		}
		logs.Tracef("substrate.procHandle.readLoop recv session=%q seq=%d kind=%s", h.session, seq, env.Kind)
		h.inbox <- env
	}
}

// dispatchLoop drains queued envelopes into the receiver and, once the
// reader stops, surfaces any terminal read failure.
func (h *procHandle) dispatchLoop() {
	for env := range h.inbox {
		h.deliver(env)
	}
	h.cbMu.Lock()
	err := h.readFail
	h.cbMu.Unlock()
	if err != nil {
		h.deliverError(err)
	}
}

func (h *procHandle) setReadFailure(err error) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.readFail = err
}

func (h *procHandle) deliver(env protocol.Envelope) {
	h.cbMu.Lock()
	fn := h.receiver
	h.cbMu.Unlock()
	if fn == nil {
		logs.Warnf("substrate.procHandle.deliver dropped session=%q kind=%s: no receiver", h.session, env.Kind)
		return
	}
	fn(env)
}

func (h *procHandle) deliverError(err error) {
	h.cbMu.Lock()
	fn := h.onError
	h.cbMu.Unlock()
	if fn == nil {
		return
	}
	fn(err)
}
