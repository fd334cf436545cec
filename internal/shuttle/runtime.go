package shuttle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/treadle/loomctl/internal/entry"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/protocol/frame"
	"github.com/treadle/loomctl/internal/substrate"
)

var (
	ErrEntriesRequired = errors.New("shuttle: entry registry required")
	ErrHelloRejected   = errors.New("shuttle: hello rejected")
)

// Config describes one worker runtime.
type Config struct {
	WorkerID   string
	SessionID  string
	Entries    *entry.Registry
	Bootstraps *entry.BootstrapSet
	Limits     frame.Limits
	// OnMessage receives host-posted message payloads. Optional.
	OnMessage func(ctx context.Context, payload []byte)
}

// Runtime executes envelopes on the worker side of a handle. It processes
// one envelope at a time, so task execution is strictly sequential.
type Runtime struct {
	cfg    Config
	loaded map[string]bool
}

func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Entries == nil {
		return nil, ErrEntriesRequired
	}
	if cfg.Bootstraps == nil {
		cfg.Bootstraps = entry.NewBootstrapSet()
	}
	if strings.TrimSpace(cfg.WorkerID) == "" {
		cfg.WorkerID = fmt.Sprintf("shuttle-%d", os.Getpid())
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = os.Getenv(substrate.EnvSessionID)
	}
	if cfg.Limits.MaxAuthBytes == 0 && cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Runtime{
		cfg:    cfg,
		loaded: make(map[string]bool),
	}, nil
}

func (r *Runtime) WorkerID() string { return r.cfg.WorkerID }

// Handle consumes one inbound envelope and returns the reports to send
// back, in send order.
func (r *Runtime) Handle(ctx context.Context, env protocol.Envelope) []protocol.Envelope {
	switch env.Kind {
	case protocol.KindLoadScripts:
		return r.loadScripts(ctx, env.LoadScripts.URIs)
	case protocol.KindStart:
		return r.start(ctx, *env.Start)
	case protocol.KindMessage:
		if r.cfg.OnMessage != nil {
			r.cfg.OnMessage(ctx, env.Message.Payload)
		}
		return nil
	default:
		// host-bound kinds never travel this direction
		logs.Errf("shuttle.Runtime.Handle misdirected worker_id=%q kind=%s", r.cfg.WorkerID, env.Kind)
		return nil
	}
}

// loadScripts initializes bootstraps in request order. The first miss or
// init failure stops the walk and reports that uri; loaded ones stay loaded.
func (r *Runtime) loadScripts(ctx context.Context, uris []string) []protocol.Envelope {
	for _, uri := range uris {
		if r.loaded[uri] {
			continue
		}
		b, ok := r.cfg.Bootstraps.Resolve(uri)
		if !ok {
			logs.Errf("shuttle.Runtime.loadScripts missing worker_id=%q uri=%q", r.cfg.WorkerID, uri)
			return []protocol.Envelope{protocol.NewScriptLoadFailure(uri)}
		}
		if err := b.Init(ctx); err != nil {
			logs.Errf("shuttle.Runtime.loadScripts init worker_id=%q uri=%q err=%v", r.cfg.WorkerID, uri, err)
			return []protocol.Envelope{protocol.NewScriptLoadFailure(uri)}
		}
		r.loaded[uri] = true
		logs.Debugf("shuttle.Runtime.loadScripts ok worker_id=%q uri=%q", r.cfg.WorkerID, uri)
	}
	return nil
}

func (r *Runtime) start(ctx context.Context, req protocol.StartEnv) []protocol.Envelope {
	fn, err := r.cfg.Entries.MustResolve(req.EntryPoint)
	if err != nil {
		logs.Errf("shuttle.Runtime.start resolve worker_id=%q task_id=%d entry=%q err=%v", r.cfg.WorkerID, req.TaskID, req.EntryPoint, err)
		return []protocol.Envelope{protocol.NewException(req.TaskID)}
	}

	p := &poster{}
	runCtx := context.WithValue(ctx, posterKey{}, p)
	report := r.run(runCtx, fn, req)
	return append(p.take(), report)
}

// run executes one entry with panic containment. Failure detail stays on
// this side of the boundary; only the task id crosses.
func (r *Runtime) run(ctx context.Context, fn entry.Func, req protocol.StartEnv) (report protocol.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errf("shuttle.Runtime.run panic worker_id=%q task_id=%d entry=%q rec=%v", r.cfg.WorkerID, req.TaskID, req.EntryPoint, rec)
			report = protocol.NewException(req.TaskID)
		}
	}()
	result, err := fn(ctx, req.Param)
	if err != nil {
		logs.Errf("shuttle.Runtime.run failed worker_id=%q task_id=%d entry=%q err=%v", r.cfg.WorkerID, req.TaskID, req.EntryPoint, err)
		return protocol.NewException(req.TaskID)
	}
	logs.Debugf("shuttle.Runtime.run ok worker_id=%q task_id=%d entry=%q", r.cfg.WorkerID, req.TaskID, req.EntryPoint)
	return protocol.NewFinish(req.TaskID, result)
}

type posterKey struct{}

type poster struct {
	mu  sync.Mutex
	out []protocol.Envelope
}

func (p *poster) add(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, protocol.NewMessage(payload))
}

func (p *poster) take() []protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.out = nil
	return out
}

// Post queues one message payload for the host. It only works from inside
// a running entry; elsewhere it is a no-op. Queued messages flush before
// the task's completion report.
func Post(ctx context.Context, payload []byte) {
	if p, ok := ctx.Value(posterKey{}).(*poster); ok {
		p.add(payload)
	}
}
