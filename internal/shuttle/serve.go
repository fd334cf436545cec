package shuttle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/protocol/frame"
	"github.com/treadle/loomctl/internal/substrate"
)

// Serve runs the worker loop over one stream pair: hello handshake, then
// envelopes until EOF. Clean EOF means the host closed the channel and is
// a normal shutdown. Any other decode failure is fatal for the worker.
func (r *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx = substrate.MarkWorkerContext(ctx)
	reader := bufio.NewReader(in)

	hello := protocol.Hello{
		WorkerID:     r.cfg.WorkerID,
		SessionID:    r.cfg.SessionID,
		ProtoVersion: frame.Version,
		Bootstraps:   r.cfg.Bootstraps.Names(),
	}
	if hello.Bootstraps == nil {
		hello.Bootstraps = []string{}
	}
	if err := protocol.WriteHello(out, hello); err != nil {
		return err
	}
	ack, err := protocol.ReadHelloAck(reader)
	if err != nil {
		return err
	}
	if ack.Status != protocol.AckStatusAccepted {
		return fmt.Errorf("%w: code=%d message=%q", ErrHelloRejected, ack.Code, ack.Message)
	}
	logs.Infof("shuttle.Runtime.Serve ready worker_id=%q session=%q", r.cfg.WorkerID, r.cfg.SessionID)

	var sendSeq uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, seq, err := protocol.ReadEnvelope(reader, r.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, frame.ErrShortHeader) {
				logs.Infof("shuttle.Runtime.Serve closed worker_id=%q", r.cfg.WorkerID)
				return nil
			}
			logs.Errf("shuttle.Runtime.Serve decode worker_id=%q err=%v", r.cfg.WorkerID, err)
			return err
		}
		logs.Tracef("shuttle.Runtime.Serve recv worker_id=%q seq=%d kind=%s", r.cfg.WorkerID, seq, env.Kind)
		for _, report := range r.Handle(ctx, env) {
			sendSeq++
			if err := protocol.WriteEnvelope(out, sendSeq, report); err != nil {
				return err
			}
		}
	}
}
