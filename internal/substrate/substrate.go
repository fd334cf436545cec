package substrate

import (
	"context"
	"errors"
	"os"

	"github.com/treadle/loomctl/internal/protocol"
)

const (
	EnvShuttleMarker = "LOOMCTL_SHUTTLE"
	EnvSessionID     = "LOOMCTL_SESSION_ID"
)

var (
	ErrTerminated           = errors.New("substrate: worker terminated")
	ErrWorkerBinaryRequired = errors.New("substrate: worker binary required")
	ErrHandlerRequired      = errors.New("substrate: envelope handler required")
	ErrHandshakeFailed      = errors.New("substrate: handshake failed")
)

// SpawnRequest describes one worker to bring up. BootstrapURIs are advisory
// here; the host delivers them to the live worker via a load_scripts envelope.
type SpawnRequest struct {
	SessionID     string
	BootstrapURIs []string
}

// Spawner brings up isolated workers. A failed Spawn leaves nothing running.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
}

// Handle is one live worker channel. Send and the receiver callback are
// FIFO per direction. Terminate is idempotent and irrevocable; Send after
// Terminate fails with ErrTerminated.
type Handle interface {
	SessionID() string
	Send(env protocol.Envelope) error
	SetReceiver(fn func(protocol.Envelope))
	SetErrorHandler(fn func(error))
	Terminate()
}

type workerCtxKey struct{}

// MarkWorkerContext labels ctx as executing inside a worker.
func MarkWorkerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, true)
}

// InWorkerContext reports whether ctx is labeled as worker-side.
func InWorkerContext(ctx context.Context) bool {
	v, _ := ctx.Value(workerCtxKey{}).(bool)
	return v
}

// InWorkerProcess reports whether this process was launched as a shuttle.
func InWorkerProcess() bool {
	return os.Getenv(EnvShuttleMarker) == "1"
}
