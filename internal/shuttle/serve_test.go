package shuttle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/protocol/frame"
	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
		return nil
	}
}

func TestServeHandshakeDispatchAndCleanEOF(t *testing.T) {
	testlog.Start(t)
	hostOutR, hostOutW := io.Pipe()     // host -> worker
	workerOutR, workerOutW := io.Pipe() // worker -> host

	rt := testRuntime(t, nil)
	done := make(chan error, 1)
	go func() { done <- rt.Serve(context.Background(), hostOutR, workerOutW) }()

	hostReader := bufio.NewReader(workerOutR)
	hello, err := protocol.ReadHello(hostReader)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.WorkerID != "shuttle-test" || hello.SessionID != "session-test" || hello.ProtoVersion != frame.Version {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	ack := protocol.HelloAck{Status: protocol.AckStatusAccepted, SessionID: hello.SessionID, TimestampMS: 1}
	if err := protocol.WriteHelloAck(hostOutW, ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	if err := protocol.WriteEnvelope(hostOutW, 1, protocol.NewStart(5, "worker.square", []byte(`6`))); err != nil {
		t.Fatalf("write start: %v", err)
	}
	env, _, err := protocol.ReadEnvelope(hostReader, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if env.Kind != protocol.KindFinish || env.Finish.TaskID != 5 || !bytes.Equal(env.Finish.Result, []byte(`36`)) {
		t.Fatalf("unexpected report: %+v", env)
	}

	_ = hostOutW.Close()
	if err := waitServe(t, done); err != nil {
		t.Fatalf("serve returned error on clean eof: %v", err)
	}
}

func TestServeRejectedHelloFailsFast(t *testing.T) {
	testlog.Start(t)
	hostOutR, hostOutW := io.Pipe()
	workerOutR, workerOutW := io.Pipe()

	rt := testRuntime(t, nil)
	done := make(chan error, 1)
	go func() { done <- rt.Serve(context.Background(), hostOutR, workerOutW) }()

	hostReader := bufio.NewReader(workerOutR)
	if _, err := protocol.ReadHello(hostReader); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	ack := protocol.HelloAck{Status: protocol.AckStatusRejected, Code: 1, Message: "no capacity", SessionID: "session-test", TimestampMS: 1}
	if err := protocol.WriteHelloAck(hostOutW, ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	if err := waitServe(t, done); !errors.Is(err, ErrHelloRejected) {
		t.Fatalf("expected ErrHelloRejected, got %v", err)
	}
}
