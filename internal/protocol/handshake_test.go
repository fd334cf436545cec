package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func TestHelloRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Hello{
		WorkerID:     "shuttle-1",
		SessionID:    "b5c7a250-63c0-4f4f-9a3b-13f6f33a9c01",
		ProtoVersion: 1,
		Bootstraps:   []string{"boot.runtime"},
	}
	var buf bytes.Buffer
	if err := WriteHello(&buf, in); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	out, err := ReadHello(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if out.WorkerID != in.WorkerID || out.SessionID != in.SessionID || out.ProtoVersion != 1 {
		t.Fatalf("hello mismatch: %+v", out)
	}
	if len(out.Bootstraps) != 1 || out.Bootstraps[0] != "boot.runtime" {
		t.Fatalf("bootstraps lost: %+v", out.Bootstraps)
	}
}

func TestWriteHelloRejectsMissingSession(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	err := WriteHello(&buf, Hello{WorkerID: "shuttle-1", ProtoVersion: 1, Bootstraps: []string{}})
	if !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestHelloAckRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := HelloAck{
		Status:      AckStatusAccepted,
		SessionID:   "b5c7a250-63c0-4f4f-9a3b-13f6f33a9c01",
		TimestampMS: 1724400000000,
	}
	var buf bytes.Buffer
	if err := WriteHelloAck(&buf, in); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	out, err := ReadHelloAck(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if out.Status != AckStatusAccepted || out.SessionID != in.SessionID {
		t.Fatalf("ack mismatch: %+v", out)
	}
}

func TestReadHelloRejectsWrongControlType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	ack := HelloAck{Status: AckStatusRejected, SessionID: "s", TimestampMS: 1}
	if err := WriteHelloAck(&buf, ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	_, err := ReadHello(bufio.NewReader(&buf))
	if !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestHelloAckValidateRejectsUnknownStatus(t *testing.T) {
	testlog.Start(t)
	err := HelloAck{Status: "maybe", SessionID: "s", TimestampMS: 1}.Validate()
	if !errors.Is(err, ErrInvalidHelloAck) {
		t.Fatalf("expected ErrInvalidHelloAck, got %v", err)
	}
}
