package shuttle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/treadle/loomctl/internal/entry"
	"github.com/treadle/loomctl/internal/protocol"
	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func testEntries(t *testing.T) *entry.Registry {
	t.Helper()
	r := entry.NewRegistry()
	must := func(name string, fn entry.Func) {
		if err := r.Register(name, fn); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	must("worker.square", func(_ context.Context, param []byte) ([]byte, error) {
		var n int
		if err := json.Unmarshal(param, &n); err != nil {
			return nil, err
		}
		return json.Marshal(n * n)
	})
	must("worker.fail", func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("induced failure")
	})
	must("worker.panic", func(context.Context, []byte) ([]byte, error) {
		panic("induced panic")
	})
	must("worker.chatty", func(ctx context.Context, param []byte) ([]byte, error) {
		Post(ctx, []byte("progress"))
		return param, nil
	})
	return r
}

func testRuntime(t *testing.T, boots *entry.BootstrapSet) *Runtime {
	t.Helper()
	rt, err := NewRuntime(Config{
		WorkerID:   "shuttle-test",
		SessionID:  "session-test",
		Entries:    testEntries(t),
		Bootstraps: boots,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt
}

func TestHandleStartReportsFinish(t *testing.T) {
	testlog.Start(t)
	rt := testRuntime(t, nil)
	reports := rt.Handle(context.Background(), protocol.NewStart(4, "worker.square", []byte(`5`)))
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	rep := reports[0]
	if rep.Kind != protocol.KindFinish || rep.Finish.TaskID != 4 || !bytes.Equal(rep.Finish.Result, []byte(`25`)) {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestHandleStartFailureReportsExceptionWithoutDetail(t *testing.T) {
	testlog.Start(t)
	rt := testRuntime(t, nil)
	for _, name := range []string{"worker.fail", "worker.panic", "worker.absent"} {
		reports := rt.Handle(context.Background(), protocol.NewStart(7, name, nil))
		if len(reports) != 1 {
			t.Fatalf("%s: expected 1 report, got %d", name, len(reports))
		}
		rep := reports[0]
		if rep.Kind != protocol.KindException || rep.Exception.TaskID != 7 {
			t.Fatalf("%s: unexpected report: %+v", name, rep)
		}
	}
}

func TestHandleStartFlushesPostsBeforeFinish(t *testing.T) {
	testlog.Start(t)
	rt := testRuntime(t, nil)
	reports := rt.Handle(context.Background(), protocol.NewStart(3, "worker.chatty", []byte(`x`)))
	if len(reports) != 2 {
		t.Fatalf("expected message then finish, got %d reports", len(reports))
	}
	if reports[0].Kind != protocol.KindMessage || string(reports[0].Message.Payload) != "progress" {
		t.Fatalf("first report not the posted message: %+v", reports[0])
	}
	if reports[1].Kind != protocol.KindFinish || reports[1].Finish.TaskID != 3 {
		t.Fatalf("second report not finish: %+v", reports[1])
	}
}

func TestLoadScriptsRunsBootstrapsInOrder(t *testing.T) {
	testlog.Start(t)
	boots := entry.NewBootstrapSet()
	var order []string
	for _, name := range []string{"boot.alpha", "boot.beta"} {
		name := name
		if err := boots.Register(entry.BootstrapFunc{BootName: name, InitFn: func(context.Context) error {
			order = append(order, name)
			return nil
		}}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	rt := testRuntime(t, boots)
	reports := rt.Handle(context.Background(), protocol.NewLoadScripts("boot.beta", "boot.alpha"))
	if len(reports) != 0 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if len(order) != 2 || order[0] != "boot.beta" || order[1] != "boot.alpha" {
		t.Fatalf("bootstrap order lost: %v", order)
	}

	// a second load of the same uris must not re-init
	rt.Handle(context.Background(), protocol.NewLoadScripts("boot.beta"))
	if len(order) != 2 {
		t.Fatalf("bootstrap re-ran: %v", order)
	}
}

func TestLoadScriptsStopsAtFirstFailure(t *testing.T) {
	testlog.Start(t)
	boots := entry.NewBootstrapSet()
	var ran []string
	reg := func(name string, fail bool) {
		if err := boots.Register(entry.BootstrapFunc{BootName: name, InitFn: func(context.Context) error {
			ran = append(ran, name)
			if fail {
				return fmt.Errorf("init refused")
			}
			return nil
		}}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	reg("boot.ok", false)
	reg("boot.bad", true)
	reg("boot.after", false)

	rt := testRuntime(t, boots)
	reports := rt.Handle(context.Background(), protocol.NewLoadScripts("boot.ok", "boot.bad", "boot.after"))
	if len(reports) != 1 || reports[0].Kind != protocol.KindScriptLoadException {
		t.Fatalf("expected script_load_exception, got %+v", reports)
	}
	if reports[0].ScriptLoadFailure.URI != "boot.bad" {
		t.Fatalf("wrong failing uri: %q", reports[0].ScriptLoadFailure.URI)
	}
	if len(ran) != 2 {
		t.Fatalf("walk did not stop at failure: %v", ran)
	}
}

func TestLoadScriptsMissingBootstrapReportsThatURI(t *testing.T) {
	testlog.Start(t)
	rt := testRuntime(t, nil)
	reports := rt.Handle(context.Background(), protocol.NewLoadScripts("boot.absent"))
	if len(reports) != 1 || reports[0].Kind != protocol.KindScriptLoadException || reports[0].ScriptLoadFailure.URI != "boot.absent" {
		t.Fatalf("expected script_load_exception for boot.absent, got %+v", reports)
	}
}

func TestHandleMessageInvokesSink(t *testing.T) {
	testlog.Start(t)
	var got []byte
	rt, err := NewRuntime(Config{
		Entries: testEntries(t),
		OnMessage: func(_ context.Context, payload []byte) {
			got = append([]byte(nil), payload...)
		},
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	reports := rt.Handle(context.Background(), protocol.NewMessage([]byte("ping")))
	if len(reports) != 0 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if string(got) != "ping" {
		t.Fatalf("sink missed payload: %q", got)
	}
}

func TestHandleMisdirectedKindIsIgnored(t *testing.T) {
	testlog.Start(t)
	rt := testRuntime(t, nil)
	if reports := rt.Handle(context.Background(), protocol.NewFinish(1, nil)); len(reports) != 0 {
		t.Fatalf("misdirected finish produced reports: %+v", reports)
	}
}

func TestPostOutsideRunningEntryIsNoop(t *testing.T) {
	testlog.Start(t)
	Post(context.Background(), []byte("nowhere"))
}

func TestNewRuntimeRequiresEntries(t *testing.T) {
	testlog.Start(t)
	if _, err := NewRuntime(Config{}); !errors.Is(err, ErrEntriesRequired) {
		t.Fatalf("expected ErrEntriesRequired, got %v", err)
	}
}
