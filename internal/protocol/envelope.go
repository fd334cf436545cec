package protocol

import (
	"fmt"
	"strings"

	"github.com/treadle/loomctl/internal/protocol/schema"
)

// Kind tags one envelope with its wire message type.
type Kind uint32

const (
	KindLoadScripts         = Kind(schema.MsgLoadScripts)
	KindStart               = Kind(schema.MsgStart)
	KindFinish              = Kind(schema.MsgFinish)
	KindException           = Kind(schema.MsgException)
	KindScriptLoadException = Kind(schema.MsgScriptLoadException)
	KindMessage             = Kind(schema.MsgMessage)
)

func (k Kind) String() string {
	switch k {
	case KindLoadScripts:
		return "load_scripts"
	case KindStart:
		return "start"
	case KindFinish:
		return "finish"
	case KindException:
		return "exception"
	case KindScriptLoadException:
		return "script_load_exception"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// StartEnv asks a worker to run one registered entry point.
type StartEnv struct {
	TaskID     uint64
	EntryPoint string
	Param      []byte
}

func (e StartEnv) Validate() error {
	if e.TaskID == 0 {
		return fmt.Errorf("%w: start missing task_id", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(e.EntryPoint) == "" {
		return fmt.Errorf("%w: start missing entry_point", ErrInvalidEnvelope)
	}
	return nil
}

// FinishEnv reports one completed task and its result bytes.
type FinishEnv struct {
	TaskID uint64
	Result []byte
}

func (e FinishEnv) Validate() error {
	if e.TaskID == 0 {
		return fmt.Errorf("%w: finish missing task_id", ErrInvalidEnvelope)
	}
	return nil
}

// ExceptionEnv reports one failed task. The wire format carries no failure
// detail; the task id is the whole contract.
type ExceptionEnv struct {
	TaskID uint64
}

func (e ExceptionEnv) Validate() error {
	if e.TaskID == 0 {
		return fmt.Errorf("%w: exception missing task_id", ErrInvalidEnvelope)
	}
	return nil
}

// LoadScriptsEnv asks a worker to initialize named bootstraps in order.
type LoadScriptsEnv struct {
	URIs []string
}

func (e LoadScriptsEnv) Validate() error {
	if len(e.URIs) == 0 {
		return fmt.Errorf("%w: load_scripts missing script_uri", ErrInvalidEnvelope)
	}
	for i, uri := range e.URIs {
		if strings.TrimSpace(uri) == "" {
			return fmt.Errorf("%w: load_scripts uri[%d] empty", ErrInvalidEnvelope, i)
		}
	}
	return nil
}

// ScriptLoadFailureEnv reports the first bootstrap that failed to load.
type ScriptLoadFailureEnv struct {
	URI string
}

func (e ScriptLoadFailureEnv) Validate() error {
	if strings.TrimSpace(e.URI) == "" {
		return fmt.Errorf("%w: script_load_exception missing script_uri", ErrInvalidEnvelope)
	}
	return nil
}

// MessageEnv carries one opaque application payload. Empty payloads are
// deliverable.
type MessageEnv struct {
	Payload []byte
}

func (e MessageEnv) Validate() error {
	return nil
}

// Envelope is one unit of host<->worker traffic, tagged by Kind with exactly
// the matching descriptor populated.
type Envelope struct {
	Kind              Kind
	Start             *StartEnv
	Finish            *FinishEnv
	Exception         *ExceptionEnv
	LoadScripts       *LoadScriptsEnv
	ScriptLoadFailure *ScriptLoadFailureEnv
	Message           *MessageEnv
}

func NewStart(taskID uint64, entryPoint string, param []byte) Envelope {
	return Envelope{Kind: KindStart, Start: &StartEnv{TaskID: taskID, EntryPoint: entryPoint, Param: param}}
}

func NewFinish(taskID uint64, result []byte) Envelope {
	return Envelope{Kind: KindFinish, Finish: &FinishEnv{TaskID: taskID, Result: result}}
}

func NewException(taskID uint64) Envelope {
	return Envelope{Kind: KindException, Exception: &ExceptionEnv{TaskID: taskID}}
}

func NewLoadScripts(uris ...string) Envelope {
	return Envelope{Kind: KindLoadScripts, LoadScripts: &LoadScriptsEnv{URIs: uris}}
}

func NewScriptLoadFailure(uri string) Envelope {
	return Envelope{Kind: KindScriptLoadException, ScriptLoadFailure: &ScriptLoadFailureEnv{URI: uri}}
}

func NewMessage(payload []byte) Envelope {
	return Envelope{Kind: KindMessage, Message: &MessageEnv{Payload: payload}}
}

func (e Envelope) Validate() error {
	switch e.Kind {
	case KindLoadScripts:
		if e.LoadScripts == nil {
			return fmt.Errorf("%w: load_scripts missing descriptor", ErrInvalidEnvelope)
		}
		return e.LoadScripts.Validate()
	case KindStart:
		if e.Start == nil {
			return fmt.Errorf("%w: start missing descriptor", ErrInvalidEnvelope)
		}
		return e.Start.Validate()
	case KindFinish:
		if e.Finish == nil {
			return fmt.Errorf("%w: finish missing descriptor", ErrInvalidEnvelope)
		}
		return e.Finish.Validate()
	case KindException:
		if e.Exception == nil {
			return fmt.Errorf("%w: exception missing descriptor", ErrInvalidEnvelope)
		}
		return e.Exception.Validate()
	case KindScriptLoadException:
		if e.ScriptLoadFailure == nil {
			return fmt.Errorf("%w: script_load_exception missing descriptor", ErrInvalidEnvelope)
		}
		return e.ScriptLoadFailure.Validate()
	case KindMessage:
		if e.Message == nil {
			return fmt.Errorf("%w: message missing descriptor", ErrInvalidEnvelope)
		}
		return e.Message.Validate()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint32(e.Kind))
	}
}

// TaskID reports the task an envelope addresses, when its kind carries one.
func (e Envelope) TaskID() (uint64, bool) {
	switch e.Kind {
	case KindStart:
		if e.Start != nil {
			return e.Start.TaskID, true
		}
	case KindFinish:
		if e.Finish != nil {
			return e.Finish.TaskID, true
		}
	case KindException:
		if e.Exception != nil {
			return e.Exception.TaskID, true
		}
	}
	return 0, false
}
