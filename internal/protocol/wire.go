package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/treadle/loomctl/internal/protocol/frame"
	"github.com/treadle/loomctl/internal/protocol/schema"
	"github.com/treadle/loomctl/internal/protocol/tlv"
)

// responseFlags marks worker->host report kinds so captures and traces can
// classify a frame without parsing its payload.
func responseFlags(kind Kind) uint32 {
	switch kind {
	case KindFinish:
		return frame.FlagIsResponse
	case KindException, KindScriptLoadException:
		return frame.FlagIsResponse | frame.FlagIsError
	default:
		return 0
	}
}

// MarshalEnvelope encodes one envelope as a complete wire frame. The
// message id is a per-channel send sequence, unrelated to task ids.
func MarshalEnvelope(messageID uint64, env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	fields := envelopeFields(env)
	if err := schema.Validate(uint32(env.Kind), fields); err != nil {
		return nil, err
	}
	payload := tlv.EncodeFields(fields)
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			Magic:       frame.Magic,
			Version:     frame.Version,
			MessageID:   messageID,
			MessageType: uint32(env.Kind),
			Flags:       responseFlags(env.Kind),
		},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func envelopeFields(env Envelope) []tlv.Field {
	switch env.Kind {
	case KindLoadScripts:
		fields := make([]tlv.Field, 0, len(env.LoadScripts.URIs))
		for _, uri := range env.LoadScripts.URIs {
			fields = append(fields, tlv.NewString(schema.FieldScriptURI, uri))
		}
		return fields
	case KindStart:
		return []tlv.Field{
			tlv.NewU64(schema.FieldTaskID, env.Start.TaskID),
			tlv.NewString(schema.FieldEntryPoint, env.Start.EntryPoint),
			tlv.NewBytes(schema.FieldParam, env.Start.Param),
		}
	case KindFinish:
		return []tlv.Field{
			tlv.NewU64(schema.FieldTaskID, env.Finish.TaskID),
			tlv.NewBytes(schema.FieldResult, env.Finish.Result),
		}
	case KindException:
		return []tlv.Field{
			tlv.NewU64(schema.FieldTaskID, env.Exception.TaskID),
		}
	case KindScriptLoadException:
		return []tlv.Field{
			tlv.NewString(schema.FieldScriptURI, env.ScriptLoadFailure.URI),
		}
	case KindMessage:
		return []tlv.Field{
			tlv.NewBytes(schema.FieldPayload, env.Message.Payload),
		}
	default:
		return nil
	}
}

// DecodeEnvelope parses one received frame into an envelope.
func DecodeEnvelope(f frame.Frame) (Envelope, error) {
	if f.Header.Magic != frame.Magic {
		return Envelope{}, fmt.Errorf("%w: 0x%08X", ErrInvalidMagic, f.Header.Magic)
	}
	if f.Header.Version != frame.Version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Header.Version)
	}
	kind := Kind(f.Header.MessageType)
	switch kind {
	case KindLoadScripts, KindStart, KindFinish, KindException, KindScriptLoadException, KindMessage:
	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownKind, f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	if err := schema.Validate(uint32(kind), fields); err != nil {
		return Envelope{}, err
	}
	switch kind {
	case KindLoadScripts:
		return NewLoadScripts(getStrings(fields, schema.FieldScriptURI)...), nil
	case KindStart:
		return NewStart(
			getU64(fields, schema.FieldTaskID),
			getString(fields, schema.FieldEntryPoint),
			getBytes(fields, schema.FieldParam),
		), nil
	case KindFinish:
		return NewFinish(
			getU64(fields, schema.FieldTaskID),
			getBytes(fields, schema.FieldResult),
		), nil
	case KindException:
		return NewException(getU64(fields, schema.FieldTaskID)), nil
	case KindScriptLoadException:
		return NewScriptLoadFailure(getString(fields, schema.FieldScriptURI)), nil
	default:
		return NewMessage(getBytes(fields, schema.FieldPayload)), nil
	}
}

// WriteEnvelope frames env onto w with the given send sequence number.
func WriteEnvelope(w io.Writer, messageID uint64, env Envelope) error {
	b, err := MarshalEnvelope(messageID, env)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadEnvelope reads exactly one framed envelope from r.
func ReadEnvelope(r io.Reader, limits frame.Limits) (Envelope, uint64, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return Envelope{}, 0, err
	}
	env, err := DecodeEnvelope(f)
	if err != nil {
		return Envelope{}, 0, err
	}
	return env, f.Header.MessageID, nil
}

// UnmarshalEnvelope parses one complete frame held in memory.
func UnmarshalEnvelope(b []byte) (Envelope, uint64, error) {
	return ReadEnvelope(bytes.NewReader(b), frame.DefaultLimits())
}

// Schema-validated extraction; presence and types were already enforced.

func getString(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}

func getStrings(fields []tlv.Field, id uint16) []string {
	reps := tlv.GetFields(fields, id)
	out := make([]string, 0, len(reps))
	for _, f := range reps {
		out = append(out, string(f.Value))
	}
	return out
}

func getU64(fields []tlv.Field, id uint16) uint64 {
	f, _ := tlv.GetField(fields, id)
	v, _ := tlv.U64FromBytes(f.Value)
	return v
}

func getBytes(fields []tlv.Field, id uint16) []byte {
	f, _ := tlv.GetField(fields, id)
	out := make([]byte, len(f.Value))
	copy(out, f.Value)
	return out
}
