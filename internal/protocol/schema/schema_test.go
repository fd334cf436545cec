package schema

import (
	"testing"

	"github.com/treadle/loomctl/internal/protocol/tlv"
	"github.com/treadle/loomctl/internal/testutil/testlog"
)

func TestValidateStartRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.NewU64(FieldTaskID, 3),
		tlv.NewString(FieldEntryPoint, "worker.double"),
		tlv.NewBytes(FieldParam, []byte(`5`)),
	}
	if err := Validate(MsgStart, fields); err != nil {
		t.Fatalf("validate start: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.NewU64(FieldTaskID, 3),
		tlv.NewString(FieldEntryPoint, "worker.double"),
		tlv.NewBytes(FieldParam, []byte(`5`)),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgStart, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.NewU64(FieldTaskID, 3)}
	err := Validate(MsgStart, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldEntryPoint || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.NewString(FieldTaskID, "3"),
		tlv.NewString(FieldEntryPoint, "worker.double"),
		tlv.NewBytes(FieldParam, nil),
	}
	err := Validate(MsgStart, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldTaskID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageTypeDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.MessageType != 99 || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateLoadScriptsRequiresOneURI(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgLoadScripts, nil); err == nil {
		t.Fatalf("expected missing script_uri error")
	}
	fields := []tlv.Field{
		tlv.NewString(FieldScriptURI, "boot.runtime"),
		tlv.NewString(FieldScriptURI, "boot.codec"),
	}
	if err := Validate(MsgLoadScripts, fields); err != nil {
		t.Fatalf("validate load_scripts: %v", err)
	}
}

func TestValidateExceptionCarriesOnlyTaskID(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.NewU64(FieldTaskID, 9)}
	if err := Validate(MsgException, fields); err != nil {
		t.Fatalf("validate exception: %v", err)
	}
}
