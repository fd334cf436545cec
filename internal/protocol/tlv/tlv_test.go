package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		{ID: 1, Type: TypeU64, Value: []byte{0, 0, 0, 0, 0, 0, 0, 7}},
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestGetFieldsReturnsRepeatsInWireOrder(t *testing.T) {
	in := []Field{
		NewString(200, "boot.runtime"),
		NewU64(1, 12),
		NewString(200, "boot.codec"),
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	reps := GetFields(out, 200)
	if len(reps) != 2 {
		t.Fatalf("expected 2 repeats, got %d", len(reps))
	}
	if string(reps[0].Value) != "boot.runtime" || string(reps[1].Value) != "boot.codec" {
		t.Fatalf("repeat order lost: %q %q", reps[0].Value, reps[1].Value)
	}
}

func TestTypedConstructorsRoundTrip(t *testing.T) {
	u64 := NewU64(1, 1<<40)
	v, err := U64FromBytes(u64.Value)
	if err != nil || v != 1<<40 {
		t.Fatalf("u64 round trip: v=%d err=%v", v, err)
	}
	u32 := NewU32(2, 77)
	w, err := U32FromBytes(u32.Value)
	if err != nil || w != 77 {
		t.Fatalf("u32 round trip: v=%d err=%v", w, err)
	}
	b := NewBool(3, true)
	bv, err := BoolFromBytes(b.Value)
	if err != nil || !bv {
		t.Fatalf("bool round trip: v=%v err=%v", bv, err)
	}
	if _, err := BoolFromBytes([]byte{2}); err == nil {
		t.Fatalf("expected invalid bool value error")
	}
}

func TestNewBytesCopiesInput(t *testing.T) {
	src := []byte{1, 2, 3}
	f := NewBytes(9, src)
	src[0] = 9
	if f.Value[0] != 1 {
		t.Fatalf("field aliases caller memory")
	}
}

func TestMustTypeMismatch(t *testing.T) {
	f := NewString(4, "x")
	if err := MustType(f, TypeU64); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if err := MustType(f, TypeString); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
