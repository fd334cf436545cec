package schema

import (
	"fmt"

	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/protocol/tlv"
)

// Message type IDs from the loom wire contract.
const (
	MsgLoadScripts         uint32 = 1
	MsgStart               uint32 = 2
	MsgFinish              uint32 = 3
	MsgException           uint32 = 4
	MsgScriptLoadException uint32 = 5
	MsgMessage             uint32 = 6
)

// Field IDs from the loom wire contract.
const (
	FieldTaskID uint16 = 1

	FieldEntryPoint uint16 = 100
	FieldParam      uint16 = 101

	FieldScriptURI uint16 = 200

	FieldPayload uint16 = 300

	FieldResult uint16 = 400
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgLoadScripts: {
		{FieldScriptURI, tlv.TypeString},
	},
	MsgStart: {
		{FieldTaskID, tlv.TypeU64},
		{FieldEntryPoint, tlv.TypeString},
		{FieldParam, tlv.TypeBytes},
	},
	MsgFinish: {
		{FieldTaskID, tlv.TypeU64},
		{FieldResult, tlv.TypeBytes},
	},
	MsgException: {
		{FieldTaskID, tlv.TypeU64},
	},
	MsgScriptLoadException: {
		{FieldScriptURI, tlv.TypeString},
	},
	MsgMessage: {
		{FieldPayload, tlv.TypeBytes},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored; repeated ids satisfy a requirement if the first
// occurrence matches.
func Validate(messageType uint32, fields []tlv.Field) error {
	logs.Debugf("schema.Validate message_type=%d fields=%d", messageType, len(fields))
	reqs, ok := requirements[messageType]
	if !ok {
		logs.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logs.Errf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logs.Errf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	logs.Tracef("schema.Validate ok message_type=%d", messageType)
	return nil
}
