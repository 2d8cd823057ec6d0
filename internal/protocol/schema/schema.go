package schema

import (
	"fmt"

	"github.com/danmuck/boxrelay/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Worker-link message type IDs.
const (
	MsgHello     uint32 = 1
	MsgReady     uint32 = 2
	MsgJob       uint32 = 3
	MsgResult    uint32 = 4
	MsgResultAck uint32 = 5
	MsgStop      uint32 = 6
	MsgStopAck   uint32 = 7
)

// Field IDs.
const (
	FieldWorkerID uint16 = 1
	FieldPID      uint16 = 2
	FieldGroup    uint16 = 3

	FieldConnID  uint16 = 100
	FieldAddress uint16 = 101
	FieldData    uint16 = 102
	FieldClose   uint16 = 103

	FieldAccepted uint16 = 200
	FieldReason   uint16 = 201
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
	MsgHello: {
		{FieldWorkerID, tlv.TypeString},
		{FieldPID, tlv.TypeU64},
		{FieldGroup, tlv.TypeString},
	},
	MsgReady: {},
	MsgJob: {
		{FieldConnID, tlv.TypeI64},
		{FieldAddress, tlv.TypeString},
		{FieldData, tlv.TypeBytes},
	},
	MsgResult: {
		{FieldConnID, tlv.TypeI64},
		{FieldClose, tlv.TypeBool},
	},
	MsgResultAck: {
		{FieldAccepted, tlv.TypeBool},
	},
	MsgStop:    {},
	MsgStopAck: {},
}

// Name returns a log-friendly message type name.
func Name(messageType uint32) string {
	switch messageType {
	case MsgHello:
		return "hello"
	case MsgReady:
		return "ready"
	case MsgJob:
		return "job"
	case MsgResult:
		return "result"
	case MsgResultAck:
		return "result.ack"
	case MsgStop:
		return "stop"
	case MsgStopAck:
		return "stop.ack"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Str("message", Name(messageType)).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Str("message", Name(messageType)).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
