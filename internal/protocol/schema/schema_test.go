package schema

import (
	"testing"

	"github.com/danmuck/boxrelay/internal/protocol/tlv"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func TestValidateJobRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.I64(FieldConnID, 7),
		tlv.String(FieldAddress, "127.0.0.1:4000"),
		tlv.Bytes(FieldData, []byte{1, 2}),
	}
	if err := Validate(MsgJob, fields); err != nil {
		t.Fatalf("validate job: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.I64(FieldConnID, 7),
		tlv.Bool(FieldClose, false),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgResult, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgJob, []tlv.Field{tlv.I64(FieldConnID, 1)})
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldAddress || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.String(FieldConnID, "7"), tlv.Bool(FieldClose, true)}
	ve, ok := Validate(MsgResult, fields).(ValidationError)
	if !ok || ve.FieldID != FieldConnID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation result: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	ve, ok := Validate(999, nil).(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected validation result: %+v", ve)
	}
}
