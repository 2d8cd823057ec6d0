package ipc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/boxrelay/internal/protocol/frame"
	"github.com/danmuck/boxrelay/internal/protocol/schema"
	"github.com/danmuck/boxrelay/internal/protocol/tlv"
)

// Job is one framed client request bound for a worker group.
type Job struct {
	ConnID  int64
	Address string
	Data    []byte
}

func (j Job) Validate() error {
	if j.ConnID <= 0 {
		return fmt.Errorf("job invalid conn_id: %d", j.ConnID)
	}
	if len(j.Data) == 0 {
		return fmt.Errorf("job missing data")
	}
	return nil
}

// Result is a worker's answer for one connection. Empty Data with Close set
// asks the front end to finish the connection.
type Result struct {
	ConnID int64
	Data   []byte
	Close  bool
}

func (r Result) Validate() error {
	if r.ConnID <= 0 {
		return fmt.Errorf("result invalid conn_id: %d", r.ConnID)
	}
	if !r.Close && len(r.Data) == 0 {
		return fmt.Errorf("result missing data")
	}
	return nil
}

// Hello identifies a worker process on its link.
type Hello struct {
	WorkerID string
	PID      int
	Group    string
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.WorkerID) == "" {
		return fmt.Errorf("hello missing worker_id")
	}
	if strings.TrimSpace(h.Group) == "" {
		return fmt.Errorf("hello missing group")
	}
	return nil
}

func EncodeJobFrame(messageID uint64, job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.I64(schema.FieldConnID, job.ConnID),
		tlv.String(schema.FieldAddress, job.Address),
		tlv.Bytes(schema.FieldData, job.Data),
	}
	return encode(messageID, schema.MsgJob, 0, fields)
}

func DecodeJobFrame(f frame.Frame) (Job, error) {
	fields, err := decode(f, schema.MsgJob)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ConnID:  getI64(fields, schema.FieldConnID),
		Address: getString(fields, schema.FieldAddress),
		Data:    getBytes(fields, schema.FieldData),
	}, nil
}

func EncodeResultFrame(messageID uint64, result Result) ([]byte, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.I64(schema.FieldConnID, result.ConnID),
		tlv.Bool(schema.FieldClose, result.Close),
	}
	var flags uint32
	if result.Close {
		flags |= frame.FlagCloseConn
	}
	if len(result.Data) > 0 {
		fields = append(fields, tlv.Bytes(schema.FieldData, result.Data))
	}
	return encode(messageID, schema.MsgResult, flags, fields)
}

func DecodeResultFrame(f frame.Frame) (Result, error) {
	fields, err := decode(f, schema.MsgResult)
	if err != nil {
		return Result{}, err
	}
	closeConn, _ := tlv.BoolFromBytes(getField(fields, schema.FieldClose).Value)
	return Result{
		ConnID: getI64(fields, schema.FieldConnID),
		Data:   getBytes(fields, schema.FieldData),
		Close:  closeConn,
	}, nil
}

func EncodeHelloFrame(hello Hello) ([]byte, error) {
	if err := hello.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldWorkerID, hello.WorkerID),
		tlv.U64(schema.FieldPID, uint64(hello.PID)),
		tlv.String(schema.FieldGroup, hello.Group),
	}
	return encode(0, schema.MsgHello, 0, fields)
}

func DecodeHelloFrame(f frame.Frame) (Hello, error) {
	fields, err := decode(f, schema.MsgHello)
	if err != nil {
		return Hello{}, err
	}
	pid, _ := tlv.U64FromBytes(getField(fields, schema.FieldPID).Value)
	return Hello{
		WorkerID: getString(fields, schema.FieldWorkerID),
		PID:      int(pid),
		Group:    getString(fields, schema.FieldGroup),
	}, nil
}

// EncodeResultAckFrame reports whether the result reached the outbound queue.
func EncodeResultAckFrame(messageID uint64, accepted bool, reason string) ([]byte, error) {
	fields := []tlv.Field{tlv.Bool(schema.FieldAccepted, accepted)}
	if reason != "" {
		fields = append(fields, tlv.String(schema.FieldReason, reason))
	}
	return encode(messageID, schema.MsgResultAck, 0, fields)
}

func DecodeResultAckFrame(f frame.Frame) (bool, string, error) {
	fields, err := decode(f, schema.MsgResultAck)
	if err != nil {
		return false, "", err
	}
	accepted, err := tlv.BoolFromBytes(getField(fields, schema.FieldAccepted).Value)
	if err != nil {
		return false, "", err
	}
	return accepted, getString(fields, schema.FieldReason), nil
}

// EncodeControlFrame builds a field-less control frame (ready, stop, stop.ack).
func EncodeControlFrame(messageID uint64, messageType uint32) ([]byte, error) {
	return encode(messageID, messageType, 0, nil)
}

func ReadFrame(r io.Reader) (frame.Frame, error) {
	return frame.ReadFrame(r, frame.DefaultLimits())
}

func encode(messageID uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(f frame.Frame, messageType uint32) ([]tlv.Field, error) {
	if f.Header.MessageType != messageType {
		return nil, fmt.Errorf("ipc: unexpected message_type %s want %s",
			schema.Name(f.Header.MessageType), schema.Name(messageType))
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func getField(fields []tlv.Field, id uint16) tlv.Field {
	f, _ := tlv.GetField(fields, id)
	return f
}

func getString(fields []tlv.Field, id uint16) string {
	return string(getField(fields, id).Value)
}

func getBytes(fields []tlv.Field, id uint16) []byte {
	v := getField(fields, id).Value
	if len(v) == 0 {
		return nil
	}
	return v
}

func getI64(fields []tlv.Field, id uint16) int64 {
	v, _ := tlv.U64FromBytes(getField(fields, id).Value)
	return int64(v)
}
