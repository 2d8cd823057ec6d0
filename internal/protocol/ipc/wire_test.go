package ipc

import (
	"bytes"
	"testing"

	"github.com/danmuck/boxrelay/internal/protocol/frame"
	"github.com/danmuck/boxrelay/internal/protocol/schema"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func readOne(t *testing.T, raw []byte) frame.Frame {
	t.Helper()
	f, err := ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestJobFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := Job{ConnID: 12, Address: "127.0.0.1:5555", Data: []byte{9, 8, 7}}
	raw, err := EncodeJobFrame(3, in)
	if err != nil {
		t.Fatalf("encode job: %v", err)
	}
	f := readOne(t, raw)
	if f.Header.MessageType != schema.MsgJob || f.Header.MessageID != 3 {
		t.Fatalf("unexpected header: %+v", f.Header)
	}
	out, err := DecodeJobFrame(f)
	if err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if out.ConnID != in.ConnID || out.Address != in.Address || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("job mismatch: in=%+v out=%+v", in, out)
	}
}

func TestResultCloseMarkerRoundTrip(t *testing.T) {
	testlog.Start(t)

	raw, err := EncodeResultFrame(4, Result{ConnID: 5, Close: true})
	if err != nil {
		t.Fatalf("encode result: %v", err)
	}
	f := readOne(t, raw)
	if f.Header.Flags&frame.FlagCloseConn == 0 {
		t.Fatalf("close flag missing: %+v", f.Header)
	}
	out, err := DecodeResultFrame(f)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out.ConnID != 5 || !out.Close || out.Data != nil {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestResultRequiresDataOrClose(t *testing.T) {
	testlog.Start(t)

	if _, err := EncodeResultFrame(1, Result{ConnID: 1}); err == nil {
		t.Fatalf("expected error for empty non-close result")
	}
}

func TestHelloAndAckRoundTrip(t *testing.T) {
	testlog.Start(t)

	raw, err := EncodeHelloFrame(Hello{WorkerID: "w-1", PID: 4242, Group: "default"})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	hello, err := DecodeHelloFrame(readOne(t, raw))
	if err != nil || hello.PID != 4242 || hello.Group != "default" {
		t.Fatalf("hello mismatch: %+v err=%v", hello, err)
	}

	raw, err = EncodeResultAckFrame(9, false, "queue closed")
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	ok, reason, err := DecodeResultAckFrame(readOne(t, raw))
	if err != nil || ok || reason != "queue closed" {
		t.Fatalf("ack mismatch: ok=%v reason=%q err=%v", ok, reason, err)
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)

	raw, err := EncodeControlFrame(1, schema.MsgReady)
	if err != nil {
		t.Fatalf("encode ready: %v", err)
	}
	if _, err := DecodeJobFrame(readOne(t, raw)); err == nil {
		t.Fatalf("expected message type error")
	}
}
