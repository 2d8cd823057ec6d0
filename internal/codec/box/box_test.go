package box

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	c := New()
	in := &Box{Version: 2, Flag: 1, Cmd: 101, Ret: -3, Sn: 77, Payload: []byte("hello")}
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != HeaderLen+5 {
		t.Fatalf("unexpected encoded length: %d", len(raw))
	}
	f, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := f.(*Box)
	if out.Version != in.Version || out.Flag != in.Flag || out.Cmd != in.Cmd || out.Ret != in.Ret || out.Sn != in.Sn {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}
	if out.Command() != "101" {
		t.Fatalf("unexpected command: %q", out.Command())
	}
}

func TestCheckClassifiesPrefixes(t *testing.T) {
	testlog.Start(t)

	c := New()
	raw, err := c.Encode(&Box{Cmd: 1, Payload: []byte("abc")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if got := c.Check(raw[:HeaderLen-1]); got.Status != codec.NeedMore {
		t.Fatalf("short header: got %v", got.Status)
	}
	got := c.Check(raw[:HeaderLen])
	if got.Status != codec.Complete || got.Length != len(raw) {
		t.Fatalf("header only: got %+v want complete(%d)", got, len(raw))
	}
	if again := c.Check(raw[:HeaderLen]); again != got {
		t.Fatalf("check not idempotent: %+v != %+v", again, got)
	}
	if got := c.Check([]byte("garbage-garbage-garbage-xx")); got.Status != codec.Invalid {
		t.Fatalf("garbage: got %v", got.Status)
	}
	if got := c.Check([]byte{0xde, 0xad, 0xbe, 0xef}); got.Status != codec.Invalid {
		t.Fatalf("four bytes of bad magic: got %v", got.Status)
	}
	if got := c.Check(raw[:3]); got.Status != codec.NeedMore {
		t.Fatalf("partial magic: got %v", got.Status)
	}
}

func TestCheckRejectsOversizedPacketLen(t *testing.T) {
	testlog.Start(t)

	c := Codec{MaxPacketLen: 64}
	raw, err := New().Encode(&Box{Cmd: 1, Payload: make([]byte, 100)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := c.Check(raw); got.Status != codec.Invalid {
		t.Fatalf("expected invalid, got %v", got.Status)
	}
	if _, err := c.Encode(&Box{Cmd: 1, Payload: make([]byte, 100)}); !errors.Is(err, codec.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	testlog.Start(t)

	c := New()
	raw, _ := c.Encode(&Box{Cmd: 1, Payload: []byte("abcdef")})
	if _, err := c.Decode(raw[:len(raw)-2]); !errors.Is(err, codec.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReplyKeepsCorrelation(t *testing.T) {
	testlog.Start(t)

	c := New()
	req := &Box{Version: 1, Cmd: 9, Sn: 5}
	rsp := c.Reply(req, codec.RetInvalidCommand, nil).(*Box)
	if rsp.Cmd != 9 || rsp.Sn != 5 || rsp.Ret != codec.RetInvalidCommand {
		t.Fatalf("unexpected reply: %+v", rsp)
	}
}
