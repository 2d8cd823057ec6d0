// Package jsonbox implements a length-prefixed JSON envelope codec with
// string commands such as "user.login".
package jsonbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/danmuck/boxrelay/internal/codec"
)

const (
	PrefixLen     = 4
	MaxMessageLen = 4 * 1024 * 1024
)

// Message is one decoded envelope.
type Message struct {
	Cmd  string          `json:"cmd"`
	Ret  int32           `json:"ret,omitempty"`
	Sn   int64           `json:"sn,omitempty"`
	Data json.RawMessage `json:"body,omitempty"`
}

func (m *Message) Command() string {
	return m.Cmd
}

func (m *Message) Body() []byte {
	return m.Data
}

type Codec struct {
	MaxMessageLen int
}

var _ codec.Codec = Codec{}

func New() Codec {
	return Codec{MaxMessageLen: MaxMessageLen}
}

func (c Codec) limit() int {
	if c.MaxMessageLen <= 0 {
		return MaxMessageLen
	}
	return c.MaxMessageLen
}

func (c Codec) Check(buf []byte) codec.CheckResult {
	if len(buf) < PrefixLen {
		return codec.NeedMoreResult()
	}
	n := int(binary.BigEndian.Uint32(buf[:PrefixLen]))
	if n == 0 || n > c.limit() {
		return codec.InvalidResult()
	}
	// JSON objects always open with '{'; anything else is a desync.
	if len(buf) > PrefixLen && buf[PrefixLen] != '{' {
		return codec.InvalidResult()
	}
	return codec.CompleteResult(PrefixLen + n)
}

func (c Codec) Decode(b []byte) (codec.Frame, error) {
	res := c.Check(b)
	switch res.Status {
	case codec.NeedMore:
		return nil, codec.ErrTruncated
	case codec.Invalid:
		return nil, codec.ErrInvalidFrame
	}
	if len(b) != res.Length {
		return nil, fmt.Errorf("%w: length %d want %d", codec.ErrTruncated, len(b), res.Length)
	}
	var msg Message
	if err := json.Unmarshal(b[PrefixLen:], &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrInvalidFrame, err)
	}
	return &msg, nil
}

func (c Codec) Encode(f codec.Frame) ([]byte, error) {
	if f == nil {
		return nil, codec.ErrInvalidFrame
	}
	msg, ok := f.(*Message)
	if !ok {
		msg = &Message{Cmd: f.Command(), Data: f.Body()}
	}
	if len(msg.Data) > 0 && !json.Valid(msg.Data) {
		return nil, fmt.Errorf("%w: body is not valid json", codec.ErrInvalidFrame)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > c.limit() {
		return nil, codec.ErrTooLarge
	}
	out := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint32(out[:PrefixLen], uint32(len(payload)))
	copy(out[PrefixLen:], payload)
	return out, nil
}

func (c Codec) Reply(req codec.Frame, ret int32, body []byte) codec.Frame {
	out := &Message{Ret: ret, Data: body}
	if req != nil {
		out.Cmd = req.Command()
	}
	if in, ok := req.(*Message); ok && in != nil {
		out.Sn = in.Sn
	}
	return out
}
