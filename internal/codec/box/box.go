// Package box implements a fixed binary header codec.
//
// Layout (big-endian): magic u32, version i16, flag i32, packet_len i32,
// cmd i32, ret i32, sn i32, then body. packet_len covers header and body.
package box

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/danmuck/boxrelay/internal/codec"
)

const (
	Magic        uint32 = 2037952207
	HeaderLen           = 26
	MaxPacketLen        = 8 * 1024 * 1024
)

// Box is one decoded frame.
type Box struct {
	Version int16
	Flag    int32
	Cmd     int32
	Ret     int32
	Sn      int32
	Payload []byte
}

func (b *Box) Command() string {
	return strconv.FormatInt(int64(b.Cmd), 10)
}

func (b *Box) Body() []byte {
	return b.Payload
}

// PacketLen is the encoded size of b.
func (b *Box) PacketLen() int {
	return HeaderLen + len(b.Payload)
}

// Codec is the box codec. The zero value uses MaxPacketLen.
type Codec struct {
	MaxPacketLen int
}

var _ codec.Codec = Codec{}

func New() Codec {
	return Codec{MaxPacketLen: MaxPacketLen}
}

func (c Codec) limit() int {
	if c.MaxPacketLen <= 0 {
		return MaxPacketLen
	}
	return c.MaxPacketLen
}

// Check rejects a bad magic as soon as four bytes are buffered.
func (c Codec) Check(buf []byte) codec.CheckResult {
	if len(buf) >= 4 && binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return codec.InvalidResult()
	}
	if len(buf) < HeaderLen {
		return codec.NeedMoreResult()
	}
	n := int(int32(binary.BigEndian.Uint32(buf[10:14])))
	if n < HeaderLen || n > c.limit() {
		return codec.InvalidResult()
	}
	return codec.CompleteResult(n)
}

func (c Codec) Decode(b []byte) (codec.Frame, error) {
	res := c.Check(b)
	switch res.Status {
	case codec.NeedMore:
		return nil, codec.ErrTruncated
	case codec.Invalid:
		return nil, codec.ErrInvalidFrame
	}
	if len(b) < res.Length {
		return nil, codec.ErrTruncated
	}
	if len(b) > res.Length {
		return nil, fmt.Errorf("%w: %d trailing bytes", codec.ErrInvalidFrame, len(b)-res.Length)
	}
	out := &Box{
		Version: int16(binary.BigEndian.Uint16(b[4:6])),
		Flag:    int32(binary.BigEndian.Uint32(b[6:10])),
		Cmd:     int32(binary.BigEndian.Uint32(b[14:18])),
		Ret:     int32(binary.BigEndian.Uint32(b[18:22])),
		Sn:      int32(binary.BigEndian.Uint32(b[22:26])),
	}
	if res.Length > HeaderLen {
		out.Payload = make([]byte, res.Length-HeaderLen)
		copy(out.Payload, b[HeaderLen:res.Length])
	}
	return out, nil
}

func (c Codec) Encode(f codec.Frame) ([]byte, error) {
	b, err := asBox(f)
	if err != nil {
		return nil, err
	}
	n := b.PacketLen()
	if n > c.limit() {
		return nil, codec.ErrTooLarge
	}
	buf := make([]byte, n)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(b.Version))
	binary.BigEndian.PutUint32(buf[6:10], uint32(b.Flag))
	binary.BigEndian.PutUint32(buf[10:14], uint32(n))
	binary.BigEndian.PutUint32(buf[14:18], uint32(b.Cmd))
	binary.BigEndian.PutUint32(buf[18:22], uint32(b.Ret))
	binary.BigEndian.PutUint32(buf[22:26], uint32(b.Sn))
	copy(buf[HeaderLen:], b.Payload)
	return buf, nil
}

func (c Codec) Reply(req codec.Frame, ret int32, body []byte) codec.Frame {
	out := &Box{Ret: ret, Payload: body}
	if in, ok := req.(*Box); ok && in != nil {
		out.Version = in.Version
		out.Flag = in.Flag
		out.Cmd = in.Cmd
		out.Sn = in.Sn
	}
	return out
}

func asBox(f codec.Frame) (*Box, error) {
	switch v := f.(type) {
	case *Box:
		if v == nil {
			return nil, codec.ErrInvalidFrame
		}
		return v, nil
	case nil:
		return nil, codec.ErrInvalidFrame
	default:
		cmd, err := strconv.ParseInt(f.Command(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: box command must be numeric: %q", codec.ErrInvalidFrame, f.Command())
		}
		return &Box{Cmd: int32(cmd), Payload: f.Body()}, nil
	}
}
