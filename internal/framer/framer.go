// Package framer carves complete frames out of a live byte stream using a
// codec's incremental checker.
package framer

import (
	"errors"

	"github.com/danmuck/boxrelay/internal/codec"
)

var ErrBufferDiscarded = errors.New("framer: buffer discarded")

// Checker is the subset of codec.Codec the framer needs.
type Checker interface {
	Check(buf []byte) codec.CheckResult
}

// Framer holds the unparsed bytes of one connection. It is not safe for
// concurrent use; the owning connection serializes calls.
type Framer struct {
	checker Checker
	buf     []byte
}

func New(checker Checker) *Framer {
	return &Framer{checker: checker}
}

// Feed appends chunk and returns every complete frame now available, in
// stream order. Returned slices are owned by the caller. When the codec
// reports an invalid prefix the whole buffer is dropped and the frames
// extracted before that point are returned together with ErrBufferDiscarded.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	consumed := false
	for len(f.buf) > 0 {
		res := f.checker.Check(f.buf)
		switch res.Status {
		case codec.NeedMore:
			f.compact(consumed)
			return frames, nil
		case codec.Complete:
			if res.Length <= 0 {
				f.buf = nil
				return frames, ErrBufferDiscarded
			}
			if len(f.buf) < res.Length {
				f.compact(consumed)
				return frames, nil
			}
			frame := make([]byte, res.Length)
			copy(frame, f.buf[:res.Length])
			frames = append(frames, frame)
			f.buf = f.buf[res.Length:]
			consumed = true
		default:
			f.buf = nil
			return frames, ErrBufferDiscarded
		}
	}
	f.buf = nil
	return frames, nil
}

// Buffered is the number of bytes waiting for more input.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.buf = nil
}

// compact copies a partial tail into its own backing array once frames were
// sliced off the front, so long-lived connections do not pin old chunks.
func (f *Framer) compact(consumed bool) {
	if !consumed {
		return
	}
	next := make([]byte, len(f.buf))
	copy(next, f.buf)
	f.buf = next
}
