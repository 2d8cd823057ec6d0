package framer

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/boxrelay/internal/codec/box"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func encodeBox(t *testing.T, cmd int32, body string) []byte {
	t.Helper()
	raw, err := box.New().Encode(&box.Box{Cmd: cmd, Payload: []byte(body)})
	if err != nil {
		t.Fatalf("encode box: %v", err)
	}
	return raw
}

func TestFeedSplitFrameYieldsOne(t *testing.T) {
	testlog.Start(t)

	raw := encodeBox(t, 1, "0123456789")
	f := New(box.New())

	frames, err := f.Feed(raw[:12])
	if err != nil || len(frames) != 0 {
		t.Fatalf("first chunk: frames=%d err=%v", len(frames), err)
	}
	frames, err = f.Feed(raw[12:])
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], raw) {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	if f.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d", f.Buffered())
	}
}

func TestFeedTwoConcatenatedFrames(t *testing.T) {
	testlog.Start(t)

	a := encodeBox(t, 1, "a")
	b := encodeBox(t, 2, "bb")
	f := New(box.New())

	frames, err := f.Feed(append(append([]byte{}, a...), b...))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Fatalf("frames out of order")
	}
}

func TestFeedGarbageDiscardsThenResyncs(t *testing.T) {
	testlog.Start(t)

	f := New(box.New())
	garbage := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 8)
	frames, err := f.Feed(garbage)
	if !errors.Is(err, ErrBufferDiscarded) {
		t.Fatalf("expected ErrBufferDiscarded, got %v", err)
	}
	if len(frames) != 0 || f.Buffered() != 0 {
		t.Fatalf("expected discarded buffer, frames=%d buffered=%d", len(frames), f.Buffered())
	}

	raw := encodeBox(t, 7, "ok")
	frames, err = f.Feed(raw)
	if err != nil || len(frames) != 1 || !bytes.Equal(frames[0], raw) {
		t.Fatalf("resync failed: frames=%d err=%v", len(frames), err)
	}
}

func TestFeedShortGarbageIsDiscardedAndNextFrameParses(t *testing.T) {
	testlog.Start(t)

	f := New(box.New())
	frames, err := f.Feed([]byte{1, 2, 3, 4})
	if !errors.Is(err, ErrBufferDiscarded) || len(frames) != 0 {
		t.Fatalf("bad magic should be discarded: frames=%d err=%v", len(frames), err)
	}
	raw := encodeBox(t, 3, "x")
	frames, err = f.Feed(raw)
	if err != nil || len(frames) != 1 || !bytes.Equal(frames[0], raw) {
		t.Fatalf("next valid frame not parsed: frames=%d err=%v", len(frames), err)
	}
}

func TestFeedPartialMagicWaits(t *testing.T) {
	testlog.Start(t)

	f := New(box.New())
	raw := encodeBox(t, 3, "x")
	frames, err := f.Feed(raw[:3])
	if err != nil || len(frames) != 0 || f.Buffered() != 3 {
		t.Fatalf("partial magic should wait: frames=%d err=%v buffered=%d", len(frames), err, f.Buffered())
	}
	frames, err = f.Feed(raw[3:])
	if err != nil || len(frames) != 1 {
		t.Fatalf("frame not completed: frames=%d err=%v", len(frames), err)
	}
}

func TestFeedChunkBoundaryIndependence(t *testing.T) {
	testlog.Start(t)

	var stream []byte
	for i := 0; i < 20; i++ {
		stream = append(stream, encodeBox(t, int32(i), string(bytes.Repeat([]byte{'x'}, i*3)))...)
	}

	whole, err := New(box.New()).Feed(stream)
	if err != nil {
		t.Fatalf("whole feed: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		f := New(box.New())
		var got [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			frames, err := f.Feed(rest[:n])
			if err != nil {
				t.Fatalf("trial %d: feed: %v", trial, err)
			}
			got = append(got, frames...)
			rest = rest[n:]
		}
		if len(got) != len(whole) {
			t.Fatalf("trial %d: got %d frames want %d", trial, len(got), len(whole))
		}
		for i := range got {
			if !bytes.Equal(got[i], whole[i]) {
				t.Fatalf("trial %d: frame %d differs", trial, i)
			}
		}
	}
}
