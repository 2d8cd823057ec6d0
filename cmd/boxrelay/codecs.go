package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/codec/box"
	"github.com/danmuck/boxrelay/internal/codec/jsonbox"
)

const (
	codecBox  = "box"
	codecJSON = "json"
)

func codecByName(name string) (codec.Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case codecBox:
		return box.New(), nil
	case codecJSON:
		return jsonbox.New(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want %s or %s)", name, codecBox, codecJSON)
	}
}

// requestFrame builds the sn-th request for cmd in the named codec.
func requestFrame(name, cmd string, sn int, body []byte) (codec.Frame, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case codecBox:
		n, err := strconv.ParseInt(cmd, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("box commands are numeric: %q", cmd)
		}
		return &box.Box{Cmd: int32(n), Sn: int32(sn), Payload: body}, nil
	case codecJSON:
		if len(body) > 0 && !json.Valid(body) {
			body = []byte(strconv.Quote(string(body)))
		}
		return &jsonbox.Message{Cmd: cmd, Sn: int64(sn), Data: body}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// replyFields extracts sn and ret from a decoded reply.
func replyFields(f codec.Frame) (sn int64, ret int32) {
	switch m := f.(type) {
	case *box.Box:
		return int64(m.Sn), m.Ret
	case *jsonbox.Message:
		return m.Sn, m.Ret
	}
	return 0, 0
}

// textBody renders s as a body both codecs carry: a JSON string.
func textBody(s string) []byte {
	return []byte(strconv.Quote(s))
}
