package codec

import (
	"errors"
	"strconv"
)

// Result codes written into synthesized responses.
const (
	RetOK             int32 = 0
	RetInvalidCommand int32 = -10000
	RetInternal       int32 = -10001
)

var (
	ErrInvalidFrame = errors.New("codec: invalid frame")
	ErrTruncated    = errors.New("codec: truncated frame")
	ErrTooLarge     = errors.New("codec: frame too large")
)

// CheckStatus classifies a buffer prefix.
type CheckStatus int

const (
	NeedMore CheckStatus = iota
	Complete
	Invalid
)

func (s CheckStatus) String() string {
	switch s {
	case NeedMore:
		return "need_more"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of Codec.Check. Length is only meaningful when
// Status is Complete and may exceed the number of bytes buffered so far.
type CheckResult struct {
	Status CheckStatus
	Length int
}

func NeedMoreResult() CheckResult {
	return CheckResult{Status: NeedMore}
}

func CompleteResult(n int) CheckResult {
	return CheckResult{Status: Complete, Length: n}
}

func InvalidResult() CheckResult {
	return CheckResult{Status: Invalid}
}

// Frame is one decoded protocol message.
type Frame interface {
	// Command is the routing key. Numeric commands render in base 10.
	Command() string
	Body() []byte
}

// Codec parses and serializes one message at a time.
type Codec interface {
	Check(buf []byte) CheckResult
	Decode(b []byte) (Frame, error)
	Encode(f Frame) ([]byte, error)
	// Reply builds a response frame for req carrying a result code and body.
	Reply(req Frame, ret int32, body []byte) Frame
}

// IsNumeric reports whether a command is purely numeric.
func IsNumeric(cmd string) bool {
	if cmd == "" {
		return false
	}
	_, err := strconv.ParseInt(cmd, 10, 64)
	return err == nil
}
