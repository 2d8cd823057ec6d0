package router

import (
	"errors"
	"fmt"

	"github.com/danmuck/boxrelay/internal/codec"
)

var (
	ErrAlreadyResponded = errors.New("router: request already responded")
	ErrNoSink           = errors.New("router: request has no response sink")
)

// Sink pushes serialized responses toward the originating connection. A nil
// data slice with closeConn set asks the front end to finish the connection.
type Sink interface {
	Push(connID int64, data []byte, closeConn bool) error
}

// Request is one job as seen by hooks and handlers.
type Request struct {
	ConnID  int64
	Address string
	Raw     []byte
	Frame   codec.Frame
	Match   Match
	Worker  WorkerInfo

	// Values is scratch space shared by hooks and the handler.
	Values map[string]any

	dispatcher  *Dispatcher
	responded   bool
	interrupted bool
}

// Command is the decoded routing key, empty when decoding failed.
func (r *Request) Command() string {
	if r.Frame == nil {
		return ""
	}
	return r.Frame.Command()
}

// Body is the decoded frame body.
func (r *Request) Body() []byte {
	if r.Frame == nil {
		return nil
	}
	return r.Frame.Body()
}

func (r *Request) Module() *Module {
	return r.Match.Module
}

func (r *Request) Endpoint() string {
	if r.Match.Rule.Handler == nil {
		return ""
	}
	return r.Match.Endpoint()
}

func (r *Request) Responded() bool {
	return r.responded
}

func (r *Request) Interrupted() bool {
	return r.interrupted
}

// Write encodes f with the worker's codec and pushes it to the connection.
func (r *Request) Write(f codec.Frame) error {
	if r.dispatcher == nil {
		return ErrNoSink
	}
	data, err := r.dispatcher.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("router: encode response: %w", err)
	}
	return r.WriteRaw(data)
}

// Reply answers with the codec's response frame for this request.
func (r *Request) Reply(ret int32, body []byte) error {
	if r.dispatcher == nil {
		return ErrNoSink
	}
	return r.Write(r.dispatcher.codec.Reply(r.Frame, ret, body))
}

// WriteRaw pushes already-encoded bytes.
func (r *Request) WriteRaw(data []byte) error {
	if r.dispatcher == nil {
		return ErrNoSink
	}
	if r.dispatcher.respondOnce && r.responded {
		return ErrAlreadyResponded
	}
	if err := r.dispatcher.push(r, data, false); err != nil {
		return err
	}
	r.responded = true
	return nil
}

// Close asks the front end to flush pending writes and close the connection.
func (r *Request) Close() error {
	if r.dispatcher == nil {
		return ErrNoSink
	}
	return r.dispatcher.push(r, nil, true)
}

// Interrupt answers from a before_request hook and skips the handler. After
// hooks still run.
func (r *Request) Interrupt(ret int32, body []byte) error {
	r.interrupted = true
	if r.responded {
		return nil
	}
	return r.Reply(ret, body)
}

func (r *Request) String() string {
	return fmt.Sprintf("conn_id=%d address=%s cmd=%q endpoint=%q", r.ConnID, r.Address, r.Command(), r.Endpoint())
}
