package router

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/rs/zerolog/log"
)

var ErrHandlerPanic = errors.New("router: handler panicked")

// Outcome classifies how one job went through the pipeline.
type Outcome string

const (
	OutcomeHandled        Outcome = "handled"
	OutcomeInterrupted    Outcome = "interrupted"
	OutcomeFailed         Outcome = "failed"
	OutcomeInvalidCommand Outcome = "invalid_command"
	OutcomeInvalidFrame   Outcome = "invalid_frame"
)

type Option func(*Dispatcher)

// WithRespondOnce limits each request to one data response. Enabled by default.
func WithRespondOnce(v bool) Option {
	return func(d *Dispatcher) {
		d.respondOnce = v
	}
}

// Dispatcher runs the routing and hook pipeline for one worker process. It is
// strictly sequential: one Serve call at a time.
type Dispatcher struct {
	router      *Router
	codec       codec.Codec
	sink        Sink
	info        WorkerInfo
	respondOnce bool
	gotFirst    bool
}

func NewDispatcher(r *Router, c codec.Codec, sink Sink, info WorkerInfo, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:      r,
		codec:       c,
		sink:        sink,
		info:        info,
		respondOnce: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateWorker fires create_worker hooks: app scope, then each module.
func (d *Dispatcher) CreateWorker() {
	d.router.hooks.fireCreateWorker(d.info)
	for _, m := range d.router.modules {
		m.app.fireCreateWorker(d.info)
	}
}

// Serve decodes, routes and handles one raw frame.
func (d *Dispatcher) Serve(connID int64, address string, raw []byte) Outcome {
	req := &Request{
		ConnID:     connID,
		Address:    address,
		Raw:        raw,
		Worker:     d.info,
		Values:     make(map[string]any),
		dispatcher: d,
	}

	f, err := d.codec.Decode(raw)
	if err != nil {
		log.Error().
			Err(err).
			Int64("conn_id", connID).
			Str("address", address).
			Int("bytes", len(raw)).
			Msg("router.Dispatcher.Serve decode failed")
		return OutcomeInvalidFrame
	}
	req.Frame = f

	match, ok := d.router.Resolve(f.Command())
	if !ok {
		log.Info().
			Int64("conn_id", connID).
			Str("cmd", f.Command()).
			Msg("router.Dispatcher.Serve cmd invalid")
		if !req.responded {
			_ = req.Reply(codec.RetInvalidCommand, nil)
		}
		return OutcomeInvalidCommand
	}
	req.Match = match

	if !d.gotFirst {
		d.gotFirst = true
		d.router.hooks.fireBeforeFirstRequest(req)
		for _, m := range d.router.modules {
			m.app.fireBeforeFirstRequest(req)
		}
	}

	d.router.hooks.fireBeforeRequest(req)
	for _, m := range d.router.modules {
		m.app.fireBeforeRequest(req)
	}
	if match.Module != nil {
		match.Module.own.fireBeforeRequest(req)
	}

	outcome := OutcomeInterrupted
	var handlerErr error
	if !req.interrupted {
		outcome = OutcomeHandled
		handlerErr = d.invoke(req)
		if handlerErr != nil {
			outcome = OutcomeFailed
			log.Error().
				Err(handlerErr).
				Int64("conn_id", connID).
				Str("address", address).
				Str("cmd", req.Command()).
				Str("endpoint", req.Endpoint()).
				Str("worker_id", d.info.ID).
				Msg("router.Dispatcher.Serve handler failed")
			if !req.responded {
				_ = req.Reply(codec.RetInternal, nil)
			}
		}
	}

	if match.Module != nil {
		match.Module.own.fireAfterRequest(req, handlerErr)
	}
	for _, m := range d.router.modules {
		m.app.fireAfterRequest(req, handlerErr)
	}
	d.router.hooks.fireAfterRequest(req, handlerErr)
	return outcome
}

func (d *Dispatcher) invoke(req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			log.Error().
				Str("request", req.String()).
				Bytes("stack", debug.Stack()).
				Msg("router.Dispatcher.invoke recovered panic")
		}
	}()
	return req.Match.Rule.Handler(req)
}

// push wraps the sink with response hooks: app before, modules before, push,
// modules after, app after.
func (d *Dispatcher) push(req *Request, data []byte, closeConn bool) error {
	if d.sink == nil {
		return ErrNoSink
	}
	d.router.hooks.fireBeforeResponse(req, data)
	for _, m := range d.router.modules {
		m.app.fireBeforeResponse(req, data)
	}

	err := d.sink.Push(req.ConnID, data, closeConn)
	if err != nil {
		log.Error().
			Err(err).
			Int64("conn_id", req.ConnID).
			Bool("close", closeConn).
			Int("bytes", len(data)).
			Msg("router.Dispatcher.push failed")
	}

	for _, m := range d.router.modules {
		m.app.fireAfterResponse(req, data, err)
	}
	d.router.hooks.fireAfterResponse(req, data, err)
	return err
}
