package router

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// WorkerInfo identifies the worker process running the pipeline.
type WorkerInfo struct {
	ID    string
	Group string
	PID   int
}

type (
	WorkerHook        func(WorkerInfo)
	RequestHook       func(*Request)
	AfterRequestHook  func(*Request, error)
	ResponseHook      func(*Request, []byte)
	AfterResponseHook func(*Request, []byte, error)
)

// Hooks holds lifecycle callbacks in registration order.
type Hooks struct {
	createWorker       []WorkerHook
	beforeFirstRequest []RequestHook
	beforeRequest      []RequestHook
	afterRequest       []AfterRequestHook
	beforeResponse     []ResponseHook
	afterResponse      []AfterResponseHook
}

func (h *Hooks) OnCreateWorker(fn WorkerHook) {
	if fn != nil {
		h.createWorker = append(h.createWorker, fn)
	}
}

func (h *Hooks) OnBeforeFirstRequest(fn RequestHook) {
	if fn != nil {
		h.beforeFirstRequest = append(h.beforeFirstRequest, fn)
	}
}

func (h *Hooks) OnBeforeRequest(fn RequestHook) {
	if fn != nil {
		h.beforeRequest = append(h.beforeRequest, fn)
	}
}

// OnAfterRequest hooks receive the handler error, including recovered panics.
func (h *Hooks) OnAfterRequest(fn AfterRequestHook) {
	if fn != nil {
		h.afterRequest = append(h.afterRequest, fn)
	}
}

func (h *Hooks) OnBeforeResponse(fn ResponseHook) {
	if fn != nil {
		h.beforeResponse = append(h.beforeResponse, fn)
	}
}

func (h *Hooks) OnAfterResponse(fn AfterResponseHook) {
	if fn != nil {
		h.afterResponse = append(h.afterResponse, fn)
	}
}

func (h *Hooks) fireCreateWorker(info WorkerInfo) {
	for _, fn := range h.createWorker {
		safeCall("create_worker", func() { fn(info) })
	}
}

func (h *Hooks) fireBeforeFirstRequest(req *Request) {
	for _, fn := range h.beforeFirstRequest {
		safeCall("before_first_request", func() { fn(req) })
	}
}

func (h *Hooks) fireBeforeRequest(req *Request) {
	for _, fn := range h.beforeRequest {
		safeCall("before_request", func() { fn(req) })
	}
}

func (h *Hooks) fireAfterRequest(req *Request, err error) {
	for _, fn := range h.afterRequest {
		safeCall("after_request", func() { fn(req, err) })
	}
}

func (h *Hooks) fireBeforeResponse(req *Request, data []byte) {
	for _, fn := range h.beforeResponse {
		safeCall("before_response", func() { fn(req, data) })
	}
}

func (h *Hooks) fireAfterResponse(req *Request, data []byte, err error) {
	for _, fn := range h.afterResponse {
		safeCall("after_response", func() { fn(req, data, err) })
	}
}

// safeCall keeps a failing hook from aborting the pipeline.
func safeCall(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("phase", phase).
				Str("panic", fmt.Sprint(r)).
				Msg("router hook panicked")
		}
	}()
	fn()
}
