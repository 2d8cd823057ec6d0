package main

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/router"
	"github.com/rs/zerolog/log"
)

const (
	cmdEcho  = "1"
	cmdBye   = "99"
	cmdTime  = "1001"
	cmdSleep = "2001"

	// retBadRequest answers malformed request bodies.
	retBadRequest int32 = 400
)

var errBadSleep = errors.New("sleep body must be a millisecond count")

func demoRouter() (*router.Router, error) {
	r := router.New()
	if err := r.Handle(cmdEcho, "echo", echo); err != nil {
		return nil, err
	}
	if err := r.Handle(cmdBye, "bye", bye); err != nil {
		return nil, err
	}
	r.Hooks().OnCreateWorker(func(info router.WorkerInfo) {
		log.Info().Str("worker_id", info.ID).Int("pid", info.PID).Msg("worker ready")
	})
	r.Hooks().OnAfterRequest(func(req *router.Request, err error) {
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("endpoint", req.Endpoint()).Msg("request served")
	})

	clock := router.NewModule("clock")
	if err := clock.Handle(cmdTime, "now", now); err != nil {
		return nil, err
	}
	if err := r.Register(clock); err != nil {
		return nil, err
	}

	slow := router.NewModule("slow")
	if err := slow.Handle(cmdSleep, "sleep", sleep); err != nil {
		return nil, err
	}
	slow.OnBeforeRequest(func(req *router.Request) {
		if _, err := sleepDuration(req.Body()); err != nil {
			_ = req.Interrupt(retBadRequest, textBody(err.Error()))
		}
	})
	if err := r.Register(slow); err != nil {
		return nil, err
	}
	return r, nil
}

func echo(req *router.Request) error {
	return req.Reply(codec.RetOK, req.Body())
}

func bye(req *router.Request) error {
	if err := req.Reply(codec.RetOK, textBody("bye")); err != nil {
		return err
	}
	return req.Close()
}

func now(req *router.Request) error {
	return req.Reply(codec.RetOK, textBody(time.Now().UTC().Format(time.RFC3339Nano)))
}

// sleep holds the worker for the requested time; long values trip the job
// watchdog.
func sleep(req *router.Request) error {
	d, err := sleepDuration(req.Body())
	if err != nil {
		return err
	}
	time.Sleep(d)
	return req.Reply(codec.RetOK, textBody(d.String()))
}

func sleepDuration(body []byte) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || ms < 0 {
		return 0, errBadSleep
	}
	return time.Duration(ms) * time.Millisecond, nil
}
