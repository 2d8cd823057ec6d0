package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultWatchdogInterval = time.Second
	TimeoutExitCode         = 1
)

// Watchdog terminates the process when one job runs longer than the timeout.
// A zero timeout disables it.
type Watchdog struct {
	timeout  time.Duration
	interval time.Duration
	exit     func(code int)
	now      func() time.Time

	mu      sync.Mutex
	active  bool
	began   time.Time
	request string
	fired   bool
}

func NewWatchdog(timeout, interval time.Duration, exit func(code int)) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{
		timeout:  timeout,
		interval: interval,
		exit:     exit,
		now:      time.Now,
	}
}

// Begin marks a job in flight; request describes it for the timeout log.
func (w *Watchdog) Begin(request string) {
	w.mu.Lock()
	w.active = true
	w.began = w.now()
	w.request = request
	w.mu.Unlock()
}

func (w *Watchdog) End() {
	w.mu.Lock()
	w.active = false
	w.request = ""
	w.mu.Unlock()
}

// Check fires the exit function if the current job overran. It reports
// whether it fired.
func (w *Watchdog) Check() bool {
	if w.timeout <= 0 {
		return false
	}
	w.mu.Lock()
	if !w.active || w.fired {
		w.mu.Unlock()
		return false
	}
	elapsed := w.now().Sub(w.began)
	if elapsed <= w.timeout {
		w.mu.Unlock()
		return false
	}
	w.fired = true
	request := w.request
	w.mu.Unlock()

	log.Error().
		Dur("elapsed", elapsed).
		Dur("job_timeout", w.timeout).
		Str("request", request).
		Msg("worker.Watchdog job timeout, terminating worker")
	if w.exit != nil {
		w.exit(TimeoutExitCode)
	}
	return true
}

// Run checks every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if w.Check() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
