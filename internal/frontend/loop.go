package frontend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Loop runs posted functions one at a time, in post order, on the goroutine
// that called Run.
type Loop struct {
	box  *mailbox[func()]
	done chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		box:  newMailbox[func()](),
		done: make(chan struct{}),
	}
}

// Post schedules fn from any goroutine. It never blocks and reports false
// once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	return l.box.put(fn)
}

// Call posts fn and waits for it to run.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return fmt.Errorf("frontend: loop stopped")
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions until ctx is cancelled. Functions already
// queued at cancellation still run.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-l.box.wake:
		case <-ctx.Done():
			l.box.close()
		}
		items, ok := l.box.drain()
		for _, fn := range items {
			l.run(fn)
		}
		if !ok {
			return
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("frontend.Loop task panicked")
		}
	}()
	fn()
}
