package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/protocol/ipc"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/danmuck/boxrelay/internal/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Link is the worker's side of its group queues.
type Link interface {
	router.Sink
	Next() (ipc.Job, error)
	Stop() error
	Close() error
}

type Config struct {
	JobTimeout       time.Duration
	WatchdogInterval time.Duration
	RespondOnce      bool
	// Exit terminates the process; defaults to os.Exit.
	Exit func(code int)
}

// Worker serves jobs from one link, strictly one at a time.
type Worker struct {
	cfg        Config
	info       router.WorkerInfo
	link       Link
	dispatcher *router.Dispatcher
	watchdog   *Watchdog
	logger     zerolog.Logger

	stopping atomic.Bool
	quitting atomic.Bool
	served   atomic.Uint64
}

// NewInfo builds the identity of the current process for group.
func NewInfo(group string) router.WorkerInfo {
	return router.WorkerInfo{
		ID:    uuid.NewString(),
		Group: group,
		PID:   os.Getpid(),
	}
}

// Attach dials the group socket named by target and introduces the worker.
func Attach(ctx context.Context, target Target, info router.WorkerInfo, cfg queue.LinkConfig) (*queue.Link, error) {
	hello := ipc.Hello{WorkerID: info.ID, PID: info.PID, Group: target.Group}
	l, err := queue.Dial(ctx, target.Socket, hello, cfg)
	if err != nil {
		return nil, fmt.Errorf("worker: attach group %q: %w", target.Group, err)
	}
	return l, nil
}

func New(cfg Config, info router.WorkerInfo, r *router.Router, c codec.Codec, link Link) *Worker {
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	w := &Worker{
		cfg:  cfg,
		info: info,
		link: link,
		logger: log.With().
			Str("role", "worker").
			Str("group", info.Group).
			Str("worker_id", info.ID).
			Int("pid", info.PID).
			Logger(),
	}
	w.dispatcher = router.NewDispatcher(r, c, link, info, router.WithRespondOnce(cfg.RespondOnce))
	w.watchdog = NewWatchdog(cfg.JobTimeout, cfg.WatchdogInterval, cfg.Exit)
	return w
}

func (w *Worker) Info() router.WorkerInfo {
	return w.info
}

// Served counts jobs taken off the link.
func (w *Worker) Served() uint64 {
	return w.served.Load()
}

// Run fires create_worker hooks and serves jobs until stopped. Cancelling
// ctx is a graceful stop.
func (w *Worker) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.watchdog.Run(runCtx)
	go func() {
		<-runCtx.Done()
		if ctx.Err() != nil {
			w.Stop()
		}
	}()

	w.dispatcher.CreateWorker()
	w.logger.Info().Dur("job_timeout", w.cfg.JobTimeout).Msg("worker.Run started")

	for !w.stopping.Load() {
		job, err := w.link.Next()
		if err != nil {
			if errors.Is(err, queue.ErrStopped) || w.stopping.Load() {
				break
			}
			return fmt.Errorf("worker: next job: %w", err)
		}
		w.serve(job)
	}
	w.logger.Info().Uint64("served", w.served.Load()).Msg("worker.Run stopped")
	return nil
}

func (w *Worker) serve(job ipc.Job) {
	w.served.Add(1)
	w.watchdog.Begin(fmt.Sprintf("conn_id=%d address=%s bytes=%d", job.ConnID, job.Address, len(job.Data)))
	outcome := w.dispatcher.Serve(job.ConnID, job.Address, job.Data)
	w.watchdog.End()
	w.logger.Debug().
		Int64("conn_id", job.ConnID).
		Str("outcome", string(outcome)).
		Msg("worker job done")
}

// Stop stops accepting jobs. The job in flight, and one already handed to
// this worker, still complete.
func (w *Worker) Stop() {
	if w.stopping.Swap(true) {
		return
	}
	w.logger.Info().Msg("worker.Stop requested")
	if err := w.link.Stop(); err != nil {
		w.logger.Warn().Err(err).Msg("worker.Stop link stop failed")
	}
}
