package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// StartupSignals covers the window before HandleSignals: SIGINT is ignored
// from here on, and a stop signal cancels the returned context instead of
// killing the process.
func StartupSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	signal.Ignore(syscall.SIGINT)
	return signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
}

// HandleSignals installs the worker process signal handlers until ctx is
// cancelled.
func (w *Worker) HandleSignals(ctx context.Context) {
	signal.Ignore(syscall.SIGINT)
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case sig := <-ch:
				w.HandleSignal(sig)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleSignal applies one signal. Repeated SIGQUIT exits once.
func (w *Worker) HandleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM, syscall.SIGHUP:
		w.logger.Info().Str("signal", sig.String()).Msg("worker graceful stop")
		w.Stop()
	case syscall.SIGQUIT:
		if w.quitting.Swap(true) {
			return
		}
		w.logger.Warn().Str("signal", sig.String()).Msg("worker exiting")
		w.stopping.Store(true)
		w.cfg.Exit(0)
	}
}
