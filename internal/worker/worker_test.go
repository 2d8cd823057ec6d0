package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/codec/box"
	"github.com/danmuck/boxrelay/internal/protocol/ipc"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/danmuck/boxrelay/internal/router"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

type fakeLink struct {
	jobs     chan ipc.Job
	stopped  chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	pushes []ipc.Result
	pushed chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		jobs:    make(chan ipc.Job, 16),
		stopped: make(chan struct{}),
		pushed:  make(chan struct{}, 64),
	}
}

func (l *fakeLink) Next() (ipc.Job, error) {
	select {
	case job := <-l.jobs:
		return job, nil
	case <-l.stopped:
		return ipc.Job{}, queue.ErrStopped
	}
}

func (l *fakeLink) Push(connID int64, data []byte, closeConn bool) error {
	l.mu.Lock()
	l.pushes = append(l.pushes, ipc.Result{ConnID: connID, Data: data, Close: closeConn})
	l.mu.Unlock()
	l.pushed <- struct{}{}
	return nil
}

func (l *fakeLink) Stop() error {
	l.stopOnce.Do(func() { close(l.stopped) })
	return nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) results() []ipc.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ipc.Result, len(l.pushes))
	copy(out, l.pushes)
	return out
}

func (l *fakeLink) waitPushes(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.pushed:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for push %d", i+1)
		}
	}
}

func jobFor(t *testing.T, connID int64, cmd, sn int32) ipc.Job {
	t.Helper()
	raw, err := box.New().Encode(&box.Box{Cmd: cmd, Sn: sn})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return ipc.Job{ConnID: connID, Address: "127.0.0.1:1", Data: raw}
}

func decodeRet(t *testing.T, raw []byte) (int32, int32) {
	t.Helper()
	f, err := box.New().Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := f.(*box.Box)
	return b.Ret, b.Sn
}

func runWorker(t *testing.T, w *Worker) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	return done
}

func TestWorkerServesJobsInOrderAndStops(t *testing.T) {
	testlog.Start(t)

	r := router.New()
	created := make(chan router.WorkerInfo, 1)
	r.Hooks().OnCreateWorker(func(info router.WorkerInfo) { created <- info })
	_ = r.Handle("1", "echo", func(req *router.Request) error { return req.Reply(codec.RetOK, nil) })
	_ = r.Handle("2", "boom", func(*router.Request) error { panic("boom") })
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	link := newFakeLink()
	info := NewInfo("default")
	w := New(Config{RespondOnce: true}, info, r, box.New(), link)
	done := runWorker(t, w)

	select {
	case got := <-created:
		if got.ID != info.ID || got.Group != "default" {
			t.Fatalf("unexpected create_worker info: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("create_worker hook not fired")
	}

	link.jobs <- jobFor(t, 1, 1, 10)
	link.jobs <- jobFor(t, 1, 2, 11)
	link.jobs <- jobFor(t, 1, 1, 12)
	link.jobs <- jobFor(t, 1, 777, 13)
	link.waitPushes(t, 4)

	want := []struct{ ret, sn int32 }{
		{codec.RetOK, 10},
		{codec.RetInternal, 11},
		{codec.RetOK, 12},
		{codec.RetInvalidCommand, 13},
	}
	for i, res := range link.results() {
		ret, sn := decodeRet(t, res.Data)
		if ret != want[i].ret || sn != want[i].sn {
			t.Fatalf("result %d: ret=%d sn=%d want %+v", i, ret, sn, want[i])
		}
	}

	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if w.Served() != 4 {
		t.Fatalf("unexpected served count: %d", w.Served())
	}
}

func TestWorkerFinishesCurrentJobOnTerminate(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	started := make(chan struct{})
	r := router.New()
	_ = r.Handle("1", "slow", func(req *router.Request) error {
		close(started)
		<-release
		return req.Reply(codec.RetOK, nil)
	})
	_ = r.Validate()

	link := newFakeLink()
	w := New(Config{RespondOnce: true}, NewInfo("default"), r, box.New(), link)
	done := runWorker(t, w)

	link.jobs <- jobFor(t, 5, 1, 1)
	<-started
	w.HandleSignal(syscall.SIGTERM)
	close(release)
	link.waitPushes(t, 1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit after finishing the job")
	}
	if ret, _ := decodeRet(t, link.results()[0].Data); ret != codec.RetOK {
		t.Fatalf("in-flight job should complete, ret=%d", ret)
	}
}

func TestWorkerQuitExitsOnce(t *testing.T) {
	testlog.Start(t)

	var mu sync.Mutex
	var codes []int
	exit := func(code int) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	}
	r := router.New()
	_ = r.Validate()
	w := New(Config{Exit: exit}, NewInfo("default"), r, box.New(), newFakeLink())

	w.HandleSignal(syscall.SIGINT)
	w.HandleSignal(syscall.SIGQUIT)
	w.HandleSignal(syscall.SIGQUIT)

	mu.Lock()
	defer mu.Unlock()
	if len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("expected one exit(0), got %v", codes)
	}
}

func TestWorkerJobTimeoutKillsProcess(t *testing.T) {
	testlog.Start(t)

	exited := make(chan int, 1)
	block := make(chan struct{})
	defer close(block)

	r := router.New()
	_ = r.Handle("1", "stuck", func(*router.Request) error {
		<-block
		return nil
	})
	_ = r.Validate()

	link := newFakeLink()
	defer link.Stop()
	w := New(Config{
		JobTimeout:       50 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
		Exit:             func(code int) { exited <- code },
	}, NewInfo("default"), r, box.New(), link)
	runWorker(t, w)

	link.jobs <- jobFor(t, 1, 1, 1)
	select {
	case code := <-exited:
		if code != TimeoutExitCode {
			t.Fatalf("unexpected exit code: %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog did not fire")
	}
}

func TestWatchdogCheck(t *testing.T) {
	testlog.Start(t)

	now := time.Unix(1700000000, 0)
	fired := 0
	wd := NewWatchdog(time.Second, 0, func(int) { fired++ })
	wd.now = func() time.Time { return now }

	if wd.Check() {
		t.Fatalf("idle watchdog must not fire")
	}
	wd.Begin("conn_id=1")
	now = now.Add(time.Second)
	if wd.Check() {
		t.Fatalf("must not fire at exactly the timeout")
	}
	wd.End()
	now = now.Add(10 * time.Second)
	if wd.Check() {
		t.Fatalf("finished job must not fire")
	}

	wd.Begin("conn_id=2")
	now = now.Add(1500 * time.Millisecond)
	if !wd.Check() {
		t.Fatalf("expected fire after overrun")
	}
	if wd.Check() || fired != 1 {
		t.Fatalf("expected a single fire, got %d", fired)
	}

	disabled := NewWatchdog(0, 0, func(int) { t.Fatalf("disabled watchdog fired") })
	disabled.Begin("x")
	if disabled.Check() {
		t.Fatalf("disabled watchdog reported fire")
	}
}

func TestTargetFromEnv(t *testing.T) {
	testlog.Start(t)

	t.Setenv(EnvWorker, "true")
	t.Setenv(EnvGroup, "")
	t.Setenv(EnvSocket, "/tmp/x.sock")
	if !IsWorkerProcess() {
		t.Fatalf("expected worker role")
	}
	if _, err := TargetFromEnv(); err == nil {
		t.Fatalf("expected error for missing group")
	}
	t.Setenv(EnvGroup, "default")
	target, err := TargetFromEnv()
	if err != nil || target.Group != "default" || target.Socket != "/tmp/x.sock" {
		t.Fatalf("unexpected target: %+v err=%v", target, err)
	}

	env := Env("g", "/s")
	if len(env) != 3 || env[0] != EnvWorker+"=true" {
		t.Fatalf("unexpected env: %v", env)
	}
}

func TestRunReturnsLinkError(t *testing.T) {
	testlog.Start(t)

	r := router.New()
	_ = r.Validate()
	w := New(Config{}, NewInfo("default"), r, box.New(), brokenLink{})
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected link error")
	}
}

type brokenLink struct{}

func (brokenLink) Next() (ipc.Job, error)         { return ipc.Job{}, errors.New("eof") }
func (brokenLink) Push(int64, []byte, bool) error { return nil }
func (brokenLink) Stop() error                    { return nil }
func (brokenLink) Close() error                   { return nil }

func TestStartupSignalsIgnoreInterruptAndCancelOnTerm(t *testing.T) {
	testlog.Start(t)
	ctx, stop := StartupSignals(context.Background())
	defer stop()

	if !signal.Ignored(syscall.SIGINT) {
		t.Fatalf("SIGINT should be ignored during startup")
	}
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("SIGTERM did not cancel the startup context")
	}
}
