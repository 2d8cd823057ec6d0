package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/danmuck/boxrelay/internal/protocol/frame"
	"github.com/danmuck/boxrelay/internal/protocol/ipc"
	"github.com/danmuck/boxrelay/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var ErrUnknownGroup = errors.New("queue: unknown group")

// LinkInfo describes one attached worker for introspection.
type LinkInfo struct {
	Group      string    `json:"group"`
	WorkerID   string    `json:"worker_id"`
	PID        int       `json:"pid"`
	AttachedAt time.Time `json:"attached_at"`
	Jobs       uint64    `json:"jobs"`
	Results    uint64    `json:"results"`
}

// Broker hosts one unix socket per group and moves queue messages across
// attached worker links.
type Broker struct {
	dir    string
	cfg    LinkConfig
	groups map[string]*Group

	mu        sync.Mutex
	listeners map[string]net.Listener
	sessions  map[*brokerSession]struct{}
	wg        sync.WaitGroup
}

func NewBroker(dir string, cfg LinkConfig, groups ...*Group) *Broker {
	b := &Broker{
		dir:       dir,
		cfg:       cfg.WithDefaults(),
		groups:    make(map[string]*Group, len(groups)),
		listeners: make(map[string]net.Listener),
		sessions:  make(map[*brokerSession]struct{}),
	}
	for _, g := range groups {
		b.groups[g.Name()] = g
	}
	return b
}

// SocketPath is the unix socket a group's workers dial.
func (b *Broker) SocketPath(group string) string {
	return filepath.Join(b.dir, group+".sock")
}

func (b *Broker) Group(name string) (*Group, bool) {
	g, ok := b.groups[name]
	return g, ok
}

// Listen binds every group socket. Stale socket files are removed first.
func (b *Broker) Listen() error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("queue: create socket dir: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.groups {
		if _, ok := b.listeners[name]; ok {
			continue
		}
		path := b.SocketPath(name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("queue: remove stale socket %s: %w", path, err)
		}
		ln, err := net.Listen("unix", path)
		if err != nil {
			return fmt.Errorf("queue: listen %s: %w", path, err)
		}
		b.listeners[name] = ln
		log.Debug().Str("group", name).Str("socket", path).Msg("queue.Broker listening")
	}
	return nil
}

// Serve accepts worker links on every group socket until ctx is cancelled.
func (b *Broker) Serve(ctx context.Context) error {
	if err := b.Listen(); err != nil {
		return err
	}
	b.mu.Lock()
	listeners := make(map[string]net.Listener, len(b.listeners))
	for name, ln := range b.listeners {
		listeners[name] = ln
	}
	b.mu.Unlock()

	errCh := make(chan error, len(listeners))
	for name, ln := range listeners {
		go func(g *Group, ln net.Listener) {
			errCh <- b.acceptLoop(ctx, g, ln)
		}(b.groups[name], ln)
	}

	var first error
	for range listeners {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	b.closeSessions()
	b.wg.Wait()
	b.removeSockets()
	return first
}

func (b *Broker) acceptLoop(ctx context.Context, g *Group, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s := &brokerSession{
			broker: b,
			group:  g,
			conn:   conn,
			reader: bufio.NewReader(conn),
		}
		b.track(s)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.untrack(s)
			s.run(ctx)
		}()
	}
}

// Links lists attached workers ordered by group then attach time.
func (b *Broker) Links() []LinkInfo {
	b.mu.Lock()
	out := make([]LinkInfo, 0, len(b.sessions))
	for s := range b.sessions {
		if info, ok := s.info(); ok {
			out = append(out, info)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].AttachedAt.Before(out[j].AttachedAt)
	})
	return out
}

func (b *Broker) track(s *brokerSession) {
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) untrack(s *brokerSession) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

func (b *Broker) closeSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.sessions {
		_ = s.conn.Close()
	}
}

func (b *Broker) removeSockets() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.listeners {
		_ = os.Remove(b.SocketPath(name))
		delete(b.listeners, name)
	}
}

// brokerSession serves one attached worker.
type brokerSession struct {
	broker *Broker
	group  *Group
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	helloMu    sync.Mutex
	hello      ipc.Hello
	attached   bool
	attachedAt time.Time

	jobs    atomic.Uint64
	results atomic.Uint64

	pullCancel context.CancelFunc
	pullDone   chan struct{}
	stopped    bool
}

func (s *brokerSession) info() (LinkInfo, bool) {
	s.helloMu.Lock()
	defer s.helloMu.Unlock()
	if !s.attached {
		return LinkInfo{}, false
	}
	return LinkInfo{
		Group:      s.group.Name(),
		WorkerID:   s.hello.WorkerID,
		PID:        s.hello.PID,
		AttachedAt: s.attachedAt,
		Jobs:       s.jobs.Load(),
		Results:    s.results.Load(),
	}, true
}

func (s *brokerSession) run(ctx context.Context) {
	defer s.conn.Close()
	defer s.cancelPull()

	hello, err := s.handshake()
	if err != nil {
		log.Warn().Err(err).Str("group", s.group.Name()).Msg("queue.Broker handshake failed")
		return
	}
	observability.LinkAttached(s.group.Name())
	defer observability.LinkDetached(s.group.Name())

	logger := log.With().
		Str("group", s.group.Name()).
		Str("worker_id", hello.WorkerID).
		Int("pid", hello.PID).
		Logger()
	logger.Info().Msg("queue.Broker worker attached")
	defer logger.Info().
		Uint64("jobs", s.jobs.Load()).
		Uint64("results", s.results.Load()).
		Msg("queue.Broker worker detached")

	for {
		fr, err := ipc.ReadFrame(s.reader)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("queue.Broker link read ended")
			}
			return
		}
		switch fr.Header.MessageType {
		case schema.MsgReady:
			s.startPull(ctx)
		case schema.MsgResult:
			if err := s.handleResult(ctx, fr); err != nil {
				logger.Warn().Err(err).Msg("queue.Broker result handling failed")
				return
			}
		case schema.MsgStop:
			s.cancelPull()
			s.stopped = true
			if err := s.writeControl(fr.Header.MessageID, schema.MsgStopAck); err != nil {
				logger.Warn().Err(err).Msg("queue.Broker write stop.ack failed")
				return
			}
			logger.Info().Msg("queue.Broker worker stopping")
		default:
			logger.Warn().
				Str("message_type", schema.Name(fr.Header.MessageType)).
				Msg("queue.Broker unexpected message")
			return
		}
	}
}

func (s *brokerSession) handshake() (ipc.Hello, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.broker.cfg.HandshakeTimeout))
	fr, err := ipc.ReadFrame(s.reader)
	if err != nil {
		return ipc.Hello{}, err
	}
	hello, err := ipc.DecodeHelloFrame(fr)
	if err != nil {
		return ipc.Hello{}, err
	}
	if hello.Group != s.group.Name() {
		return ipc.Hello{}, fmt.Errorf("%w: worker declared %q on %q socket", ErrUnknownGroup, hello.Group, s.group.Name())
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	s.helloMu.Lock()
	s.hello = hello
	s.attached = true
	s.attachedAt = time.Now()
	s.helloMu.Unlock()
	return hello, nil
}

// startPull waits for one job on behalf of the idle worker. A ready received
// after stop is ignored.
func (s *brokerSession) startPull(ctx context.Context) {
	if s.stopped {
		return
	}
	s.finishPull()
	pullCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.pullCancel = cancel
	s.pullDone = done

	go func() {
		defer close(done)
		job, err := s.group.Take(pullCtx)
		if err != nil {
			return
		}
		id := s.jobs.Add(1)
		raw, err := ipc.EncodeJobFrame(id, job)
		if err == nil {
			err = s.write(raw)
		}
		if err != nil {
			observability.RecordJob(s.group.Name(), observability.JobDropped)
			log.Error().
				Err(err).
				Str("group", s.group.Name()).
				Int64("conn_id", job.ConnID).
				Msg("queue.Broker job lost")
		}
	}()
}

// cancelPull stops a pending pull and waits so no job frame can follow.
func (s *brokerSession) cancelPull() {
	if s.pullDone == nil {
		return
	}
	s.pullCancel()
	s.finishPull()
}

// finishPull waits for the previous pull to hand off its job. Workers send
// ready or result only after their previous job arrived.
func (s *brokerSession) finishPull() {
	if s.pullDone == nil {
		return
	}
	<-s.pullDone
	s.pullCancel()
	s.pullCancel = nil
	s.pullDone = nil
}

// handleResult publishes before acknowledging so a full outbound queue holds
// the worker.
func (s *brokerSession) handleResult(ctx context.Context, fr frame.Frame) error {
	s.finishPull()
	res, err := ipc.DecodeResultFrame(fr)
	if err != nil {
		return s.writeAck(fr.Header.MessageID, false, err.Error())
	}
	if err := s.group.Publish(ctx, res); err != nil {
		return s.writeAck(fr.Header.MessageID, false, err.Error())
	}
	s.results.Add(1)
	return s.writeAck(fr.Header.MessageID, true, "")
}

func (s *brokerSession) writeAck(id uint64, accepted bool, reason string) error {
	raw, err := ipc.EncodeResultAckFrame(id, accepted, reason)
	if err != nil {
		return err
	}
	return s.write(raw)
}

func (s *brokerSession) writeControl(id uint64, messageType uint32) error {
	raw, err := ipc.EncodeControlFrame(id, messageType)
	if err != nil {
		return err
	}
	return s.write(raw)
}

func (s *brokerSession) write(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.broker.cfg.WriteTimeout))
	_, err := s.conn.Write(raw)
	return err
}
