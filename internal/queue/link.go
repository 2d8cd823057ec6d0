package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/boxrelay/internal/protocol/ipc"
	"github.com/danmuck/boxrelay/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped  = errors.New("queue: link stopped")
	ErrRejected = errors.New("queue: result rejected")
)

// Link is a worker's attachment to its group socket. Next and Push must be
// called from one goroutine; Stop may be called from any.
type Link struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    LinkConfig

	writeMu   sync.Mutex
	nextID    atomic.Uint64
	stopSent  atomic.Bool
	stopAcked bool
}

// Dial connects to a group socket, retrying with backoff while the front end
// is still binding it.
func Dial(ctx context.Context, path string, hello ipc.Hello, cfg LinkConfig) (*Link, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	var lastErr error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "unix", path)
		if err == nil {
			return NewLink(conn, hello, cfg)
		}
		lastErr = err
		delay := cfg.Backoff.Delay(attempt, rng)
		log.Debug().
			Err(err).
			Str("socket", path).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("queue.Dial failed")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("queue: dial %s: %w", path, lastErr)
}

// NewLink sends hello on an established connection.
func NewLink(conn net.Conn, hello ipc.Hello, cfg LinkConfig) (*Link, error) {
	l := &Link{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg.WithDefaults(),
	}
	raw, err := ipc.EncodeHelloFrame(hello)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := l.write(raw); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: write hello: %w", err)
	}
	return l, nil
}

// Next announces readiness and blocks until a job arrives. It returns
// ErrStopped once the broker acknowledged Stop.
func (l *Link) Next() (ipc.Job, error) {
	if l.stopAcked {
		return ipc.Job{}, ErrStopped
	}
	raw, err := ipc.EncodeControlFrame(l.nextID.Add(1), schema.MsgReady)
	if err != nil {
		return ipc.Job{}, err
	}
	if err := l.write(raw); err != nil {
		return ipc.Job{}, err
	}
	for {
		fr, err := ipc.ReadFrame(l.reader)
		if err != nil {
			return ipc.Job{}, err
		}
		switch fr.Header.MessageType {
		case schema.MsgJob:
			return ipc.DecodeJobFrame(fr)
		case schema.MsgStopAck:
			l.stopAcked = true
			return ipc.Job{}, ErrStopped
		default:
			return ipc.Job{}, fmt.Errorf("queue: unexpected %s while waiting for job", schema.Name(fr.Header.MessageType))
		}
	}
}

// Push sends one result and waits until the broker placed it on the outbound
// queue.
func (l *Link) Push(connID int64, data []byte, closeConn bool) error {
	id := l.nextID.Add(1)
	raw, err := ipc.EncodeResultFrame(id, ipc.Result{ConnID: connID, Data: data, Close: closeConn})
	if err != nil {
		return err
	}
	if err := l.write(raw); err != nil {
		return err
	}
	for {
		fr, err := ipc.ReadFrame(l.reader)
		if err != nil {
			return err
		}
		switch fr.Header.MessageType {
		case schema.MsgResultAck:
			accepted, reason, err := ipc.DecodeResultAckFrame(fr)
			if err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("%w: %s", ErrRejected, reason)
			}
			return nil
		case schema.MsgStopAck:
			l.stopAcked = true
		default:
			return fmt.Errorf("queue: unexpected %s while waiting for result.ack", schema.Name(fr.Header.MessageType))
		}
	}
}

// Stop asks the broker to withdraw this worker from its group. A job already
// sent is still delivered by Next.
func (l *Link) Stop() error {
	if l.stopSent.Swap(true) {
		return nil
	}
	raw, err := ipc.EncodeControlFrame(l.nextID.Add(1), schema.MsgStop)
	if err != nil {
		return err
	}
	return l.write(raw)
}

func (l *Link) Close() error {
	return l.conn.Close()
}

func (l *Link) write(raw []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	_, err := l.conn.Write(raw)
	return err
}
