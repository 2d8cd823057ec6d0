package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/rs/zerolog/log"
)

const DefaultChunkSize = 64 * 1024

type ServerConfig struct {
	ChunkSize int
}

// CloseHook observes a connection leaving the table.
type CloseHook func(connID int64, address string)

// Server accepts client connections and runs them on one Loop.
type Server struct {
	cfg    ServerConfig
	codec  codec.Codec
	loop   *Loop
	table  *Table
	bridge *Bridge

	closeHooks []CloseHook
	io         sync.WaitGroup
}

func NewServer(cfg ServerConfig, c codec.Codec, route RouteFunc, groups ...*queue.Group) (*Server, error) {
	if c == nil {
		return nil, fmt.Errorf("frontend: codec required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	loop := NewLoop()
	table := NewTable()
	bridge, err := NewBridge(loop, table, c, route, groups...)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		codec:  c,
		loop:   loop,
		table:  table,
		bridge: bridge,
	}, nil
}

// OnClose registers a hook fired on the loop after a connection closed.
// Register before Serve.
func (s *Server) OnClose(fn CloseHook) {
	if fn != nil {
		s.closeHooks = append(s.closeHooks, fn)
	}
}

func (s *Server) Loop() *Loop {
	return s.loop
}

func (s *Server) Bridge() *Bridge {
	return s.bridge
}

// Connections reports the live connection count from the loop.
func (s *Server) Connections(ctx context.Context) (int, error) {
	var n int
	err := s.loop.Call(ctx, func() { n = s.table.Len() })
	return n, err
}

// Serve runs the loop, the group drains and the accept loop until ctx is
// cancelled, then closes every connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go s.loop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-s.loop.Done()
	}()

	var drains sync.WaitGroup
	s.bridge.StartDrain(ctx, &drains)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	log.Info().Str("addr", ln.Addr().String()).Strs("groups", s.bridge.Groups()).Msg("frontend.Server listening")

	var serveErr error
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = err
			}
			break
		}
		s.loop.Post(func() { s.open(ctx, nc) })
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.loop.Call(closeCtx, s.closeAll)
	drains.Wait()
	s.io.Wait()
	return serveErr
}

func (s *Server) open(ctx context.Context, nc net.Conn) {
	if ctx.Err() != nil {
		_ = nc.Close()
		return
	}
	c := newConn(s.loop, nc, s.codec, s.closed)
	s.table.Add(c)
	observability.ConnectionOpened()
	log.Debug().Int64("conn_id", c.ID()).Str("address", c.Address()).Msg("frontend.Server connection opened")

	s.io.Add(2)
	go func() {
		defer s.io.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.io.Done()
		s.readLoop(ctx, c)
	}()
}

// readLoop hands one chunk at a time to the loop and waits for it to be
// consumed before reading again, so a full inbound queue stalls the socket.
func (s *Server) readLoop(ctx context.Context, c *Conn) {
	buf := make([]byte, s.cfg.ChunkSize)
	consumed := make(chan struct{}, 1)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.loop.Post(func() {
				defer func() { consumed <- struct{}{} }()
				s.bridge.OnBytes(ctx, c, chunk)
			}) {
				return
			}
			select {
			case <-consumed:
			case <-s.loop.Done():
				return
			}
		}
		if err != nil {
			s.loop.Post(c.Close)
			return
		}
	}
}

func (s *Server) closed(c *Conn) {
	s.table.Remove(c)
	observability.ConnectionClosed()
	log.Debug().Int64("conn_id", c.ID()).Str("address", c.Address()).Msg("frontend.Server connection closed")
	for _, fn := range s.closeHooks {
		s.fireClose(fn, c)
	}
}

func (s *Server) fireClose(fn CloseHook, c *Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int64("conn_id", c.ID()).Str("panic", fmt.Sprint(r)).Msg("frontend.Server close hook panicked")
		}
	}()
	fn(c.ID(), c.Address())
}

func (s *Server) closeAll() {
	var conns []*Conn
	s.table.Each(func(c *Conn) { conns = append(conns, c) })
	for _, c := range conns {
		c.Close()
	}
}
