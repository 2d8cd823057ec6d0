package frontend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/danmuck/boxrelay/internal/protocol/ipc"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/rs/zerolog/log"
)

// RouteFunc picks the worker group for a decoded frame. It must be pure.
type RouteFunc func(codec.Frame) string

var ErrNoGroups = errors.New("frontend: no worker groups")

// Bridge moves frames from connections onto group queues and results from
// group queues back onto connections.
type Bridge struct {
	loop   *Loop
	table  *Table
	codec  codec.Codec
	route  RouteFunc
	groups map[string]*queue.Group
	order  []string
}

// NewBridge wires groups in declaration order. A nil route sends every frame
// to the first group.
func NewBridge(loop *Loop, table *Table, c codec.Codec, route RouteFunc, groups ...*queue.Group) (*Bridge, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	b := &Bridge{
		loop:   loop,
		table:  table,
		codec:  c,
		route:  route,
		groups: make(map[string]*queue.Group, len(groups)),
	}
	for _, g := range groups {
		if _, dup := b.groups[g.Name()]; dup {
			return nil, fmt.Errorf("frontend: duplicate group %q", g.Name())
		}
		b.groups[g.Name()] = g
		b.order = append(b.order, g.Name())
	}
	if b.route == nil {
		first := b.order[0]
		b.route = func(codec.Frame) string { return first }
	}
	return b, nil
}

// OnBytes feeds a chunk through the connection's framer and enqueues every
// complete frame. Runs on the loop; a full inbound queue blocks it.
func (b *Bridge) OnBytes(ctx context.Context, c *Conn, chunk []byte) {
	if c.State() != StateOpen {
		return
	}
	frames, err := c.framer.Feed(chunk)
	for _, raw := range frames {
		observability.RecordFrame(observability.FrameComplete)
		b.dispatch(ctx, c, raw)
	}
	if err != nil {
		observability.RecordFrame(observability.FrameDiscarded)
		log.Warn().
			Err(err).
			Int64("conn_id", c.ID()).
			Str("address", c.Address()).
			Msg("frontend.Bridge buffer invalid")
	}
}

func (b *Bridge) dispatch(ctx context.Context, c *Conn, raw []byte) {
	f, err := b.codec.Decode(raw)
	if err != nil {
		observability.RecordFrame(observability.FrameUnroutable)
		log.Error().
			Err(err).
			Int64("conn_id", c.ID()).
			Int("bytes", len(raw)).
			Msg("frontend.Bridge decode failed")
		return
	}
	name := b.route(f)
	g, ok := b.groups[name]
	if !ok {
		observability.RecordFrame(observability.FrameUnroutable)
		log.Warn().
			Int64("conn_id", c.ID()).
			Str("cmd", f.Command()).
			Str("group", name).
			Msg("frontend.Bridge unknown group")
		return
	}
	job := ipc.Job{ConnID: c.ID(), Address: c.Address(), Data: raw}
	if err := g.Enqueue(ctx, job); err != nil {
		observability.RecordJob(name, observability.JobDropped)
		log.Warn().
			Err(err).
			Int64("conn_id", c.ID()).
			Str("group", name).
			Msg("frontend.Bridge enqueue failed")
		return
	}
	observability.RecordJob(name, observability.JobEnqueued)
}

// StartDrain runs one result consumer per group until ctx is cancelled.
func (b *Bridge) StartDrain(ctx context.Context, wg *sync.WaitGroup) {
	for _, name := range b.order {
		g := b.groups[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.drain(ctx, g)
		}()
	}
}

func (b *Bridge) drain(ctx context.Context, g *queue.Group) {
	for {
		res, err := g.Receive(ctx)
		if err != nil {
			return
		}
		name := g.Name()
		if !b.loop.Post(func() { b.Deliver(name, res) }) {
			observability.RecordResult(name, observability.ResultDropped)
			return
		}
	}
}

// Deliver writes a result to its connection. Runs on the loop. Results for
// connections that are gone or finishing are dropped.
func (b *Bridge) Deliver(group string, res ipc.Result) {
	c, ok := b.table.Get(res.ConnID)
	if !ok || c.State() != StateOpen {
		observability.RecordResult(group, observability.ResultDropped)
		log.Debug().
			Int64("conn_id", res.ConnID).
			Str("group", group).
			Msg("frontend.Bridge result for closed connection dropped")
		return
	}
	if len(res.Data) > 0 {
		c.Write(res.Data)
	}
	if res.Close {
		c.Write(nil)
	}
	observability.RecordResult(group, observability.ResultDelivered)
}

// Groups lists group names in declaration order.
func (b *Bridge) Groups() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}
