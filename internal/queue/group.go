package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/danmuck/boxrelay/internal/protocol/ipc"
)

const DefaultCapacity = 1024

var ErrInvalidCapacity = errors.New("queue: invalid capacity")

// Group is the inbound/outbound queue pair shared by one worker group.
type Group struct {
	name     string
	inbound  chan ipc.Job
	outbound chan ipc.Result
}

// NewGroup builds a queue pair. A zero capacity selects DefaultCapacity.
func NewGroup(name string, inboundCap, outboundCap int) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("queue: group name required")
	}
	if inboundCap < 0 || outboundCap < 0 {
		return nil, fmt.Errorf("%w: group=%q inbound=%d outbound=%d", ErrInvalidCapacity, name, inboundCap, outboundCap)
	}
	if inboundCap == 0 {
		inboundCap = DefaultCapacity
	}
	if outboundCap == 0 {
		outboundCap = DefaultCapacity
	}
	return &Group{
		name:     name,
		inbound:  make(chan ipc.Job, inboundCap),
		outbound: make(chan ipc.Result, outboundCap),
	}, nil
}

func (g *Group) Name() string {
	return g.name
}

// Enqueue places a job on the inbound queue, blocking while it is full.
func (g *Group) Enqueue(ctx context.Context, job ipc.Job) error {
	select {
	case g.inbound <- job:
		observability.SetQueueDepth(g.name, observability.DirectionInbound, len(g.inbound))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take removes the oldest job, blocking while the queue is empty.
func (g *Group) Take(ctx context.Context) (ipc.Job, error) {
	select {
	case job := <-g.inbound:
		observability.SetQueueDepth(g.name, observability.DirectionInbound, len(g.inbound))
		return job, nil
	case <-ctx.Done():
		return ipc.Job{}, ctx.Err()
	}
}

// Publish places a result on the outbound queue, blocking while it is full.
func (g *Group) Publish(ctx context.Context, res ipc.Result) error {
	select {
	case g.outbound <- res:
		observability.SetQueueDepth(g.name, observability.DirectionOutbound, len(g.outbound))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive removes the oldest result, blocking while the queue is empty.
func (g *Group) Receive(ctx context.Context) (ipc.Result, error) {
	select {
	case res := <-g.outbound:
		observability.SetQueueDepth(g.name, observability.DirectionOutbound, len(g.outbound))
		return res, nil
	case <-ctx.Done():
		return ipc.Result{}, ctx.Err()
	}
}

// Depth reports buffered messages in each direction.
func (g *Group) Depth() (inbound, outbound int) {
	return len(g.inbound), len(g.outbound)
}

func (g *Group) Capacity() (inbound, outbound int) {
	return cap(g.inbound), cap(g.outbound)
}
