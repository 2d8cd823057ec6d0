package frontend

import (
	"net"

	"github.com/danmuck/boxrelay/internal/framer"
)

type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one client connection. All methods run on the loop; only the
// writer goroutine touches the socket for writes.
type Conn struct {
	id      int64
	address string
	framer  *framer.Framer
	state   State
	pending int

	nc       net.Conn
	out      *mailbox[[]byte]
	loop     *Loop
	onClosed func(*Conn)
}

func newConn(loop *Loop, nc net.Conn, checker framer.Checker, onClosed func(*Conn)) *Conn {
	address := ""
	if addr := nc.RemoteAddr(); addr != nil {
		address = addr.String()
	}
	return &Conn{
		address:  address,
		framer:   framer.New(checker),
		state:    StateOpen,
		nc:       nc,
		out:      newMailbox[[]byte](),
		loop:     loop,
		onClosed: onClosed,
	}
}

func (c *Conn) ID() int64 {
	return c.id
}

func (c *Conn) Address() string {
	return c.address
}

func (c *Conn) State() State {
	return c.state
}

// Pending is the number of writes queued but not yet on the socket.
func (c *Conn) Pending() int {
	return c.pending
}

// Write queues data for the socket. A nil data finishes the connection: it
// moves to closing and closes once every queued write is flushed. Writes on
// a connection that is not open are dropped.
func (c *Conn) Write(data []byte) bool {
	if c.state != StateOpen {
		return false
	}
	if data == nil {
		c.state = StateClosing
		if c.pending == 0 {
			c.Close()
		}
		return true
	}
	if len(data) == 0 {
		return true
	}
	c.pending++
	c.out.put(data)
	return true
}

// Close drops pending writes and closes the socket.
func (c *Conn) Close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.out.close()
	_ = c.nc.Close()
	if c.onClosed != nil {
		c.onClosed(c)
	}
}

func (c *Conn) wrote(n int) {
	c.pending -= n
	if c.pending < 0 {
		c.pending = 0
	}
	if c.state == StateClosing && c.pending == 0 {
		c.Close()
	}
}

// writeLoop owns socket writes for c until the mailbox closes.
func (c *Conn) writeLoop() {
	for {
		<-c.out.wake
		items, ok := c.out.drain()
		for i, data := range items {
			if _, err := c.nc.Write(data); err != nil {
				dropped := len(items) - i
				c.loop.Post(func() {
					c.wrote(dropped)
					c.Close()
				})
				return
			}
		}
		if n := len(items); n > 0 {
			c.loop.Post(func() { c.wrote(n) })
		}
		if !ok {
			return
		}
	}
}
