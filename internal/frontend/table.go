package frontend

import "math"

// IDAllocator hands out connection ids starting at 1. After MaxInt64 it wraps
// back to 1 without checking live ids.
type IDAllocator struct {
	last int64
}

func (a *IDAllocator) Next() int64 {
	if a.last >= math.MaxInt64 || a.last < 0 {
		a.last = 0
	}
	a.last++
	return a.last
}

// Table is the live connection registry. It is owned by the loop and holds
// the only reference to each Conn; everyone else keeps the id and resolves
// through Get, treating a miss as normal.
type Table struct {
	ids   IDAllocator
	conns map[int64]*Conn
}

func NewTable() *Table {
	return &Table{conns: make(map[int64]*Conn)}
}

// Add assigns an id to c and registers it.
func (t *Table) Add(c *Conn) int64 {
	id := t.ids.Next()
	c.id = id
	t.conns[id] = c
	return id
}

func (t *Table) Get(id int64) (*Conn, bool) {
	c, ok := t.conns[id]
	return c, ok
}

// Remove unregisters id only if it still maps to c.
func (t *Table) Remove(c *Conn) {
	if cur, ok := t.conns[c.id]; ok && cur == c {
		delete(t.conns, c.id)
	}
}

func (t *Table) Len() int {
	return len(t.conns)
}

// Each visits live connections; fn must not add or remove entries.
func (t *Table) Each(fn func(*Conn)) {
	for _, c := range t.conns {
		fn(c)
	}
}
