package conn

import "ghoulrush.io/internal/protocol"

// Cursor is the tick-side end of a connection's inbound queue. The
// transport reader is the only producer; the simulation tick is the only
// consumer, so the cursor needs no locking.
type Cursor struct {
	in       <-chan protocol.Message
	pos      uint64
	released bool
}

func NewCursor(in <-chan protocol.Message) *Cursor {
	return &Cursor{in: in}
}

// Poll hands up to max queued messages to fn without blocking and returns
// how many it consumed. max <= 0 means no limit. A closed producer or a
// released cursor yields nothing.
func (c *Cursor) Poll(max int, fn func(protocol.Message)) int {
	if c == nil || c.released || c.in == nil {
		return 0
	}
	n := 0
	for max <= 0 || n < max {
		select {
		case m, ok := <-c.in:
			if !ok {
				c.in = nil
				return n
			}
			c.pos++
			n++
			fn(m)
		default:
			return n
		}
	}
	return n
}

// Position is the number of messages consumed so far.
func (c *Cursor) Position() uint64 { return c.pos }

// Closed reports whether the producer closed its end.
func (c *Cursor) Closed() bool { return c.in == nil }

// Release detaches the cursor. Later polls return nothing.
func (c *Cursor) Release() {
	if c == nil {
		return
	}
	c.released = true
	c.in = nil
}

func (c *Cursor) Released() bool { return c.released }
