// Package conn tracks connection liveness for the simulation tick.
package conn

import (
	"fmt"
	"sort"
	"time"
)

// ID is minted by the transport and never reused while the connection is
// live.
type ID uint64

type State uint8

const (
	Connecting State = iota
	Established
	TimedOut
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type Record struct {
	ID         ID
	Reader     *Cursor
	CreatedAt  time.Time
	LastPingAt time.Time
	State      State
}

// Registry holds one Record per live connection. Only the simulation
// goroutine touches it.
type Registry struct {
	now     func() time.Time
	records map[ID]*Record
}

// NewRegistry returns an empty registry. now defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, records: map[ID]*Record{}}
}

// OnConnect records a freshly accepted connection. Registering an id that is
// already live is a bug in the transport and panics.
func (r *Registry) OnConnect(id ID, reader *Cursor) *Record {
	if _, ok := r.records[id]; ok {
		panic(fmt.Sprintf("conn: duplicate live connection id %d", id))
	}
	t := r.now()
	rec := &Record{ID: id, Reader: reader, CreatedAt: t, LastPingAt: t, State: Connecting}
	r.records[id] = rec
	return rec
}

// Establish marks the handshake as complete.
func (r *Registry) Establish(id ID) bool {
	rec, ok := r.records[id]
	if !ok || rec.State != Connecting {
		return false
	}
	rec.State = Established
	return true
}

// OnPing refreshes the liveness timestamp. Unknown ids are ignored; a ping
// can race with the sweep that removed the connection.
func (r *Registry) OnPing(id ID) {
	if rec, ok := r.records[id]; ok {
		rec.LastPingAt = r.now()
	}
}

// SweepTimeouts removes every connection silent for longer than timeout and
// returns their ids in ascending order. Their cursors are released.
func (r *Registry) SweepTimeouts(now time.Time, timeout time.Duration) []ID {
	var out []ID
	for id, rec := range r.records {
		if now.Sub(rec.LastPingAt) > timeout {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	for _, id := range out {
		rec := r.records[id]
		rec.State = TimedOut
		rec.Reader.Release()
		delete(r.records, id)
	}
	return out
}

// Close removes a connection on explicit disconnect.
func (r *Registry) Close(id ID) (*Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	rec.State = Closed
	rec.Reader.Release()
	delete(r.records, id)
	return rec, true
}

func (r *Registry) Get(id ID) (*Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Registry) Len() int { return len(r.records) }

// IDs returns live connection ids in ascending order.
func (r *Registry) IDs() []ID {
	out := make([]ID, 0, len(r.records))
	for id := range r.records {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EstablishedIDs returns the ids that completed the handshake, ascending.
func (r *Registry) EstablishedIDs() []ID {
	var out []ID
	for _, id := range r.IDs() {
		if r.records[id].State == Established {
			out = append(out, id)
		}
	}
	return out
}
