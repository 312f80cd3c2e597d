// Package netid maps local entity handles to network identifiers that are
// stable across the server and every client.
//
// A Registry is owned by the simulation goroutine; it is not safe for
// concurrent use.
package netid

import (
	"fmt"
	"math"
	"sort"
)

// ID is a process-unique network identifier. Zero means "none".
type ID uint64

// LocalBase is the first identifier of the client-minted range. Server
// identifiers stay below it, so a locally predicted entity never collides
// with one the server assigned.
const LocalBase ID = 1 << 63

// IsLocal reports whether id was minted by a client registry.
func (id ID) IsLocal() bool { return id >= LocalBase }

// Metadata is attached to a networked entity when it is created and never
// changes afterwards.
type Metadata struct {
	ID           ID     `json:"id"`
	SpawnedFrame uint64 `json:"spawned_frame"`
}

// Registry is a bijection between live entities and identifiers plus the
// counter that mints new identifiers. E is the local entity handle type.
//
// The registry does not observe entity deletion: whoever deletes an entity
// must call Remove in the same tick.
type Registry[E comparable] struct {
	next  ID
	limit ID
	local bool

	byID     map[ID]E
	byEntity map[E]ID
}

// NewRegistry returns a registry minting server identifiers starting at 1.
func NewRegistry[E comparable]() *Registry[E] {
	return newRegistry[E](1, LocalBase-1, false)
}

// NewLocalRegistry returns a registry minting from the client range. It is
// used for predicted entities until the server assigns their identifier.
func NewLocalRegistry[E comparable]() *Registry[E] {
	return newRegistry[E](LocalBase, math.MaxUint64, true)
}

func newRegistry[E comparable](first, limit ID, local bool) *Registry[E] {
	return &Registry[E]{
		next:     first,
		limit:    limit,
		local:    local,
		byID:     map[ID]E{},
		byEntity: map[E]ID{},
	}
}

// RegisterNewEntity mints the next identifier and binds it to e. Any prior
// identifier of e is unbound. Exhausting the counter is fatal.
func (r *Registry[E]) RegisterNewEntity(e E) ID {
	if r.next == 0 || r.next > r.limit {
		panic("netid: identifier space exhausted")
	}
	id := r.next
	if id == r.limit {
		r.next = 0
	} else {
		r.next++
	}
	r.bind(e, id)
	return id
}

// SetNetID binds an identifier assigned elsewhere (the server) to e. A prior
// mapping for e is overwritten. Binding an identifier that is live on a
// different entity violates the bijection and panics.
func (r *Registry[E]) SetNetID(e E, id ID) {
	if id == 0 {
		panic("netid: cannot bind the zero identifier")
	}
	if cur, ok := r.byID[id]; ok && cur != e {
		panic(fmt.Sprintf("netid: identifier %d already bound to another entity", id))
	}
	r.bind(e, id)
	// Keep minting past identifiers we have been told about.
	if r.next != 0 && id >= r.next && id < r.limit && id.IsLocal() == r.local {
		r.next = id + 1
	}
}

func (r *Registry[E]) bind(e E, id ID) {
	if old, ok := r.byEntity[e]; ok && old != id {
		delete(r.byID, old)
	}
	r.byID[id] = e
	r.byEntity[e] = id
}

// Resolve returns the entity bound to id. Absence is not an error.
func (r *Registry[E]) Resolve(id ID) (E, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Lookup returns the identifier bound to e.
func (r *Registry[E]) Lookup(e E) (ID, bool) {
	id, ok := r.byEntity[e]
	return id, ok
}

// Remove deregisters id. The identifier is retired and never minted again.
func (r *Registry[E]) Remove(id ID) (E, bool) {
	e, ok := r.byID[id]
	if !ok {
		return e, false
	}
	delete(r.byID, id)
	delete(r.byEntity, e)
	return e, true
}

func (r *Registry[E]) Len() int { return len(r.byID) }

// IDs returns the live identifiers in ascending order.
func (r *Registry[E]) IDs() []ID {
	out := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Next is the identifier RegisterNewEntity would return.
func (r *Registry[E]) Next() ID { return r.next }

// Restore raises the counter to next after loading persisted state. It never
// lowers it.
func (r *Registry[E]) Restore(next ID) {
	if r.next != 0 && next > r.next && next <= r.limit && next.IsLocal() == r.local {
		r.next = next
	}
}
