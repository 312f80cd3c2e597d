// Package actions buffers player intent between ticks.
package actions

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/sim/netid"
)

type Kind uint8

const (
	Walk Kind = iota
	Look
	Cast
)

func (k Kind) String() string {
	switch k {
	case Walk:
		return "walk"
	case Look:
		return "look"
	case Cast:
		return "cast"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Action struct {
	Kind Kind
	Dir  mgl32.Vec2
	// ClientRef is the client-predicted identifier of the missile a cast
	// creates, if any.
	ClientRef netid.ID
	// At is the simulation time the action was accepted.
	At time.Duration
}

// Batch is everything a player asked for since the previous drain, each
// list in arrival order.
type Batch struct {
	Walk []Action
	Look []Action
	Cast []Action
}

func (b Batch) Empty() bool {
	return len(b.Walk) == 0 && len(b.Look) == 0 && len(b.Cast) == 0
}

// DefaultMaxPerKind bounds each per-player FIFO.
const DefaultMaxPerKind = 32

type queue struct {
	walk, look, cast []Action
	castReadyAt      time.Duration
}

// Stats counts pushes since the last ResetStats.
type Stats struct {
	Accepted      uint64
	CooldownDrops uint64
	OverflowDrops uint64
}

// Buffer holds one queue per player. It is owned by the simulation goroutine.
type Buffer struct {
	cooldown   time.Duration
	maxPerKind int
	queues     map[netid.ID]*queue
	stats      Stats
}

func NewBuffer(castCooldown time.Duration, maxPerKind int) *Buffer {
	if maxPerKind <= 0 {
		maxPerKind = DefaultMaxPerKind
	}
	return &Buffer{
		cooldown:   castCooldown,
		maxPerKind: maxPerKind,
		queues:     map[netid.ID]*queue{},
	}
}

// Push appends a for player at simulation time now. Walk and look are always
// kept (up to the per-kind bound). A cast is kept only once the previous
// accepted cast's cooldown has elapsed; rejected casts are dropped silently.
func (b *Buffer) Push(player netid.ID, a Action, now time.Duration) bool {
	q := b.queues[player]
	if q == nil {
		q = &queue{}
		b.queues[player] = q
	}
	a.At = now
	var dst *[]Action
	switch a.Kind {
	case Walk:
		dst = &q.walk
	case Look:
		dst = &q.look
	case Cast:
		if now < q.castReadyAt {
			b.stats.CooldownDrops++
			return false
		}
		dst = &q.cast
	default:
		return false
	}
	if len(*dst) >= b.maxPerKind {
		b.stats.OverflowDrops++
		return false
	}
	if a.Kind == Cast {
		q.castReadyAt = now + b.cooldown
	}
	*dst = append(*dst, a)
	b.stats.Accepted++
	return true
}

// Drain returns and clears the player's pending actions. Draining an unknown
// or empty player yields an empty batch.
func (b *Buffer) Drain(player netid.ID) Batch {
	q := b.queues[player]
	if q == nil {
		return Batch{}
	}
	out := Batch{Walk: q.walk, Look: q.look, Cast: q.cast}
	q.walk, q.look, q.cast = nil, nil, nil
	return out
}

// Remove releases the player's queue, including its cooldown state.
func (b *Buffer) Remove(player netid.ID) {
	delete(b.queues, player)
}

// Pending is the number of queued actions for player.
func (b *Buffer) Pending(player netid.ID) int {
	q := b.queues[player]
	if q == nil {
		return 0
	}
	return len(q.walk) + len(q.look) + len(q.cast)
}

// CastReadyAt is the earliest simulation time the next cast is accepted.
func (b *Buffer) CastReadyAt(player netid.ID) time.Duration {
	if q := b.queues[player]; q != nil {
		return q.castReadyAt
	}
	return 0
}

func (b *Buffer) Players() int { return len(b.queues) }

func (b *Buffer) Stats() Stats { return b.stats }

func (b *Buffer) ResetStats() { b.stats = Stats{} }
