// Package netsync carries entity lifecycle and state between the
// authoritative world and client mirrors, keyed only by network identifier.
package netsync

import (
	"sort"

	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

// Link is the outbound side of one connection.
type Link interface {
	// SendReliable queues a frame that must arrive in order. It returns false
	// when the frame cannot be queued; the connection is then unusable.
	SendReliable(protocol.Frame) bool
	// SendUnreliable queues a frame that may be dropped.
	SendUnreliable(protocol.Frame)
	Close()
}

type FlushStats struct {
	Links      int
	Reliable   int
	Unreliable int
	Bytes      int
	// Failed lists connections whose reliable queue rejected a frame.
	Failed []conn.ID
}

// Bridge collects one tick's outbound messages and fans them out on Flush.
// Reliable messages keep their call order; updates are coalesced so only the
// latest value per identifier is sent.
type Bridge struct {
	logger *zap.Logger

	links    map[conn.ID]Link
	reliable []protocol.Message
	updates  map[netid.ID]protocol.EntityUpdatedMsg
	direct   map[conn.ID][]protocol.Message
	replies  map[conn.ID][]protocol.Message
	targeted map[conn.ID]map[netid.ID]protocol.EntityUpdatedMsg
}

func NewBridge(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger:   logger.Named("netsync"),
		links:    map[conn.ID]Link{},
		updates:  map[netid.ID]protocol.EntityUpdatedMsg{},
		direct:   map[conn.ID][]protocol.Message{},
		replies:  map[conn.ID][]protocol.Message{},
		targeted: map[conn.ID]map[netid.ID]protocol.EntityUpdatedMsg{},
	}
}

func (b *Bridge) Attach(id conn.ID, l Link) { b.links[id] = l }

// Detach forgets the link and anything queued only for it. It does not
// close the link.
func (b *Bridge) Detach(id conn.ID) (Link, bool) {
	l, ok := b.links[id]
	delete(b.links, id)
	delete(b.direct, id)
	delete(b.replies, id)
	delete(b.targeted, id)
	return l, ok
}

func (b *Bridge) Link(id conn.ID) (Link, bool) {
	l, ok := b.links[id]
	return l, ok
}

func (b *Bridge) Links() int { return len(b.links) }

// Created queues a reliable ENTITY_CREATED for every connection.
func (b *Bridge) Created(m protocol.EntityCreatedMsg) {
	b.reliable = append(b.reliable, m)
}

// Destroyed queues a reliable ENTITY_DESTROYED and drops any update pending
// for the same identifier.
func (b *Bridge) Destroyed(id netid.ID, frame uint64) {
	delete(b.updates, id)
	for _, q := range b.targeted {
		delete(q, id)
	}
	b.reliable = append(b.reliable, protocol.EntityDestroyedMsg{ID: uint64(id), Frame: frame})
}

// Updated queues state for id; a later call in the same tick replaces it.
func (b *Bridge) Updated(m protocol.EntityUpdatedMsg) {
	id := netid.ID(m.ID)
	if cur, ok := b.updates[id]; ok && cur.Frame > m.Frame {
		return
	}
	b.updates[id] = m
}

// UpdateTo queues state for one connection only. An update for the same
// identifier queued with Updated in this tick is sent instead.
func (b *Bridge) UpdateTo(cid conn.ID, m protocol.EntityUpdatedMsg) {
	q := b.targeted[cid]
	if q == nil {
		q = map[netid.ID]protocol.EntityUpdatedMsg{}
		b.targeted[cid] = q
	}
	id := netid.ID(m.ID)
	if cur, ok := q[id]; ok && cur.Frame > m.Frame {
		return
	}
	q[id] = m
}

// Broadcast queues any other reliable message for every connection.
func (b *Bridge) Broadcast(m protocol.Message) {
	b.reliable = append(b.reliable, m)
}

// SendTo queues reliable messages for one connection. They are delivered
// before this tick's broadcast messages.
func (b *Bridge) SendTo(id conn.ID, msgs ...protocol.Message) {
	b.direct[id] = append(b.direct[id], msgs...)
}

// Reply queues an unreliable message for one connection, such as PONG.
func (b *Bridge) Reply(id conn.ID, m protocol.Message) {
	b.replies[id] = append(b.replies[id], m)
}

// Pending reports queued reliable and update counts.
func (b *Bridge) Pending() (reliable, updates int) {
	return len(b.reliable), len(b.updates)
}

// Flush encodes every queued message once and hands the frames to each
// attached link: direct messages, then broadcast reliable messages, then
// updates in identifier order, then updates queued for that connection
// alone, then replies. The queues are cleared.
func (b *Bridge) Flush() FlushStats {
	var st FlushStats
	rel := b.encodeAll(b.reliable)

	ids := make([]netid.ID, 0, len(b.updates))
	for id := range b.updates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	upd := make([]protocol.Frame, 0, len(ids))
	for _, id := range ids {
		f, err := protocol.Encode(b.updates[id])
		if err != nil {
			b.logger.Error("encode update", zap.Uint64("id", uint64(id)), zap.Error(err))
			continue
		}
		upd = append(upd, f)
	}

	connIDs := make([]conn.ID, 0, len(b.links))
	for id := range b.links {
		connIDs = append(connIDs, id)
	}
	sort.Slice(connIDs, func(i, j int) bool { return connIDs[i] < connIDs[j] })

	for _, cid := range connIDs {
		l := b.links[cid]
		st.Links++
		ok := true
		for _, f := range b.encodeAll(b.direct[cid]) {
			if ok = l.SendReliable(f); !ok {
				break
			}
			st.Reliable++
			st.Bytes += len(f.Data)
		}
		if ok {
			for _, f := range rel {
				if ok = l.SendReliable(f); !ok {
					break
				}
				st.Reliable++
				st.Bytes += len(f.Data)
			}
		}
		if !ok {
			st.Failed = append(st.Failed, cid)
			continue
		}
		for _, f := range upd {
			l.SendUnreliable(f)
			st.Unreliable++
			st.Bytes += len(f.Data)
		}
		for _, f := range b.encodeAll(b.targetedFor(cid)) {
			l.SendUnreliable(f)
			st.Unreliable++
			st.Bytes += len(f.Data)
		}
		for _, f := range b.encodeAll(b.replies[cid]) {
			l.SendUnreliable(f)
			st.Unreliable++
			st.Bytes += len(f.Data)
		}
	}

	b.reliable = b.reliable[:0]
	clear(b.updates)
	clear(b.direct)
	clear(b.replies)
	clear(b.targeted)
	return st
}

// targetedFor lists cid's own updates in identifier order, skipping any
// identifier that already has a broadcast update this tick.
func (b *Bridge) targetedFor(cid conn.ID) []protocol.Message {
	q := b.targeted[cid]
	if len(q) == 0 {
		return nil
	}
	ids := make([]netid.ID, 0, len(q))
	for id := range q {
		if _, ok := b.updates[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]protocol.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, q[id])
	}
	return out
}

func (b *Bridge) encodeAll(msgs []protocol.Message) []protocol.Frame {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]protocol.Frame, 0, len(msgs))
	for _, m := range msgs {
		f, err := protocol.Encode(m)
		if err != nil {
			b.logger.Error("encode message", zap.String("type", m.MessageType()), zap.Error(err))
			continue
		}
		out = append(out, f)
	}
	return out
}
