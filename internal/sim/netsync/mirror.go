package netsync

import (
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

// LocalWorld is the client's entity storage as seen by the mirror.
type LocalWorld[E any] interface {
	Spawn(m protocol.EntityCreatedMsg) E
	Apply(e E, m protocol.EntityUpdatedMsg)
	Despawn(e E)
}

// stamp is the newest frame applied to an entity. A creation stamp still
// accepts one update carrying the same frame.
type stamp struct {
	frame   uint64
	updated bool
}

// Mirror applies server messages to a client world. It is not safe for
// concurrent use.
type Mirror[E comparable] struct {
	world  LocalWorld[E]
	ids    *netid.Registry[E]
	logger *zap.Logger

	stamps map[netid.ID]stamp

	conn    conn.ID
	self    netid.ID
	frame   uint64
	started bool
}

func NewMirror[E comparable](w LocalWorld[E], logger *zap.Logger) *Mirror[E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror[E]{
		world:  w,
		ids:    netid.NewLocalRegistry[E](),
		logger: logger.Named("mirror"),
		stamps: map[netid.ID]stamp{},
	}
}

// Apply routes one inbound message. Messages the mirror does not handle are
// ignored and reported as false.
func (m *Mirror[E]) Apply(msg protocol.Message) bool {
	switch v := msg.(type) {
	case protocol.WelcomeMsg:
		m.Welcome(v)
	case protocol.StartGameMsg:
		m.startGame(v)
	case protocol.EntityCreatedMsg:
		m.created(v)
	case protocol.EntityUpdatedMsg:
		m.updated(v)
	case protocol.EntityDestroyedMsg:
		m.destroyed(v)
	case protocol.PongMsg:
		m.observeFrame(v.Frame)
	default:
		return false
	}
	return true
}

func (m *Mirror[E]) Welcome(w protocol.WelcomeMsg) {
	m.conn = conn.ID(w.ConnectionID)
	m.started = w.InProgress
	m.observeFrame(w.Frame)
}

func (m *Mirror[E]) startGame(s protocol.StartGameMsg) {
	m.started = true
	m.observeFrame(s.Frame)
	for _, p := range s.Players {
		id := netid.ID(p.EntityID)
		if _, ok := m.ids.Resolve(id); ok {
			continue
		}
		e := m.world.Spawn(protocol.EntityCreatedMsg{
			ID:         p.EntityID,
			Kind:       protocol.KindPlayer,
			SpawnFrame: s.Frame,
			Pos:        p.Pos,
			Owner:      p.ConnectionID,
			Name:       p.Name,
		})
		m.ids.SetNetID(e, id)
		m.stamps[id] = stamp{frame: s.Frame}
		if conn.ID(p.ConnectionID) == m.conn {
			m.self = id
		}
	}
}

func (m *Mirror[E]) created(c protocol.EntityCreatedMsg) {
	id := netid.ID(c.ID)
	m.observeFrame(c.SpawnFrame)
	if _, ok := m.ids.Resolve(id); ok {
		return
	}
	if ref := netid.ID(c.ClientRef); ref != 0 {
		if e, ok := m.ids.Remove(ref); ok {
			m.ids.SetNetID(e, id)
			m.world.Apply(e, protocol.EntityUpdatedMsg{ID: c.ID, Frame: c.SpawnFrame, Pos: c.Pos, Health: c.Health})
			m.stamps[id] = stamp{frame: c.SpawnFrame}
			delete(m.stamps, ref)
			return
		}
	}
	e := m.world.Spawn(c)
	m.ids.SetNetID(e, id)
	m.stamps[id] = stamp{frame: c.SpawnFrame}
	if c.Kind == protocol.KindPlayer && m.conn != 0 && conn.ID(c.Owner) == m.conn {
		m.self = id
	}
}

func (m *Mirror[E]) updated(u protocol.EntityUpdatedMsg) {
	id := netid.ID(u.ID)
	e, ok := m.ids.Resolve(id)
	if !ok {
		return
	}
	if last, seen := m.stamps[id]; seen && (u.Frame < last.frame || u.Frame == last.frame && last.updated) {
		return
	}
	m.stamps[id] = stamp{frame: u.Frame, updated: true}
	m.observeFrame(u.Frame)
	m.world.Apply(e, u)
}

func (m *Mirror[E]) destroyed(d protocol.EntityDestroyedMsg) {
	id := netid.ID(d.ID)
	m.observeFrame(d.Frame)
	e, ok := m.ids.Remove(id)
	if !ok {
		return
	}
	delete(m.stamps, id)
	m.world.Despawn(e)
	if id == m.self {
		m.self = 0
	}
}

func (m *Mirror[E]) observeFrame(f uint64) {
	if f > m.frame {
		m.frame = f
	}
}

// Predict registers a locally created entity under a client-range
// identifier. The identifier is sent to the server as client_ref so the
// authoritative copy can adopt the entity.
func (m *Mirror[E]) Predict(e E) netid.ID {
	return m.ids.RegisterNewEntity(e)
}

// Discard drops a prediction the server never confirmed.
func (m *Mirror[E]) Discard(id netid.ID) bool {
	if !id.IsLocal() {
		return false
	}
	e, ok := m.ids.Remove(id)
	if ok {
		m.world.Despawn(e)
	}
	return ok
}

// Reset despawns every mirrored entity.
func (m *Mirror[E]) Reset() {
	for _, id := range m.ids.IDs() {
		if e, ok := m.ids.Remove(id); ok {
			m.world.Despawn(e)
		}
	}
	clear(m.stamps)
	m.self = 0
	m.started = false
}

func (m *Mirror[E]) Registry() *netid.Registry[E] { return m.ids }

// Self is the identifier of this client's player, zero before it exists.
func (m *Mirror[E]) Self() netid.ID { return m.self }

func (m *Mirror[E]) ConnectionID() conn.ID { return m.conn }

// Frame is the newest server frame seen.
func (m *Mirror[E]) Frame() uint64 { return m.frame }

func (m *Mirror[E]) Started() bool { return m.started }
