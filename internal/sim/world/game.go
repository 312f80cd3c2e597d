package world

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/netid"
	"ghoulrush.io/internal/sim/spawn"
)

// startGame creates one player per established connection, announces them
// with START_GAME and seeds the spawn worklist.
func (w *World) startGame(frame uint64) {
	ids := w.conns.EstablishedIDs()
	msg := protocol.StartGameMsg{Frame: frame, Players: make([]protocol.PlayerRef, 0, len(ids))}
	for i, cid := range ids {
		s := w.sessions[cid]
		if s == nil {
			continue
		}
		pos := w.playerSpawnPos(i, len(ids))
		id := w.createPlayer(s, pos, frame)
		msg.Players = append(msg.Players, protocol.PlayerRef{
			ConnectionID: uint64(cid),
			EntityID:     uint64(id),
			Name:         s.name,
			Pos:          pos,
		})
	}
	w.bridge.Broadcast(msg)

	w.work = append(spawn.Actions(nil), w.cfg.InitialSpawns...)
	w.level = levelState{running: true, startFrame: frame}
	w.startRequested = false
	w.journal.Started = true
	w.counters.Levels++
	w.logger.Info("level started", zap.Uint64("frame", frame), zap.Int("players", len(msg.Players)))
}

// gameOver destroys every networked entity and returns to the lobby.
func (w *World) gameOver(frame uint64) {
	for _, id := range w.ids.IDs() {
		w.markDead(id)
	}
	w.cleanupDead(frame)
	w.work = nil
	w.level = levelState{lobbyUntil: frame + uint64(w.cfg.RestartDelayTicks)}
	w.startRequested = false
	w.journal.GameOver = true
	w.logger.Info("game over", zap.Uint64("frame", frame))
}

// spawnPlayer adds a player mid-level and announces it to every connection.
func (w *World) spawnPlayer(s *session, pos mgl32.Vec2, frame uint64) netid.ID {
	id := w.createPlayer(s, pos, frame)
	w.bridge.Created(protocol.EntityCreatedMsg{
		ID:         uint64(id),
		Kind:       protocol.KindPlayer,
		SpawnFrame: frame,
		Pos:        pos,
		Owner:      uint64(s.conn),
		Name:       s.name,
		Health:     w.cfg.PlayerHealth,
	})
	return id
}

func (w *World) createPlayer(s *session, pos mgl32.Vec2, frame uint64) netid.ID {
	e := w.ecs.Create(transformC, vitalsC, playerC)
	entry := w.ecs.Entry(e)
	transformC.SetValue(entry, Transform{Pos: pos})
	vitalsC.SetValue(entry, Vitals{Health: w.cfg.PlayerHealth, MaxHealth: w.cfg.PlayerHealth})
	playerC.SetValue(entry, Player{Conn: s.conn, Name: s.name, Radius: w.cfg.PlayerRadius, Look: mgl32.Vec2{1, 0}})
	id := w.ids.RegisterNewEntity(e)
	attachNetMetadata(entry, netid.Metadata{ID: id, SpawnedFrame: frame})
	s.player = id
	w.level.awaitingPlayers = false
	w.lastSent[id] = sentState{transform: Transform{Pos: pos}, health: w.cfg.PlayerHealth}
	w.recordCreated(id, protocol.KindPlayer, pos, uint64(s.conn))
	return id
}

// playerSpawnPos spreads n players on a small ring around the arena centre.
func (w *World) playerSpawnPos(i, n int) mgl32.Vec2 {
	c := w.cfg.Bounds.Min.Add(w.cfg.Bounds.Max).Mul(0.5)
	if n <= 1 {
		return c
	}
	a := 2 * math.Pi * float64(i) / float64(n)
	return c.Add(mgl32.Vec2{float32(math.Cos(a)), float32(math.Sin(a))}.Mul(40))
}

// CreateMonster implements spawn.Factory. The caller registers the identifier.
func (w *World) CreateMonster(kind string, pos mgl32.Vec2) donburi.Entity {
	def, ok := w.cfg.Monsters[kind]
	if !ok {
		def = MonsterDef{}
		def.applyDefaults()
	}
	e := w.ecs.Create(transformC, vitalsC, monsterC)
	entry := w.ecs.Entry(e)
	transformC.SetValue(entry, Transform{Pos: pos})
	vitalsC.SetValue(entry, Vitals{Health: def.Health, MaxHealth: def.Health})
	monsterC.SetValue(entry, Monster{
		Kind:     kind,
		Damage:   def.Damage,
		Speed:    def.Speed,
		Radius:   def.Radius,
		Cooldown: def.AttackCooldown,
	})
	return e
}

// PlayableBounds implements spawn.Geometry.
func (w *World) PlayableBounds() spawn.Rect { return w.cfg.Bounds }

// DistanceToNearestPlayer implements spawn.Geometry.
func (w *World) DistanceToNearestPlayer(p mgl32.Vec2) float32 {
	best := float32(math.Inf(1))
	playersQ.Each(w.ecs, func(entry *donburi.Entry) {
		if w.isDead(netMetaC.Get(entry).ID) {
			return
		}
		if d := transformC.Get(entry).Pos.Sub(p).Len(); d < best {
			best = d
		}
	})
	return best
}

func (w *World) markDead(id netid.ID) { w.dead[id] = struct{}{} }

func (w *World) isDead(id netid.ID) bool {
	_, ok := w.dead[id]
	return ok
}

// cleanupDead removes every entity tagged dead this tick, deregisters its
// identifier and announces the destruction.
func (w *World) cleanupDead(frame uint64) {
	if len(w.dead) == 0 {
		return
	}
	ids := make([]netid.ID, 0, len(w.dead))
	for id := range w.dead {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		delete(w.dead, id)
		e, ok := w.ids.Remove(id)
		if !ok {
			continue
		}
		if w.ecs.Valid(e) {
			entry := w.ecs.Entry(e)
			if entry.HasComponent(playerC) {
				if s := w.sessions[playerC.Get(entry).Conn]; s != nil && s.player == id {
					s.player = 0
				}
			}
			w.ecs.Remove(e)
		}
		w.actions.Remove(id)
		delete(w.lastSent, id)
		w.bridge.Destroyed(id, frame)
		w.journal.Destroyed = append(w.journal.Destroyed, uint64(id))
		w.counters.Destroyed++
	}
}

// liveEntities describes every networked entity for a late joiner.
func (w *World) liveEntities() []protocol.Message {
	var out []protocol.Message
	for _, id := range w.ids.IDs() {
		if w.isDead(id) {
			continue
		}
		e, _ := w.ids.Resolve(id)
		if !w.ecs.Valid(e) {
			continue
		}
		out = append(out, w.createdMsg(w.ecs.Entry(e)))
	}
	return out
}

func (w *World) createdMsg(entry *donburi.Entry) protocol.EntityCreatedMsg {
	md := netMetaC.Get(entry)
	tr := transformC.Get(entry)
	m := protocol.EntityCreatedMsg{ID: uint64(md.ID), SpawnFrame: md.SpawnedFrame, Pos: tr.Pos}
	if entry.HasComponent(vitalsC) {
		m.Health = vitalsC.Get(entry).Health
	}
	switch {
	case entry.HasComponent(playerC):
		pl := playerC.Get(entry)
		m.Kind, m.Owner, m.Name = protocol.KindPlayer, uint64(pl.Conn), pl.Name
	case entry.HasComponent(monsterC):
		m.Kind = monsterC.Get(entry).Kind
	case entry.HasComponent(missileC):
		m.Kind, m.Owner = protocol.KindMissile, uint64(missileC.Get(entry).OwnerConn)
	}
	return m
}

func (w *World) recordCreated(id netid.ID, kind string, pos mgl32.Vec2, owner uint64) {
	w.journal.Created = append(w.journal.Created, RecordedEntity{ID: uint64(id), Kind: kind, Pos: [2]float32(pos), Owner: owner})
	w.counters.Created++
}

func (w *World) alivePlayers() int {
	n := 0
	playersQ.Each(w.ecs, func(entry *donburi.Entry) {
		if !w.isDead(netMetaC.Get(entry).ID) {
			n++
		}
	})
	return n
}
