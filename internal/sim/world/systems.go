package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/actions"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

// applyActions drains every live player's queue. The last walk and look of
// the tick win; every accepted cast fires a missile.
func (w *World) applyActions(now simClock) {
	ids := make([]conn.ID, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, cid := range ids {
		s := w.sessions[cid]
		if s.player == 0 || w.isDead(s.player) {
			continue
		}
		batch := w.actions.Drain(s.player)
		if batch.Empty() {
			continue
		}
		e, ok := w.ids.Resolve(s.player)
		if !ok || !w.ecs.Valid(e) {
			continue
		}
		entry := w.ecs.Entry(e)
		pl := playerC.Get(entry)
		if n := len(batch.Walk); n > 0 {
			pl.Walk = batch.Walk[n-1].Dir
		}
		if n := len(batch.Look); n > 0 && batch.Look[n-1].Dir.Len() > 0 {
			pl.Look = batch.Look[n-1].Dir
		}
		origin := transformC.Get(entry).Pos
		look := pl.Look
		radius := pl.Radius
		for _, c := range batch.Cast {
			dir := c.Dir
			if dir.Len() == 0 {
				dir = look
			}
			w.spawnMissile(s, origin, dir, radius, c, now)
		}
	}
}

func (w *World) spawnMissile(s *session, origin, dir mgl32.Vec2, ownerRadius float32, c actions.Action, now simClock) {
	if dir.Len() == 0 {
		dir = mgl32.Vec2{1, 0}
	}
	pos := origin.Add(dir.Mul(ownerRadius + w.cfg.MissileRadius))
	vel := dir.Mul(w.cfg.MissileSpeed)

	e := w.ecs.Create(transformC, missileC)
	entry := w.ecs.Entry(e)
	transformC.SetValue(entry, Transform{Pos: pos, Vel: vel})
	missileC.SetValue(entry, Missile{
		Owner:     s.player,
		OwnerConn: s.conn,
		Damage:    w.cfg.MissileDamage,
		Radius:    w.cfg.MissileRadius,
		ExpiresAt: now.elapsed + w.cfg.MissileTTL,
	})
	id := w.ids.RegisterNewEntity(e)
	attachNetMetadata(entry, netid.Metadata{ID: id, SpawnedFrame: now.frame})
	w.lastSent[id] = sentState{transform: Transform{Pos: pos, Vel: vel}}
	w.bridge.Created(protocol.EntityCreatedMsg{
		ID:         uint64(id),
		Kind:       protocol.KindMissile,
		SpawnFrame: now.frame,
		Pos:        pos,
		Owner:      uint64(s.conn),
		ClientRef:  uint64(c.ClientRef),
	})
	w.recordCreated(id, protocol.KindMissile, pos, uint64(s.conn))
}

type target struct {
	id     netid.ID
	entity donburi.Entity
	pos    mgl32.Vec2
	radius float32
}

func (w *World) livePlayers() []target {
	var out []target
	playersQ.Each(w.ecs, func(entry *donburi.Entry) {
		id := netMetaC.Get(entry).ID
		if w.isDead(id) {
			return
		}
		out = append(out, target{id: id, entity: entry.Entity(), pos: transformC.Get(entry).Pos, radius: playerC.Get(entry).Radius})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (w *World) systemMovement(dt float32) {
	playersQ.Each(w.ecs, func(entry *donburi.Entry) {
		if w.isDead(netMetaC.Get(entry).ID) {
			return
		}
		tr := transformC.Get(entry)
		tr.Vel = playerC.Get(entry).Walk.Mul(w.cfg.PlayerSpeed)
		tr.Pos = w.cfg.Bounds.Clamp(tr.Pos.Add(tr.Vel.Mul(dt)))
	})

	players := w.livePlayers()
	monstersQ.Each(w.ecs, func(entry *donburi.Entry) {
		if w.isDead(netMetaC.Get(entry).ID) {
			return
		}
		tr := transformC.Get(entry)
		m := monsterC.Get(entry)
		t, ok := nearest(players, tr.Pos)
		if !ok {
			tr.Vel = mgl32.Vec2{}
			m.Action = MonsterIdle
			return
		}
		m.Destination = t.pos
		delta := t.pos.Sub(tr.Pos)
		if delta.Len() <= m.Radius+t.radius {
			tr.Vel = mgl32.Vec2{}
			m.Action = MonsterAttack
			return
		}
		m.Action = MonsterChase
		tr.Vel = delta.Normalize().Mul(m.Speed)
		tr.Pos = w.cfg.Bounds.Clamp(tr.Pos.Add(tr.Vel.Mul(dt)))
	})

	missilesQ.Each(w.ecs, func(entry *donburi.Entry) {
		id := netMetaC.Get(entry).ID
		if w.isDead(id) {
			return
		}
		tr := transformC.Get(entry)
		tr.Pos = tr.Pos.Add(tr.Vel.Mul(dt))
		if !w.cfg.Bounds.Contains(tr.Pos) {
			w.markDead(id)
		}
	})
}

func nearest(ts []target, p mgl32.Vec2) (target, bool) {
	var (
		best  target
		bestD float32 = -1
	)
	for _, t := range ts {
		if d := t.pos.Sub(p).Len(); bestD < 0 || d < bestD {
			best, bestD = t, d
		}
	}
	return best, bestD >= 0
}

// systemCombat resolves missile hits, monster attacks and missile expiry,
// tagging whatever died. Removal happens in cleanupDead.
func (w *World) systemCombat(now simClock) {
	type hittable struct {
		id     netid.ID
		entity donburi.Entity
		pos    mgl32.Vec2
		radius float32
	}
	var monsters []hittable
	monstersQ.Each(w.ecs, func(entry *donburi.Entry) {
		id := netMetaC.Get(entry).ID
		if w.isDead(id) {
			return
		}
		monsters = append(monsters, hittable{id: id, entity: entry.Entity(), pos: transformC.Get(entry).Pos, radius: monsterC.Get(entry).Radius})
	})
	sort.Slice(monsters, func(i, j int) bool { return monsters[i].id < monsters[j].id })

	missilesQ.Each(w.ecs, func(entry *donburi.Entry) {
		id := netMetaC.Get(entry).ID
		if w.isDead(id) {
			return
		}
		ms := missileC.Get(entry)
		if now.elapsed >= ms.ExpiresAt {
			w.markDead(id)
			return
		}
		pos := transformC.Get(entry).Pos
		for _, m := range monsters {
			if w.isDead(m.id) || m.pos.Sub(pos).Len() > m.radius+ms.Radius {
				continue
			}
			w.markDead(id)
			if w.damage(m.entity, ms.Damage) {
				w.markDead(m.id)
				w.counters.Kills++
			}
			return
		}
	})

	players := w.livePlayers()
	monstersQ.Each(w.ecs, func(entry *donburi.Entry) {
		if w.isDead(netMetaC.Get(entry).ID) {
			return
		}
		m := monsterC.Get(entry)
		if m.Action != MonsterAttack || now.elapsed < m.NextAttackAt {
			return
		}
		t, ok := nearest(players, transformC.Get(entry).Pos)
		if !ok || w.isDead(t.id) {
			return
		}
		m.NextAttackAt = now.elapsed + m.Cooldown
		if w.damage(t.entity, m.Damage) {
			w.markDead(t.id)
		}
	})
}

// damage lowers health and reports whether the entity died.
func (w *World) damage(e donburi.Entity, amount int32) bool {
	if !w.ecs.Valid(e) {
		return false
	}
	entry := w.ecs.Entry(e)
	if !entry.HasComponent(vitalsC) {
		return false
	}
	v := vitalsC.Get(entry)
	v.Health -= amount
	if v.Health < 0 {
		v.Health = 0
	}
	return v.Health == 0
}
