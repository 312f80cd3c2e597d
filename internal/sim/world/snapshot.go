package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/netid"
	"ghoulrush.io/internal/sim/spawn"
)

// ExportSnapshot captures monsters, the spawn worklist and the identifier
// counter. Players and missiles belong to connections and are not kept.
func (w *World) ExportSnapshot(frame uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:         snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Frame: frame},
		TickRate:       w.cfg.TickRateHz,
		Seed:           w.cfg.Seed,
		CastCooldownMS: w.cfg.CastCooldown.Milliseconds(),
		NextNetID:      uint64(w.ids.Next()),
		Level: snapshot.LevelV1{
			Running:    w.level.running,
			StartFrame: w.level.startFrame,
			WavesFired: w.level.wavesFired,
		},
	}
	monstersQ.Each(w.ecs, func(entry *donburi.Entry) {
		md := netMetaC.Get(entry)
		if w.isDead(md.ID) {
			return
		}
		snap.Monsters = append(snap.Monsters, snapshot.MonsterV1{
			ID:           uint64(md.ID),
			SpawnedFrame: md.SpawnedFrame,
			Kind:         monsterC.Get(entry).Kind,
			Pos:          [2]float32(transformC.Get(entry).Pos),
			Health:       vitalsC.Get(entry).Health,
		})
	})
	for _, a := range w.work {
		snap.Pending = append(snap.Pending, snapshot.SpawnV1{Entity: a.EntityKind, Count: a.Count, Placement: a.Placement.String()})
	}
	return snap
}

// ImportSnapshot restores a snapshot into a fresh world. It must run before
// Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if w.ids.Len() != 0 {
		return fmt.Errorf("import snapshot: world already has %d entities", w.ids.Len())
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("import snapshot: world id mismatch: snapshot=%s cfg=%s", snap.Header.WorldID, w.cfg.ID)
	}
	pending := make(spawn.Actions, 0, len(snap.Pending))
	for _, p := range snap.Pending {
		pl, err := spawn.ParsePlacement(p.Placement)
		if err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		pending = append(pending, spawn.Action{EntityKind: p.Entity, Count: p.Count, Placement: pl})
	}

	seen := make(map[uint64]struct{}, len(snap.Monsters))
	for _, m := range snap.Monsters {
		if m.ID == 0 || netid.ID(m.ID).IsLocal() {
			return fmt.Errorf("import snapshot: bad monster id %d", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("import snapshot: duplicate monster id %d", m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	for _, m := range snap.Monsters {
		pos := mgl32.Vec2(m.Pos)
		e := w.CreateMonster(m.Kind, pos)
		entry := w.ecs.Entry(e)
		vitalsC.Get(entry).Health = m.Health
		id := netid.ID(m.ID)
		w.ids.SetNetID(e, id)
		attachNetMetadata(entry, netid.Metadata{ID: id, SpawnedFrame: m.SpawnedFrame})
		w.lastSent[id] = sentState{transform: Transform{Pos: pos}, health: m.Health}
	}
	w.ids.Restore(netid.ID(snap.NextNetID))
	w.work = pending
	w.level = levelState{
		running:         snap.Level.Running,
		startFrame:      snap.Level.StartFrame,
		wavesFired:      snap.Level.WavesFired,
		awaitingPlayers: snap.Level.Running,
	}
	w.frame.Store(snap.Header.Frame + 1)
	return nil
}
