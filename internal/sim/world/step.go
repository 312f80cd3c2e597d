package world

import (
	"time"

	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

// simClock is the simulation time of one tick.
type simClock struct {
	frame   uint64
	elapsed time.Duration
}

// step advances the world by one tick.
//
// Order: disconnects, liveness sweep, inbound drain, level start, actions,
// movement, combat, spawns, dead cleanup, game-over check, state diff,
// flush, journal, metrics, snapshot.
func (w *World) step(disconnects []DisconnectRequest) {
	start := time.Now()
	frame := w.frame.Load()
	now := simClock{frame: frame, elapsed: w.simTime(frame)}

	for _, d := range disconnects {
		w.dropConnection(d.ID, d.Reason)
	}
	if frame%uint64(w.cfg.SweepEveryTicks) == 0 {
		for _, id := range w.conns.SweepTimeouts(w.now(), w.cfg.PingTimeout) {
			w.counters.Timeouts++
			w.dropConnection(id, "timeout")
		}
	}

	w.pollInbound(now)

	if !w.level.running && w.shouldStart(frame) {
		w.startGame(frame)
	}

	if w.level.running {
		dt := float32(w.cfg.tickInterval().Seconds())
		w.applyActions(now)
		w.fireWaves(now)
		w.systemMovement(dt)
		w.systemCombat(now)
		w.tickSpawns(frame)
	}

	w.cleanupDead(frame)

	if w.level.running && !w.level.awaitingPlayers && w.alivePlayers() == 0 {
		w.gameOver(frame)
	}

	w.collectUpdates(frame)

	st := w.bridge.Flush()
	for _, id := range st.Failed {
		w.logger.Warn("reliable queue full; closing connection", zap.Uint64("conn", uint64(id)))
		w.dropConnection(id, "send_queue_full")
	}
	w.counters.FramesSent += uint64(st.Reliable + st.Unreliable)
	w.counters.BytesSent += uint64(st.Bytes)

	w.writeJournal(frame)
	w.publishMetrics(frame, time.Since(start))

	if w.snapshotSink != nil && frame != 0 && frame%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(frame)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	w.frame.Add(1)
}

func (w *World) shouldStart(frame uint64) bool {
	established := len(w.conns.EstablishedIDs())
	if established == 0 || frame < w.level.lobbyUntil {
		return false
	}
	return w.startRequested || established >= w.cfg.MinPlayersToStart
}

func (w *World) fireWaves(now simClock) {
	levelTime := now.elapsed - w.simTime(w.level.startFrame)
	for w.level.wavesFired < len(w.cfg.Waves) {
		wave := w.cfg.Waves[w.level.wavesFired]
		if levelTime < wave.At {
			return
		}
		w.work = append(w.work, wave.Actions...)
		w.level.wavesFired++
		w.logger.Debug("spawn wave", zap.Int("wave", w.level.wavesFired), zap.Uint64("queued", wave.Actions.Remaining()))
	}
}

func (w *World) tickSpawns(frame uint64) {
	if len(w.work) == 0 {
		return
	}
	res := w.spawner.Tick(&w.work, w, w)
	for _, sp := range res.Spawned {
		entry := w.ecs.Entry(sp.Entity)
		attachNetMetadata(entry, netid.Metadata{ID: sp.ID, SpawnedFrame: frame})
		health := vitalsC.Get(entry).Health
		w.lastSent[sp.ID] = sentState{transform: Transform{Pos: sp.Pos}, health: health}
		w.bridge.Created(protocol.EntityCreatedMsg{
			ID:         uint64(sp.ID),
			Kind:       sp.Kind,
			SpawnFrame: frame,
			Pos:        sp.Pos,
			Health:     health,
		})
		w.recordCreated(sp.ID, sp.Kind, sp.Pos, 0)
	}
	w.counters.SpawnDeferrals += uint64(len(res.Skipped))
}

// collectUpdates queues ENTITY_UPDATED for every live entity whose state
// changed since it was last sent. Every RefreshEveryTicks the whole live
// set is sent regardless, so a client that lost an update converges.
// Connections that joined a running level get the full set for themselves.
func (w *World) collectUpdates(frame uint64) {
	refresh := frame%uint64(w.cfg.RefreshEveryTicks) == 0
	var joiners []conn.ID
	for cid, s := range w.sessions {
		if s.needsState {
			joiners = append(joiners, cid)
			s.needsState = false
		}
	}
	networkedQ.Each(w.ecs, func(entry *donburi.Entry) {
		id := netMetaC.Get(entry).ID
		if w.isDead(id) {
			return
		}
		cur := sentState{transform: *transformC.Get(entry)}
		if entry.HasComponent(vitalsC) {
			cur.health = vitalsC.Get(entry).Health
		}
		msg := protocol.EntityUpdatedMsg{
			ID:     uint64(id),
			Frame:  frame,
			Pos:    cur.transform.Pos,
			Vel:    cur.transform.Vel,
			Health: cur.health,
		}
		for _, cid := range joiners {
			w.bridge.UpdateTo(cid, msg)
		}
		if prev, ok := w.lastSent[id]; ok && prev == cur && !refresh {
			return
		}
		w.lastSent[id] = cur
		w.bridge.Updated(msg)
	})
}

func (w *World) writeJournal(frame uint64) {
	w.journal.Frame = frame
	w.journal.Actions = w.actions.Stats()
	w.counters.ActionsAccepted += w.journal.Actions.Accepted
	w.counters.CastsDropped += w.journal.Actions.CooldownDrops
	w.actions.ResetStats()
	if w.tickLogger != nil && !w.journal.empty() {
		w.journal.Entities = w.ids.Len()
		w.journal.NextNetID = uint64(w.ids.Next())
		if err := w.tickLogger.WriteTick(w.journal); err != nil {
			w.logger.Warn("tick journal write failed", zap.Error(err))
		}
	}
	w.journal = TickLogEntry{}
}
