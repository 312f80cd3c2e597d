package world

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/actions"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

func (w *World) handleConnect(req ConnectRequest) {
	respond := func(r ConnectResponse) {
		if req.Resp == nil {
			return
		}
		select {
		case req.Resp <- r:
		default:
			w.logger.Warn("connect response dropped", zap.Uint64("conn", uint64(req.ID)))
		}
	}
	if len(w.sessions) >= w.cfg.MaxPlayers {
		respond(ConnectResponse{Code: protocol.ErrWorldBusy})
		return
	}
	if _, ok := w.conns.Get(req.ID); ok {
		respond(ConnectResponse{Code: protocol.ErrProtoBadRequest})
		return
	}

	w.conns.OnConnect(req.ID, conn.NewCursor(req.Inbound))
	w.conns.Establish(req.ID)
	s := &session{conn: req.ID, sessionID: uuid.NewString(), name: req.Name}
	w.sessions[req.ID] = s
	w.bridge.Attach(req.ID, req.Link)

	frame := w.frame.Load()
	welcome := protocol.WelcomeMsg{
		ProtocolVersion: protocol.Version,
		ConnectionID:    uint64(req.ID),
		SessionID:       s.sessionID,
		Frame:           frame,
		InProgress:      w.level.running,
		WorldParams:     w.worldParams(),
	}

	if w.level.running {
		// Late join: replay the live world to this connection only, then add
		// its player for everyone. Velocities follow with the next updates.
		w.bridge.SendTo(req.ID, w.liveEntities()...)
		s.needsState = true
		w.spawnPlayer(s, w.playerSpawnPos(len(w.sessions)-1, len(w.sessions)), frame)
	}

	w.journal.Connects = append(w.journal.Connects, RecordedConnect{Conn: uint64(req.ID), Session: s.sessionID, Name: s.name})
	w.logger.Info("connection established",
		zap.Uint64("conn", uint64(req.ID)),
		zap.String("session", s.sessionID),
		zap.String("name", s.name),
		zap.Bool("late_join", w.level.running))
	respond(ConnectResponse{Welcome: welcome})
}

// dropConnection releases everything held for a connection: its record (if
// the sweep has not already removed it), link, session and action queue.
// A live player is marked dead so every other connection sees it destroyed.
func (w *World) dropConnection(id conn.ID, reason string) {
	w.conns.Close(id)
	if l, ok := w.bridge.Detach(id); ok && l != nil {
		l.Close()
	}
	s, ok := w.sessions[id]
	if !ok {
		return
	}
	delete(w.sessions, id)
	rec := RecordedDisconnect{Conn: uint64(id), Reason: reason}
	if s.player != 0 {
		rec.Player = uint64(s.player)
		w.actions.Remove(s.player)
		w.markDead(s.player)
	}
	w.journal.Disconnects = append(w.journal.Disconnects, rec)
	w.counters.Disconnects++
	w.logger.Info("connection dropped",
		zap.Uint64("conn", uint64(id)),
		zap.String("session", s.sessionID),
		zap.String("reason", reason))
}

// pollInbound drains every connection's cursor in connection order.
func (w *World) pollInbound(now simClock) {
	for _, id := range w.conns.IDs() {
		rec, ok := w.conns.Get(id)
		if !ok {
			continue
		}
		s := w.sessions[id]
		n := rec.Reader.Poll(w.cfg.MaxInboundPerTick, func(m protocol.Message) {
			if s != nil {
				w.handleInbound(s, m, now)
			}
		})
		if n > 0 {
			w.conns.OnPing(id)
		}
		if rec.Reader.Closed() {
			w.dropConnection(id, "closed")
		}
	}
}

func (w *World) handleInbound(s *session, m protocol.Message, now simClock) {
	switch v := m.(type) {
	case protocol.PingMsg:
		w.bridge.Reply(s.conn, protocol.PongMsg{
			Seq:        v.Seq,
			ClientTime: v.ClientTime,
			ServerTime: w.now().UnixMilli(),
			Frame:      now.frame,
		})
	case protocol.ActMsg:
		if s.player == 0 || w.isDead(s.player) {
			return
		}
		a, ok := actionFromMsg(v)
		if !ok {
			w.logger.Debug("unknown act kind", zap.Uint64("conn", uint64(s.conn)), zap.String("kind", v.Kind))
			return
		}
		w.actions.Push(s.player, a, now.elapsed)
	case protocol.StartRequestMsg:
		w.startRequested = true
	default:
		w.logger.Debug("ignored inbound message", zap.Uint64("conn", uint64(s.conn)), zap.String("type", m.MessageType()))
	}
}

func actionFromMsg(m protocol.ActMsg) (actions.Action, bool) {
	a := actions.Action{Dir: m.Dir, ClientRef: netid.ID(m.ClientRef)}
	if a.Dir.Len() > 1e-6 {
		a.Dir = a.Dir.Normalize()
	}
	switch m.Kind {
	case protocol.ActWalk:
		a.Kind = actions.Walk
	case protocol.ActLook:
		a.Kind = actions.Look
	case protocol.ActCast:
		a.Kind = actions.Cast
		if !a.ClientRef.IsLocal() {
			a.ClientRef = 0
		}
	default:
		return a, false
	}
	return a, true
}
