package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"ghoulrush.io/internal/persistence/objstore"
	"ghoulrush.io/internal/sim/world"
	"ghoulrush.io/internal/transport/ws"
)

type metricsSource interface {
	ID() string
	CurrentFrame() uint64
	Metrics() world.WorldMetrics
}

func healthHandler(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

// metricsHandler writes a minimal Prometheus exposition of the world,
// transport and index counters.
func metricsHandler(w metricsSource, wsSrv *ws.Server, idx runtimeIndex, mirror *objstore.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		id := w.ID()
		m := w.Metrics()
		frame := w.CurrentFrame()
		if m.Frame != 0 {
			frame = m.Frame
		}
		gauge := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
			fmt.Fprintf(rw, "%s{world=%q} %v\n", name, id, v)
		}
		counter := func(name, help string, v uint64) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s counter\n", name)
			fmt.Fprintf(rw, "%s{world=%q} %d\n", name, id, v)
		}

		gauge("ghoulrush_world_frame", "Current world frame.", frame)
		running := 0
		if m.Running {
			running = 1
		}
		gauge("ghoulrush_world_running", "1 while a level is running.", running)
		gauge("ghoulrush_world_connections", "Live connections.", m.Connections)
		gauge("ghoulrush_world_players", "Alive players.", m.Players)
		gauge("ghoulrush_world_monsters", "Live monsters.", m.Monsters)
		gauge("ghoulrush_world_missiles", "Live missiles.", m.Missiles)
		gauge("ghoulrush_world_net_ids", "Bound network identifiers.", m.NetIDs)
		gauge("ghoulrush_world_next_net_id", "Next network identifier to mint.", m.NextNetID)
		gauge("ghoulrush_world_pending_spawns", "Entities still queued by spawn policies.", m.PendingSpawns)
		gauge("ghoulrush_world_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

		fmt.Fprintf(rw, "# HELP ghoulrush_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE ghoulrush_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "ghoulrush_world_queue_depth{world=%q,queue=%q} %d\n", id, "connect", m.QueueDepths.Connect)
		fmt.Fprintf(rw, "ghoulrush_world_queue_depth{world=%q,queue=%q} %d\n", id, "disconnect", m.QueueDepths.Disconnect)

		c := m.Counters
		counter("ghoulrush_levels_total", "Levels started.", c.Levels)
		counter("ghoulrush_entities_created_total", "Networked entities created.", c.Created)
		counter("ghoulrush_entities_destroyed_total", "Networked entities destroyed.", c.Destroyed)
		counter("ghoulrush_kills_total", "Monsters killed by missiles.", c.Kills)
		counter("ghoulrush_disconnects_total", "Connections dropped.", c.Disconnects)
		counter("ghoulrush_timeouts_total", "Connections dropped by the liveness sweep.", c.Timeouts)
		counter("ghoulrush_actions_accepted_total", "Player actions accepted.", c.ActionsAccepted)
		counter("ghoulrush_casts_dropped_total", "Casts dropped by cooldown or overflow.", c.CastsDropped)
		counter("ghoulrush_spawn_deferrals_total", "Spawn policies skipped for a tick.", c.SpawnDeferrals)
		counter("ghoulrush_frames_sent_total", "Frames queued to links.", c.FramesSent)
		counter("ghoulrush_bytes_sent_total", "Bytes queued to links.", c.BytesSent)

		if wsSrv != nil {
			s := wsSrv.Stats()
			counter("ghoulrush_ws_accepted_total", "Handshakes accepted.", s.Accepted)
			counter("ghoulrush_ws_refused_total", "Handshakes refused.", s.Refused)
			counter("ghoulrush_ws_decode_errors_total", "Inbound frames that failed to decode.", s.DecodeErrors)
			counter("ghoulrush_ws_inbound_drops_total", "Unreliable inbound messages dropped on a full queue.", s.InboundDrops)
		}
		if idx != nil {
			s := idx.Stats()
			gauge("ghoulrush_index_queue_depth", "Index writer backlog.", s.QueueDepth)
			counter("ghoulrush_index_drop_tick_total", "Journal ticks not indexed.", s.DropTickTotal)
			counter("ghoulrush_index_drop_snapshot_total", "Snapshots not indexed.", s.DropSnapshotTotal)
		}
		if mirror != nil {
			s := mirror.Stats()
			gauge("ghoulrush_mirror_queue_depth", "Uploads waiting for a worker.", s.QueueDepth)
			counter("ghoulrush_mirror_uploaded_total", "Files copied to object storage.", s.UploadedTotal)
			counter("ghoulrush_mirror_failed_total", "Files that failed every upload attempt.", s.FailedTotal)
			counter("ghoulrush_mirror_dropped_total", "Files dropped on a saturated upload queue.", s.DroppedTotal)
		}
	}
}

// stateHandler serves the world metrics as JSON to loopback callers.
func stateHandler(w metricsSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string             `json:"world_id"`
			Frame   uint64             `json:"frame"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			WorldID: w.ID(),
			Frame:   w.CurrentFrame(),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
