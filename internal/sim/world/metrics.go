package world

import "time"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Frame uint64 `json:"frame"`

	Running     bool   `json:"running"`
	Connections int    `json:"connections"`
	Players     int    `json:"players"`
	Monsters    int    `json:"monsters"`
	Missiles    int    `json:"missiles"`
	NetIDs      int    `json:"net_ids"`
	NextNetID   uint64 `json:"next_net_id"`

	PendingSpawns uint64 `json:"pending_spawns"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Counters Counters `json:"counters"`
}

type QueueDepths struct {
	Connect    int `json:"connect"`
	Disconnect int `json:"disconnect"`
}

// Counters are monotonic totals since process start.
type Counters struct {
	Levels          uint64 `json:"levels"`
	Created         uint64 `json:"created"`
	Destroyed       uint64 `json:"destroyed"`
	Kills           uint64 `json:"kills"`
	Disconnects     uint64 `json:"disconnects"`
	Timeouts        uint64 `json:"timeouts"`
	ActionsAccepted uint64 `json:"actions_accepted"`
	CastsDropped    uint64 `json:"casts_dropped"`
	SpawnDeferrals  uint64 `json:"spawn_deferrals"`
	FramesSent      uint64 `json:"frames_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(frame uint64, took time.Duration) {
	w.metrics.Store(WorldMetrics{
		Frame:         frame,
		Running:       w.level.running,
		Connections:   w.conns.Len(),
		Players:       w.alivePlayers(),
		Monsters:      monstersQ.Count(w.ecs),
		Missiles:      missilesQ.Count(w.ecs),
		NetIDs:        w.ids.Len(),
		NextNetID:     uint64(w.ids.Next()),
		PendingSpawns: w.work.Remaining(),
		QueueDepths: QueueDepths{
			Connect:    len(w.connect),
			Disconnect: len(w.disconnect),
		},
		StepMS:   float64(took.Microseconds()) / 1000.0,
		Counters: w.counters,
	})
}

