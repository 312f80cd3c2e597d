package world

import (
	"sync/atomic"
	"time"

	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/actions"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
	"ghoulrush.io/internal/sim/netsync"
	"ghoulrush.io/internal/sim/spawn"
)

// ConnectRequest is sent by the transport once a client completed HELLO.
// Inbound is the connection's message queue; the transport reader is its
// only producer.
type ConnectRequest struct {
	ID      conn.ID
	Name    string
	Inbound <-chan protocol.Message
	Link    netsync.Link
	Resp    chan ConnectResponse
}

type ConnectResponse struct {
	Welcome protocol.WelcomeMsg
	// Code is set when the connection was refused.
	Code string
}

type DisconnectRequest struct {
	ID     conn.ID
	Reason string
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	frame atomic.Uint64

	ecs     donburi.World
	ids     *netid.Registry[donburi.Entity]
	conns   *conn.Registry
	actions *actions.Buffer
	spawner *spawn.Scheduler[donburi.Entity]
	bridge  *netsync.Bridge

	sessions map[conn.ID]*session
	dead     map[netid.ID]struct{}
	lastSent map[netid.ID]sentState
	work     spawn.Actions
	level    levelState

	startRequested bool

	connect    chan ConnectRequest
	disconnect chan DisconnectRequest
	stop       chan struct{}

	// Optional journal (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	journal  TickLogEntry
	counters Counters
	metrics  atomic.Value
}

type session struct {
	conn      conn.ID
	sessionID string
	name      string
	player    netid.ID

	// needsState asks the next state diff for a full set of updates.
	needsState bool
}

type levelState struct {
	running    bool
	startFrame uint64
	wavesFired int
	// lobbyUntil holds auto-start back after a game over.
	lobbyUntil uint64
	// awaitingPlayers suppresses game over for a level restored without
	// players.
	awaitingPlayers bool
}

type sentState struct {
	transform Transform
	health    int32
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is written for every tick that changed the set of
// connections or entities.
type TickLogEntry struct {
	Frame       uint64               `json:"frame"`
	Connects    []RecordedConnect    `json:"connects,omitempty"`
	Disconnects []RecordedDisconnect `json:"disconnects,omitempty"`
	Started     bool                 `json:"started,omitempty"`
	GameOver    bool                 `json:"game_over,omitempty"`
	Created     []RecordedEntity     `json:"created,omitempty"`
	Destroyed   []uint64             `json:"destroyed,omitempty"`
	Actions     actions.Stats        `json:"actions"`
	Entities    int                  `json:"entities"`
	NextNetID   uint64               `json:"next_net_id"`
}

type RecordedConnect struct {
	Conn    uint64 `json:"conn"`
	Session string `json:"session"`
	Name    string `json:"name"`
}

type RecordedDisconnect struct {
	Conn   uint64 `json:"conn"`
	Reason string `json:"reason"`
	Player uint64 `json:"player,omitempty"`
}

type RecordedEntity struct {
	ID    uint64     `json:"id"`
	Kind  string     `json:"kind"`
	Pos   [2]float32 `json:"pos"`
	Owner uint64     `json:"owner,omitempty"`
}

func (e *TickLogEntry) empty() bool {
	return len(e.Connects) == 0 && len(e.Disconnects) == 0 && !e.Started && !e.GameOver &&
		len(e.Created) == 0 && len(e.Destroyed) == 0 && e.Actions == (actions.Stats{})
}

// New builds a world. now is the wall clock used for connection liveness and
// defaults to time.Now.
func New(cfg Config, logger *zap.Logger, now func() time.Time) *World {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	logger = logger.With(zap.String("world", cfg.ID))
	ids := netid.NewRegistry[donburi.Entity]()
	return &World{
		cfg:        cfg,
		logger:     logger,
		now:        now,
		ecs:        donburi.NewWorld(),
		ids:        ids,
		conns:      conn.NewRegistry(now),
		actions:    actions.NewBuffer(cfg.CastCooldown, cfg.MaxActionsPerKind),
		spawner:    spawn.NewScheduler(cfg.Spawn, ids, logger),
		bridge:     netsync.NewBridge(logger),
		sessions:   map[conn.ID]*session{},
		dead:       map[netid.ID]struct{}{},
		lastSent:   map[netid.ID]sentState{},
		connect:    make(chan ConnectRequest, 64),
		disconnect: make(chan DisconnectRequest, 64),
		stop:       make(chan struct{}),
	}
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Connect() chan<- ConnectRequest       { return w.connect }
func (w *World) Disconnect() chan<- DisconnectRequest { return w.disconnect }

func (w *World) CurrentFrame() uint64 { return w.frame.Load() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Config() Config { return w.cfg }

// simTime is the simulation clock: frames elapsed times the tick interval.
func (w *World) simTime(frame uint64) time.Duration {
	return time.Duration(frame) * w.cfg.tickInterval()
}

func (w *World) worldParams() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:     w.cfg.TickRateHz,
		CastCooldownMS: w.cfg.CastCooldown.Milliseconds(),
		PingTimeoutMS:  w.cfg.PingTimeout.Milliseconds(),
		Bounds:         protocol.Rect{Min: w.cfg.Bounds.Min, Max: w.cfg.Bounds.Max},
	}
}
