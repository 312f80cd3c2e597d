package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/sim/spawn"
)

type Config struct {
	ID         string
	TickRateHz int
	Seed       int64
	Bounds     spawn.Rect

	CastCooldown    time.Duration
	PingTimeout     time.Duration
	SweepEveryTicks int

	// MinPlayersToStart established connections start a level on their own;
	// a START_REQUEST starts it with fewer.
	MinPlayersToStart int
	MaxPlayers        int
	// RestartDelayTicks keeps the lobby open after a game over.
	RestartDelayTicks int

	SnapshotEveryTicks int
	MaxInboundPerTick  int
	MaxActionsPerKind  int

	// RefreshEveryTicks resends every live entity's state even when it has
	// not changed.
	RefreshEveryTicks int

	PlayerHealth int32
	PlayerSpeed  float32
	PlayerRadius float32

	MissileSpeed  float32
	MissileTTL    time.Duration
	MissileDamage int32
	MissileRadius float32

	Spawn spawn.Config
	// InitialSpawns seeds the worklist when a level starts. If nil, defaults
	// are applied; if non-nil but empty, a level starts with no monsters.
	InitialSpawns spawn.Actions
	Waves         []Wave
	Monsters      map[string]MonsterDef
}

// Wave appends its spawn actions once the level has run for At.
type Wave struct {
	At      time.Duration
	Actions spawn.Actions
}

type MonsterDef struct {
	Health         int32
	Speed          float32
	Damage         int32
	Radius         float32
	AttackCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "arena_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.Bounds.Max.X() <= c.Bounds.Min.X() || c.Bounds.Max.Y() <= c.Bounds.Min.Y() {
		c.Bounds = spawn.Rect{Min: mgl32.Vec2{-400, -300}, Max: mgl32.Vec2{400, 300}}
	}
	if c.CastCooldown <= 0 {
		c.CastCooldown = 500 * time.Millisecond
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.SweepEveryTicks <= 0 {
		c.SweepEveryTicks = c.TickRateHz
	}
	if c.MinPlayersToStart <= 0 {
		c.MinPlayersToStart = 1
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 8
	}
	if c.RestartDelayTicks <= 0 {
		c.RestartDelayTicks = 3 * c.TickRateHz
	}
	if c.SnapshotEveryTicks <= 0 {
		c.SnapshotEveryTicks = 60 * c.TickRateHz
	}
	if c.RefreshEveryTicks <= 0 {
		c.RefreshEveryTicks = c.TickRateHz
	}
	if c.MaxInboundPerTick <= 0 {
		c.MaxInboundPerTick = 64
	}
	if c.PlayerHealth <= 0 {
		c.PlayerHealth = 100
	}
	if c.PlayerSpeed <= 0 {
		c.PlayerSpeed = 120
	}
	if c.PlayerRadius <= 0 {
		c.PlayerRadius = 12
	}
	if c.MissileSpeed <= 0 {
		c.MissileSpeed = 400
	}
	if c.MissileTTL <= 0 {
		c.MissileTTL = 1500 * time.Millisecond
	}
	if c.MissileDamage <= 0 {
		c.MissileDamage = 25
	}
	if c.MissileRadius <= 0 {
		c.MissileRadius = 4
	}
	if c.Spawn.MinPlayerDistance == 0 {
		c.Spawn.MinPlayerDistance = 120
	}
	if c.Spawn.BorderlineInset == 0 {
		c.Spawn.BorderlineInset = 16
	}
	if c.Spawn.Seed == 0 {
		c.Spawn.Seed = c.Seed
	}
	if c.InitialSpawns == nil {
		c.InitialSpawns = spawn.Actions{
			{EntityKind: "Ghoul", Count: 1, Placement: spawn.Borderline},
			{EntityKind: "Ghoul", Count: 5, Placement: spawn.Random},
		}
	}
	if c.Monsters == nil {
		c.Monsters = map[string]MonsterDef{}
	}
	if _, ok := c.Monsters["Ghoul"]; !ok {
		c.Monsters["Ghoul"] = MonsterDef{}
	}
	for k, d := range c.Monsters {
		d.applyDefaults()
		c.Monsters[k] = d
	}
}

func (d *MonsterDef) applyDefaults() {
	if d.Health <= 0 {
		d.Health = 50
	}
	if d.Speed <= 0 {
		d.Speed = 60
	}
	if d.Damage <= 0 {
		d.Damage = 10
	}
	if d.Radius <= 0 {
		d.Radius = 12
	}
	if d.AttackCooldown <= 0 {
		d.AttackCooldown = time.Second
	}
}

func (c *Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}
