package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ghoulrush.io/internal/sim/spawn"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int   `yaml:"tick_rate_hz"`
	Seed       int64 `yaml:"seed"`
	Arena      Arena `yaml:"arena"`

	CastCooldownMs  int `yaml:"cast_cooldown_ms"`
	PingTimeoutMs   int `yaml:"ping_timeout_ms"`
	SweepEveryTicks int `yaml:"sweep_every_ticks"`

	MinPlayersToStart  int `yaml:"min_players_to_start"`
	MaxPlayers         int `yaml:"max_players"`
	RestartDelayTicks  int `yaml:"restart_delay_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	RefreshEveryTicks  int `yaml:"refresh_every_ticks"`
	MaxInboundPerTick  int `yaml:"max_inbound_per_tick"`
	MaxActionsPerKind  int `yaml:"max_actions_per_kind"`

	Player  Player  `yaml:"player"`
	Missile Missile `yaml:"missile"`
	Spawn   Spawn   `yaml:"spawn"`

	InitialSpawns spawn.Actions      `yaml:"initial_spawns"`
	Waves         []Wave             `yaml:"waves"`
	Monsters      map[string]Monster `yaml:"monsters"`
}

type Arena struct {
	Min [2]float32 `yaml:"min"`
	Max [2]float32 `yaml:"max"`
}

type Player struct {
	Health int32   `yaml:"health"`
	Speed  float32 `yaml:"speed"`
	Radius float32 `yaml:"radius"`
}

type Missile struct {
	Speed  float32 `yaml:"speed"`
	TTLMs  int     `yaml:"ttl_ms"`
	Damage int32   `yaml:"damage"`
	Radius float32 `yaml:"radius"`
}

type Spawn struct {
	MaxPerTick           int     `yaml:"max_per_tick"`
	MinPlayerDistance    float32 `yaml:"min_player_distance"`
	RandomRetries        int     `yaml:"random_retries"`
	BorderlineCandidates int     `yaml:"borderline_candidates"`
	BorderlineInset      float32 `yaml:"borderline_inset"`
}

type Wave struct {
	AtSeconds float64       `yaml:"at_seconds"`
	Spawns    spawn.Actions `yaml:"spawns"`
}

type Monster struct {
	Health           int32   `yaml:"health"`
	Speed            float32 `yaml:"speed"`
	Damage           int32   `yaml:"damage"`
	Radius           float32 `yaml:"radius"`
	AttackCooldownMs int     `yaml:"attack_cooldown_ms"`
}

// Defaults mirrors configs/tuning.yaml so the server runs without the file.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		Seed:               1337,
		Arena:              Arena{Min: [2]float32{-400, -300}, Max: [2]float32{400, 300}},
		CastCooldownMs:     500,
		PingTimeoutMs:      5000,
		SweepEveryTicks:    20,
		MinPlayersToStart:  1,
		MaxPlayers:         8,
		RestartDelayTicks:  60,
		SnapshotEveryTicks: 1200,
		RefreshEveryTicks:  20,
		MaxInboundPerTick:  64,
		MaxActionsPerKind:  32,
		Player:             Player{Health: 100, Speed: 120, Radius: 12},
		Missile:            Missile{Speed: 400, TTLMs: 1500, Damage: 25, Radius: 4},
		Spawn: Spawn{
			MaxPerTick:           10,
			MinPlayerDistance:    120,
			RandomRetries:        16,
			BorderlineCandidates: 8,
			BorderlineInset:      16,
		},
		InitialSpawns: spawn.Actions{
			{EntityKind: "Ghoul", Count: 1, Placement: spawn.Borderline},
			{EntityKind: "Ghoul", Count: 5, Placement: spawn.Random},
		},
		Monsters: map[string]Monster{
			"Ghoul": {Health: 50, Speed: 60, Damage: 10, Radius: 12, AttackCooldownMs: 1000},
		},
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate rejects values the world cannot run with. Zero values are fine;
// the world fills them with defaults.
func (t Tuning) Validate() error {
	if t.TickRateHz < 0 || t.TickRateHz > 240 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.Arena != (Arena{}) && (t.Arena.Max[0] <= t.Arena.Min[0] || t.Arena.Max[1] <= t.Arena.Min[1]) {
		return fmt.Errorf("arena max must exceed min")
	}
	if t.MaxPlayers > 0 && t.MinPlayersToStart > t.MaxPlayers {
		return fmt.Errorf("min_players_to_start %d exceeds max_players %d", t.MinPlayersToStart, t.MaxPlayers)
	}
	if t.RefreshEveryTicks < 0 {
		return fmt.Errorf("refresh_every_ticks must not be negative: %d", t.RefreshEveryTicks)
	}
	last := -1.0
	for i, w := range t.Waves {
		if w.AtSeconds < last {
			return fmt.Errorf("waves[%d]: at_seconds must not decrease", i)
		}
		last = w.AtSeconds
	}
	for i, a := range append(append(spawn.Actions(nil), t.InitialSpawns...), flatten(t.Waves)...) {
		if a.EntityKind == "" {
			return fmt.Errorf("spawn action %d: entity is required", i)
		}
	}
	return nil
}

func flatten(ws []Wave) spawn.Actions {
	var out spawn.Actions
	for _, w := range ws {
		out = append(out, w.Spawns...)
	}
	return out
}
