package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/spawn"
	"ghoulrush.io/internal/sim/tuning"
	"ghoulrush.io/internal/sim/world"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func worldConfig(id string, seed int64, tune tuning.Tuning) world.Config {
	cfg := world.Config{
		ID:         id,
		TickRateHz: tune.TickRateHz,
		Seed:       seed,
		Bounds: spawn.Rect{
			Min: mgl32.Vec2(tune.Arena.Min),
			Max: mgl32.Vec2(tune.Arena.Max),
		},
		CastCooldown:       ms(tune.CastCooldownMs),
		PingTimeout:        ms(tune.PingTimeoutMs),
		SweepEveryTicks:    tune.SweepEveryTicks,
		MinPlayersToStart:  tune.MinPlayersToStart,
		MaxPlayers:         tune.MaxPlayers,
		RestartDelayTicks:  tune.RestartDelayTicks,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		RefreshEveryTicks:  tune.RefreshEveryTicks,
		MaxInboundPerTick:  tune.MaxInboundPerTick,
		MaxActionsPerKind:  tune.MaxActionsPerKind,
		PlayerHealth:       tune.Player.Health,
		PlayerSpeed:        tune.Player.Speed,
		PlayerRadius:       tune.Player.Radius,
		MissileSpeed:       tune.Missile.Speed,
		MissileTTL:         ms(tune.Missile.TTLMs),
		MissileDamage:      tune.Missile.Damage,
		MissileRadius:      tune.Missile.Radius,
		Spawn: spawn.Config{
			MaxPerTick:           tune.Spawn.MaxPerTick,
			MinPlayerDistance:    tune.Spawn.MinPlayerDistance,
			RandomRetries:        tune.Spawn.RandomRetries,
			BorderlineCandidates: tune.Spawn.BorderlineCandidates,
			BorderlineInset:      tune.Spawn.BorderlineInset,
			Seed:                 seed,
		},
		InitialSpawns: tune.InitialSpawns,
	}
	for _, w := range tune.Waves {
		cfg.Waves = append(cfg.Waves, world.Wave{
			At:      time.Duration(w.AtSeconds * float64(time.Second)),
			Actions: w.Spawns,
		})
	}
	if len(tune.Monsters) > 0 {
		cfg.Monsters = make(map[string]world.MonsterDef, len(tune.Monsters))
		for name, m := range tune.Monsters {
			cfg.Monsters[name] = world.MonsterDef{
				Health:         m.Health,
				Speed:          m.Speed,
				Damage:         m.Damage,
				Radius:         m.Radius,
				AttackCooldown: ms(m.AttackCooldownMs),
			}
		}
	}
	return cfg
}

// resumeConfig keeps the values a snapshot was taken with so identifiers,
// cooldowns and spawn rolls stay consistent across the restart.
func resumeConfig(cfg world.Config, snap snapshot.SnapshotV1) world.Config {
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	if snap.Seed != 0 {
		cfg.Seed = snap.Seed
		cfg.Spawn.Seed = snap.Seed
	}
	if snap.CastCooldownMS > 0 {
		cfg.CastCooldown = time.Duration(snap.CastCooldownMS) * time.Millisecond
	}
	return cfg
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestFrame uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		frame, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || frame > bestFrame {
			bestFrame = frame
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
