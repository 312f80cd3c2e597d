package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/spawn"
	"ghoulrush.io/internal/sim/tuning"
	"ghoulrush.io/internal/sim/world"
)

func TestWorldConfigFromTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.Waves = []tuning.Wave{{AtSeconds: 1.5, Spawns: spawn.Actions{{EntityKind: "Ghoul", Count: 3, Placement: spawn.Random}}}}
	cfg := worldConfig("arena_9", 99, tune)

	if cfg.ID != "arena_9" || cfg.Seed != 99 || cfg.Spawn.Seed != 99 {
		t.Fatalf("identity: %+v", cfg)
	}
	if cfg.CastCooldown != 500*time.Millisecond || cfg.PingTimeout != 5*time.Second || cfg.MissileTTL != 1500*time.Millisecond {
		t.Fatalf("durations: cast=%v ping=%v ttl=%v", cfg.CastCooldown, cfg.PingTimeout, cfg.MissileTTL)
	}
	if cfg.RefreshEveryTicks != 20 || cfg.SnapshotEveryTicks != 1200 {
		t.Fatalf("intervals: refresh=%d snapshot=%d", cfg.RefreshEveryTicks, cfg.SnapshotEveryTicks)
	}
	if cfg.Bounds.Min.X() != -400 || cfg.Bounds.Max.Y() != 300 {
		t.Fatalf("bounds=%+v", cfg.Bounds)
	}
	if len(cfg.Waves) != 1 || cfg.Waves[0].At != 1500*time.Millisecond || cfg.Waves[0].Actions.Remaining() != 3 {
		t.Fatalf("waves=%+v", cfg.Waves)
	}
	if g := cfg.Monsters["Ghoul"]; g.Health != 50 || g.AttackCooldown != time.Second {
		t.Fatalf("ghoul=%+v", g)
	}
	if cfg.Spawn.MaxPerTick != 10 || cfg.InitialSpawns.Remaining() != 6 {
		t.Fatalf("spawn cfg=%+v initial=%d", cfg.Spawn, cfg.InitialSpawns.Remaining())
	}
}

func TestResumeConfigPrefersSnapshot(t *testing.T) {
	cfg := worldConfig("arena_1", 1, tuning.Defaults())
	cfg = resumeConfig(cfg, snapshot.SnapshotV1{TickRate: 30, Seed: 5, CastCooldownMS: 250})
	if cfg.TickRateHz != 30 || cfg.Seed != 5 || cfg.Spawn.Seed != 5 || cfg.CastCooldown != 250*time.Millisecond {
		t.Fatalf("resumed cfg=%+v", cfg)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"1200.snap.zst", "12000.snap.zst", "2400.snap.zst", "junk.snap.zst", "3600.txt"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "12000.snap.zst" {
		t.Fatalf("latest=%q", got)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir latest=%q", got)
	}
}

type fakeSource struct{ m world.WorldMetrics }

func (f fakeSource) ID() string                  { return "arena_1" }
func (f fakeSource) CurrentFrame() uint64        { return f.m.Frame }
func (f fakeSource) Metrics() world.WorldMetrics { return f.m }

func TestMetricsHandler(t *testing.T) {
	src := fakeSource{m: world.WorldMetrics{Frame: 77, Running: true, Connections: 2, Monsters: 5, Counters: world.Counters{Kills: 3}}}
	rec := httptest.NewRecorder()
	metricsHandler(src, nil, nil, nil)(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`ghoulrush_world_frame{world="arena_1"} 77`,
		`ghoulrush_world_running{world="arena_1"} 1`,
		`ghoulrush_world_monsters{world="arena_1"} 5`,
		`ghoulrush_kills_total{world="arena_1"} 3`,
		`ghoulrush_world_queue_depth{world="arena_1",queue="connect"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestStateHandlerLoopbackOnly(t *testing.T) {
	h := stateHandler(fakeSource{m: world.WorldMetrics{Frame: 3}})

	req := httptest.NewRequest("GET", "/admin/v1/state", nil)
	req.RemoteAddr = "10.0.0.5:4000"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != 403 {
		t.Fatalf("remote caller got %d", rec.Code)
	}

	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"world_id":"arena_1"`) {
		t.Fatalf("loopback caller got %d %s", rec.Code, rec.Body.String())
	}
}
