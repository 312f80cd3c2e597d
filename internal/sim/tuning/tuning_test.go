package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"ghoulrush.io/internal/sim/spawn"
)

func TestLoadRepoTuning(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Defaults()
	if tune.TickRateHz != def.TickRateHz || tune.CastCooldownMs != def.CastCooldownMs || tune.RefreshEveryTicks != def.RefreshEveryTicks {
		t.Fatalf("tuning.yaml drifted from Defaults: %+v", tune)
	}
	if len(tune.InitialSpawns) != 2 || tune.InitialSpawns[0].Placement != spawn.Borderline || tune.InitialSpawns[1].Count != 5 {
		t.Fatalf("initial spawns=%+v", tune.InitialSpawns)
	}
	if _, ok := tune.Monsters["Ghoul"]; !ok {
		t.Fatalf("missing Ghoul definition")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"arena":   "arena: {min: [10, 10], max: [0, 0]}\n",
		"players": "min_players_to_start: 4\nmax_players: 2\n",
		"waves":   "waves:\n  - at_seconds: 30\n    spawns: [{entity: Ghoul, count: 1, placement: random}]\n  - at_seconds: 10\n    spawns: [{entity: Ghoul, count: 1, placement: random}]\n",
		"entity":  "initial_spawns: [{count: 3, placement: random}]\n",
		"place":   "initial_spawns: [{entity: Ghoul, count: 3, placement: sideways}]\n",
		"refresh": "refresh_every_ticks: -1\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		p := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
