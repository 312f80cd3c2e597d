package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "ghoulrush.io/internal/persistence/log"
	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/world"
)

var errStop = errors.New("stop")

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		worldID  = flag.String("world", "arena_1", "world id")
		snapPath = flag.String("snapshot", "", "snapshot to check the rebuilt identifier set against (optional)")
		toFrame  = flag.Uint64("to_frame", 0, "stop after frame (inclusive, optional)")
		resumed  = flag.Bool("resumed", false, "the journal continues from -snapshot: start from its monsters instead of checking against them")
	)
	flag.Parse()

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s frame=%d seed=%d monsters=%d pending=%d next_net_id=%d\n",
			s.Header.Version, s.Header.WorldID, s.Header.Frame, s.Seed, len(s.Monsters), len(s.Pending), s.NextNetID)
		snap = &s
	}

	v := newVerifier(snap)
	if *resumed {
		if snap == nil {
			fmt.Fprintln(os.Stderr, "-resumed needs -snapshot")
			os.Exit(2)
		}
		v.seed(*snap)
	}
	err := persistlog.ReadTicks(worldDir, func(e world.TickLogEntry) error {
		if *toFrame != 0 && e.Frame > *toFrame {
			return errStop
		}
		return v.apply(e)
	})
	if err != nil && !errors.Is(err, errStop) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if err := v.finish(); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	r := v.report
	fmt.Printf("replay ok: entries=%d frames=%d..%d created=%d destroyed=%d connects=%d disconnects=%d levels=%d game_overs=%d max_live=%d live=%d snapshot_ok=%v\n",
		r.Entries, r.FirstFrame, r.LastFrame, r.Created, r.Destroyed, r.Connects, r.Disconnects, r.Levels, r.GameOvers, r.MaxLive, len(v.live), r.SnapshotOK)
}
