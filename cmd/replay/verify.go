package main

import (
	"fmt"
	"sort"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/world"
)

// verifier rebuilds the live identifier set from the tick journal and
// checks it against what the world reported.
type verifier struct {
	live  map[uint64]string
	seen  map[uint64]struct{}
	conns map[uint64]struct{}

	begun     bool
	lastFrame uint64
	nextNetID uint64

	snap        *snapshot.SnapshotV1
	snapChecked bool
	skipTo      uint64

	report report
}

type report struct {
	Entries     int
	FirstFrame  uint64
	LastFrame   uint64
	Created     int
	Destroyed   int
	Connects    int
	Disconnects int
	Levels      int
	GameOvers   int
	MaxLive     int
	SnapshotOK  bool
}

func newVerifier(snap *snapshot.SnapshotV1) *verifier {
	return &verifier{
		live:  map[uint64]string{},
		seen:  map[uint64]struct{}{},
		conns: map[uint64]struct{}{},
		snap:  snap,
	}
}

// seed starts the rebuild from a snapshot instead of an empty world, for
// journals of a process that resumed from it. Entries up to the snapshot
// frame are skipped.
func (v *verifier) seed(snap snapshot.SnapshotV1) {
	for _, m := range snap.Monsters {
		v.live[m.ID] = m.Kind
		v.seen[m.ID] = struct{}{}
	}
	v.nextNetID = snap.NextNetID
	v.skipTo = snap.Header.Frame
	v.snap = nil
}

func (v *verifier) apply(e world.TickLogEntry) error {
	if e.Frame <= v.skipTo {
		return nil
	}
	if v.begun && e.Frame <= v.lastFrame {
		return fmt.Errorf("frame %d: not after previous frame %d", e.Frame, v.lastFrame)
	}
	if v.snap != nil && !v.snapChecked && e.Frame > v.snap.Header.Frame {
		if err := v.checkSnapshot(); err != nil {
			return err
		}
	}
	if !v.begun {
		v.report.FirstFrame = e.Frame
	}
	v.begun = true
	v.lastFrame = e.Frame
	v.report.Entries++
	v.report.LastFrame = e.Frame

	for _, c := range e.Connects {
		if _, ok := v.conns[c.Conn]; ok {
			return fmt.Errorf("frame %d: connection %d connected twice", e.Frame, c.Conn)
		}
		v.conns[c.Conn] = struct{}{}
		v.report.Connects++
	}
	for _, c := range e.Created {
		if c.ID == 0 {
			return fmt.Errorf("frame %d: created entity with id 0", e.Frame)
		}
		if _, ok := v.seen[c.ID]; ok {
			return fmt.Errorf("frame %d: identifier %d reused", e.Frame, c.ID)
		}
		if c.ID >= e.NextNetID {
			return fmt.Errorf("frame %d: identifier %d not below counter %d", e.Frame, c.ID, e.NextNetID)
		}
		v.seen[c.ID] = struct{}{}
		v.live[c.ID] = c.Kind
		v.report.Created++
	}
	for _, id := range e.Destroyed {
		if _, ok := v.live[id]; !ok {
			return fmt.Errorf("frame %d: destroyed unknown identifier %d", e.Frame, id)
		}
		delete(v.live, id)
		v.report.Destroyed++
	}
	for _, d := range e.Disconnects {
		if _, ok := v.conns[d.Conn]; !ok {
			return fmt.Errorf("frame %d: disconnect of unknown connection %d", e.Frame, d.Conn)
		}
		delete(v.conns, d.Conn)
		if _, ok := v.live[d.Player]; d.Player != 0 && ok {
			return fmt.Errorf("frame %d: player %d of connection %d outlived its disconnect", e.Frame, d.Player, d.Conn)
		}
		v.report.Disconnects++
	}

	if e.NextNetID < v.nextNetID {
		return fmt.Errorf("frame %d: identifier counter went back from %d to %d", e.Frame, v.nextNetID, e.NextNetID)
	}
	v.nextNetID = e.NextNetID
	if len(v.live) != e.Entities {
		return fmt.Errorf("frame %d: journal rebuilds %d live entities, world reported %d", e.Frame, len(v.live), e.Entities)
	}
	if e.Started {
		v.report.Levels++
	}
	if e.GameOver {
		v.report.GameOvers++
		if len(v.live) != 0 {
			return fmt.Errorf("frame %d: game over left %d entities", e.Frame, len(v.live))
		}
	}
	if len(v.live) > v.report.MaxLive {
		v.report.MaxLive = len(v.live)
	}
	return nil
}

// finish runs checks that need the whole journal.
func (v *verifier) finish() error {
	if !v.begun {
		return fmt.Errorf("journal is empty")
	}
	if v.snap != nil && !v.snapChecked {
		if v.lastFrame >= v.snap.Header.Frame {
			return v.checkSnapshot()
		}
		return fmt.Errorf("journal ends at frame %d before snapshot frame %d", v.lastFrame, v.snap.Header.Frame)
	}
	return nil
}

// checkSnapshot compares the monsters live at the snapshot frame with the
// ones the snapshot stored.
func (v *verifier) checkSnapshot() error {
	v.snapChecked = true
	var want []uint64
	for _, m := range v.snap.Monsters {
		want = append(want, m.ID)
	}
	var got []uint64
	for id, kind := range v.live {
		if kind != protocol.KindPlayer && kind != protocol.KindMissile {
			got = append(got, id)
		}
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != len(want) {
		return fmt.Errorf("snapshot frame %d: journal has %d monsters, snapshot %d", v.snap.Header.Frame, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("snapshot frame %d: monster ids differ: journal=%v snapshot=%v", v.snap.Header.Frame, got, want)
		}
	}
	if v.snap.NextNetID < v.nextNetID {
		return fmt.Errorf("snapshot frame %d: counter %d below journal counter %d", v.snap.Header.Frame, v.snap.NextNetID, v.nextNetID)
	}
	v.report.SnapshotOK = true
	return nil
}
