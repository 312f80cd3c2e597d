package log

import (
	"path/filepath"
	"testing"
	"time"

	"ghoulrush.io/internal/sim/world"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for f := uint64(1); f <= 3; f++ {
		entry := world.TickLogEntry{Frame: f, Entities: int(f), NextNetID: f + 10}
		if f == 2 {
			entry.Created = []world.RecordedEntity{{ID: 11, Kind: "Ghoul", Pos: [2]float32{1, 2}}}
		}
		if err := l.WriteTick(entry); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []world.TickLogEntry
	if err := ReadTicks(dir, func(e world.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[0].Frame != 1 || got[2].Frame != 3 {
		t.Fatalf("got=%+v", got)
	}
	if len(got[1].Created) != 1 || got[1].Created[0].Kind != "Ghoul" || got[1].Created[0].Pos != [2]float32{1, 2} {
		t.Fatalf("created=%+v", got[1].Created)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	var closed []string
	w.OnSegmentClosed(func(p string) { closed = append(closed, filepath.Base(p)) })
	if err := w.Write(map[string]int{"frame": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"frame": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := JournalFiles(dir, "events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"events-2026-03-01-10.jsonl.zst", "events-2026-03-01-11.jsonl.zst"}
	if len(files) != 2 || filepath.Base(files[0]) != want[0] || filepath.Base(files[1]) != want[1] {
		t.Fatalf("files=%v", files)
	}
	if len(closed) != 2 || closed[0] != want[0] || closed[1] != want[1] {
		t.Fatalf("closed=%v", closed)
	}
	_ = w.Close()
	if len(closed) != 2 {
		t.Fatalf("second close reported again: %v", closed)
	}
}

func TestSnapshotLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewSnapshotLogger(dir)
	if err := l.WriteSnapshot(SnapshotRecord{Frame: 1200, Path: "snapshots/1200.snap.zst", Monsters: 4, NextNetID: 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = l.Close()

	var recs []SnapshotRecord
	if err := ReadSnapshotRecords(dir, func(r SnapshotRecord) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 1 || recs[0].Frame != 1200 || recs[0].NextNetID != 9 {
		t.Fatalf("recs=%+v", recs)
	}
}
