package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/client"
	"ghoulrush.io/internal/protocol"
)

func TestBrainTargetsNearestMonster(t *testing.T) {
	self := client.Entity{ID: 1, Body: client.Body{Kind: protocol.KindPlayer}}
	all := []client.Entity{
		self,
		{ID: 2, Body: client.Body{Kind: protocol.KindPlayer, Pos: mgl32.Vec2{1, 0}}},
		{ID: 3, Body: client.Body{Kind: "Ghoul", Pos: mgl32.Vec2{0, 50}}},
		{ID: 4, Body: client.Body{Kind: "Ghoul", Pos: mgl32.Vec2{0, -10}}},
		{ID: 5, Body: client.Body{Kind: protocol.KindMissile, Pos: mgl32.Vec2{2, 2}}},
	}
	b := &brain{r: rand.New(rand.NewSource(1)), cooldown: time.Second}
	now := time.Unix(100, 0)

	d := b.decide(self, all, now)
	if !d.cast || !d.aim.ApproxEqual(mgl32.Vec2{0, -1}) {
		t.Fatalf("decision=%+v", d)
	}
	if l := d.walk.Len(); l < 0.99 || l > 1.01 {
		t.Fatalf("walk not normalized: %v", d.walk)
	}
	if d := b.decide(self, all, now.Add(500*time.Millisecond)); d.cast {
		t.Fatalf("cast inside cooldown")
	}
	if d := b.decide(self, all, now.Add(time.Second)); !d.cast {
		t.Fatalf("expected cast after cooldown")
	}
}

func TestBrainWandersWithoutMonsters(t *testing.T) {
	self := client.Entity{ID: 1, Body: client.Body{Kind: protocol.KindPlayer}}
	b := &brain{r: rand.New(rand.NewSource(2))}
	d := b.decide(self, []client.Entity{self}, time.Now())
	if d.cast {
		t.Fatalf("cast with no target")
	}
	if l := d.walk.Len(); l < 0.99 || l > 1.01 {
		t.Fatalf("walk=%v", d.walk)
	}
}
