package main

import (
	"math"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/client"
	"ghoulrush.io/internal/protocol"
)

// brain keeps away from the nearest monster and shoots at it.
type brain struct {
	r        *rand.Rand
	cooldown time.Duration
	lastCast time.Time
}

type decision struct {
	walk mgl32.Vec2
	aim  mgl32.Vec2
	cast bool
}

func (b *brain) decide(self client.Entity, all []client.Entity, now time.Time) decision {
	target, ok := nearestMonster(self, all)
	if !ok {
		return decision{walk: b.wander()}
	}
	to := target.Pos.Sub(self.Pos)
	if to.Len() < 1e-6 {
		return decision{walk: b.wander()}
	}
	aim := to.Normalize()
	// Strafe sideways, backing off a little.
	side := mgl32.Vec2{-aim.Y(), aim.X()}
	if b.r.Intn(2) == 0 {
		side = side.Mul(-1)
	}
	d := decision{walk: side.Sub(aim.Mul(0.5)).Normalize(), aim: aim}
	if now.Sub(b.lastCast) >= b.cooldown {
		d.cast = true
		b.lastCast = now
	}
	return d
}

func (b *brain) wander() mgl32.Vec2 {
	a := b.r.Float64() * 2 * math.Pi
	return mgl32.Vec2{float32(math.Cos(a)), float32(math.Sin(a))}
}

func nearestMonster(self client.Entity, all []client.Entity) (client.Entity, bool) {
	var (
		best  client.Entity
		bestD float32 = -1
	)
	for _, e := range all {
		if e.ID == self.ID || e.Predicted || e.Kind == protocol.KindPlayer || e.Kind == protocol.KindMissile {
			continue
		}
		d := e.Pos.Sub(self.Pos).Len()
		if bestD < 0 || d < bestD {
			best, bestD = e, d
		}
	}
	return best, bestD >= 0
}
