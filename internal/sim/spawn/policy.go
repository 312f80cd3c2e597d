// Package spawn turns declarative spawn policies into monsters, a bounded
// number per tick.
package spawn

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

type Placement uint8

const (
	// Borderline places on the edge of the playable area, away from players.
	Borderline Placement = iota
	// Random places uniformly inside the playable area, keeping a minimum
	// distance from every player.
	Random
)

func (p Placement) String() string {
	switch p {
	case Borderline:
		return "borderline"
	case Random:
		return "random"
	}
	return fmt.Sprintf("placement(%d)", uint8(p))
}

func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "borderline", "border":
		return Borderline, nil
	case "random":
		return Random, nil
	}
	return 0, fmt.Errorf("unknown placement %q", s)
}

func (p *Placement) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParsePlacement(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Placement) MarshalYAML() (any, error) { return p.String(), nil }

func (p Placement) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Placement) UnmarshalText(b []byte) error {
	v, err := ParsePlacement(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Action asks for Count more entities of EntityKind.
type Action struct {
	EntityKind string    `yaml:"entity" json:"entity"`
	Count      uint32    `yaml:"count" json:"count"`
	Placement  Placement `yaml:"placement" json:"placement"`
}

// Actions is the ordered worklist. The head is serviced first.
type Actions []Action

// Remaining is the total count still to spawn.
func (a Actions) Remaining() uint64 {
	var n uint64
	for _, x := range a {
		n += uint64(x.Count)
	}
	return n
}

type Rect struct {
	Min mgl32.Vec2
	Max mgl32.Vec2
}

func (r Rect) Contains(p mgl32.Vec2) bool {
	return p.X() >= r.Min.X() && p.X() <= r.Max.X() && p.Y() >= r.Min.Y() && p.Y() <= r.Max.Y()
}

func (r Rect) Size() mgl32.Vec2 { return r.Max.Sub(r.Min) }

// Clamp moves p inside r.
func (r Rect) Clamp(p mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{
		mgl32.Clamp(p.X(), r.Min.X(), r.Max.X()),
		mgl32.Clamp(p.Y(), r.Min.Y(), r.Max.Y()),
	}
}

// Inset shrinks r by d on every side, collapsing to the centre if too small.
func (r Rect) Inset(d float32) Rect {
	out := Rect{Min: r.Min.Add(mgl32.Vec2{d, d}), Max: r.Max.Sub(mgl32.Vec2{d, d})}
	if out.Min.X() > out.Max.X() || out.Min.Y() > out.Max.Y() {
		c := r.Min.Add(r.Max).Mul(0.5)
		return Rect{Min: c, Max: c}
	}
	return out
}

// Geometry is what the scheduler needs to know about the world.
type Geometry interface {
	PlayableBounds() Rect
	// DistanceToNearestPlayer returns +Inf when there are no players.
	DistanceToNearestPlayer(p mgl32.Vec2) float32
}

// Factory creates the local entity for a monster kind at pos.
type Factory[E any] interface {
	CreateMonster(kind string, pos mgl32.Vec2) E
}
