package client

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"ghoulrush.io/internal/protocol"
)

// Body is the mirrored state of one entity.
type Body struct {
	Kind   string
	Name   string
	Owner  uint64
	Pos    mgl32.Vec2
	Vel    mgl32.Vec2
	Health int32
	// Predicted is set while the entity exists only on this client.
	Predicted bool
}

var (
	bodyC  = donburi.NewComponentType[Body]()
	bodies = donburi.NewQuery(filter.Contains(bodyC))
)

// view is the client's local entity storage, driven by netsync.Mirror.
type view struct {
	ecs donburi.World
}

func newView() *view { return &view{ecs: donburi.NewWorld()} }

func (v *view) Spawn(m protocol.EntityCreatedMsg) donburi.Entity {
	e := v.ecs.Create(bodyC)
	bodyC.SetValue(v.ecs.Entry(e), Body{
		Kind:   m.Kind,
		Name:   m.Name,
		Owner:  m.Owner,
		Pos:    m.Pos,
		Health: m.Health,
	})
	return e
}

func (v *view) Apply(e donburi.Entity, m protocol.EntityUpdatedMsg) {
	if !v.ecs.Valid(e) {
		return
	}
	b := bodyC.Get(v.ecs.Entry(e))
	b.Pos = m.Pos
	b.Vel = m.Vel
	if m.Health != 0 {
		b.Health = m.Health
	}
	b.Predicted = false
}

func (v *view) Despawn(e donburi.Entity) {
	if v.ecs.Valid(e) {
		v.ecs.Remove(e)
	}
}

func (v *view) predict(kind string, pos, vel mgl32.Vec2, owner uint64) donburi.Entity {
	e := v.ecs.Create(bodyC)
	bodyC.SetValue(v.ecs.Entry(e), Body{Kind: kind, Owner: owner, Pos: pos, Vel: vel, Predicted: true})
	return e
}

func (v *view) body(e donburi.Entity) (Body, bool) {
	if !v.ecs.Valid(e) {
		return Body{}, false
	}
	return *bodyC.Get(v.ecs.Entry(e)), true
}

func (v *view) count() int { return bodies.Count(v.ecs) }
