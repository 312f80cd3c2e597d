package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
)

type Transform struct {
	Pos mgl32.Vec2
	Vel mgl32.Vec2
}

type Vitals struct {
	Health    int32
	MaxHealth int32
}

type Player struct {
	Conn   conn.ID
	Name   string
	Radius float32
	// Walk and Look are the latest directions the client asked for.
	Walk mgl32.Vec2
	Look mgl32.Vec2
}

type MonsterAction uint8

const (
	MonsterIdle MonsterAction = iota
	MonsterChase
	MonsterAttack
)

type Monster struct {
	Kind         string
	Damage       int32
	Speed        float32
	Radius       float32
	Cooldown     time.Duration
	NextAttackAt time.Duration
	Destination  mgl32.Vec2
	Action       MonsterAction
}

type Missile struct {
	Owner     netid.ID
	OwnerConn conn.ID
	Damage    int32
	Radius    float32
	ExpiresAt time.Duration
}

var (
	netMetaC   = donburi.NewComponentType[netid.Metadata]()
	transformC = donburi.NewComponentType[Transform]()
	vitalsC    = donburi.NewComponentType[Vitals]()
	playerC    = donburi.NewComponentType[Player]()
	monsterC   = donburi.NewComponentType[Monster]()
	missileC   = donburi.NewComponentType[Missile]()

	networkedQ = donburi.NewQuery(filter.Contains(netMetaC, transformC))
	playersQ   = donburi.NewQuery(filter.Contains(netMetaC, playerC, transformC))
	monstersQ  = donburi.NewQuery(filter.Contains(netMetaC, monsterC, transformC))
	missilesQ  = donburi.NewQuery(filter.Contains(netMetaC, missileC, transformC))
)

// attachNetMetadata gives e its network identity. Metadata is immutable;
// attaching it twice is a bug.
func attachNetMetadata(entry *donburi.Entry, md netid.Metadata) {
	if entry.HasComponent(netMetaC) {
		panic("world: entity already carries network metadata")
	}
	donburi.Add(entry, netMetaC, &md)
}
