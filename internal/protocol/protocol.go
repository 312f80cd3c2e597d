package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello           = "HELLO"
	TypeWelcome         = "WELCOME"
	TypeStartRequest    = "START_REQUEST"
	TypeStartGame       = "START_GAME"
	TypeEntityCreated   = "ENTITY_CREATED"
	TypeEntityUpdated   = "ENTITY_UPDATED"
	TypeEntityDestroyed = "ENTITY_DESTROYED"
	TypePing            = "PING"
	TypePong            = "PONG"
	TypeAct             = "ACT"
	TypeError           = "ERROR"
)

// Entity kinds carried in ENTITY_CREATED. Monsters use their definition
// name (for example "Ghoul").
const (
	KindPlayer  = "PLAYER"
	KindMissile = "MISSILE"
)

// Reliability is the delivery class of a message kind.
type Reliability uint8

const (
	// Reliable messages must arrive and keep their order relative to other
	// reliable messages on the same connection.
	Reliable Reliability = iota
	// Unreliable messages may be dropped or reordered; each one carries the
	// latest authoritative value.
	Unreliable
)

func (r Reliability) String() string {
	if r == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// ReliabilityOf reports the delivery class for a message type. It is a
// property of the kind and never negotiated.
func ReliabilityOf(typ string) Reliability {
	switch typ {
	case TypeEntityUpdated, TypePing, TypePong:
		return Unreliable
	default:
		return Reliable
	}
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
