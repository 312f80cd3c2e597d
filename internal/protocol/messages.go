package protocol

import "github.com/go-gl/mathgl/mgl32"

// Message is implemented by every payload the codec knows.
type Message interface {
	MessageType() string
}

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	Name              string   `json:"name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ConnectionID    uint64      `json:"connection_id"`
	SessionID       string      `json:"session_id,omitempty"`
	Frame           uint64      `json:"frame"`
	InProgress      bool        `json:"in_progress,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz     int   `json:"tick_rate_hz"`
	CastCooldownMS int64 `json:"cast_cooldown_ms"`
	PingTimeoutMS  int64 `json:"ping_timeout_ms"`
	Bounds         Rect  `json:"bounds"`
}

type Rect struct {
	Min mgl32.Vec2 `json:"min"`
	Max mgl32.Vec2 `json:"max"`
}

// START_REQUEST (client -> server): ask the lobby to start with the players
// currently connected.
type StartRequestMsg struct {
	Type string `json:"type"`
}

// START_GAME (server -> client)
type StartGameMsg struct {
	Type    string      `json:"type"`
	Frame   uint64      `json:"frame"`
	Players []PlayerRef `json:"players"`
}

type PlayerRef struct {
	ConnectionID uint64     `json:"connection_id"`
	EntityID     uint64     `json:"entity_id"`
	Name         string     `json:"name,omitempty"`
	Pos          mgl32.Vec2 `json:"pos"`
}

// ENTITY_CREATED (server -> client)
type EntityCreatedMsg struct {
	Type       string     `json:"type"`
	ID         uint64     `json:"id"`
	Kind       string     `json:"kind"`
	SpawnFrame uint64     `json:"spawn_frame"`
	Pos        mgl32.Vec2 `json:"pos"`
	Owner      uint64     `json:"owner,omitempty"`
	ClientRef  uint64     `json:"client_ref,omitempty"`
	Name       string     `json:"name,omitempty"`
	Health     int32      `json:"health,omitempty"`
}

// ENTITY_UPDATED (server -> client). Frame orders updates for one entity.
type EntityUpdatedMsg struct {
	Type   string     `json:"type"`
	ID     uint64     `json:"id"`
	Frame  uint64     `json:"frame"`
	Pos    mgl32.Vec2 `json:"pos"`
	Vel    mgl32.Vec2 `json:"vel"`
	Health int32      `json:"health,omitempty"`
}

// ENTITY_DESTROYED (server -> client)
type EntityDestroyedMsg struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id"`
	Frame uint64 `json:"frame"`
}

type PingMsg struct {
	Type       string `json:"type"`
	Seq        uint32 `json:"seq"`
	ClientTime int64  `json:"client_time"`
}

type PongMsg struct {
	Type       string `json:"type"`
	Seq        uint32 `json:"seq"`
	ClientTime int64  `json:"client_time"`
	ServerTime int64  `json:"server_time"`
	Frame      uint64 `json:"frame"`
}

// Act kinds.
const (
	ActWalk = "WALK"
	ActLook = "LOOK"
	ActCast = "CAST"
)

// ACT (client -> server). Dir is a unit direction; the zero vector stops a
// walk. ClientRef carries a client-predicted identifier for casts.
type ActMsg struct {
	Type      string     `json:"type"`
	Kind      string     `json:"kind"`
	Dir       mgl32.Vec2 `json:"dir"`
	ClientRef uint64     `json:"client_ref,omitempty"`
	Seq       uint32     `json:"seq,omitempty"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (HelloMsg) MessageType() string           { return TypeHello }
func (WelcomeMsg) MessageType() string         { return TypeWelcome }
func (StartRequestMsg) MessageType() string    { return TypeStartRequest }
func (StartGameMsg) MessageType() string       { return TypeStartGame }
func (EntityCreatedMsg) MessageType() string   { return TypeEntityCreated }
func (EntityUpdatedMsg) MessageType() string   { return TypeEntityUpdated }
func (EntityDestroyedMsg) MessageType() string { return TypeEntityDestroyed }
func (PingMsg) MessageType() string            { return TypePing }
func (PongMsg) MessageType() string            { return TypePong }
func (ActMsg) MessageType() string             { return TypeAct }
func (ErrorMsg) MessageType() string           { return TypeError }
