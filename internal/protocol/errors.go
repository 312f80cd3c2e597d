package protocol

import "errors"

var (
	// ErrUnknownType is returned when a frame carries a type the codec does
	// not know.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrVersion is returned by the handshake on a protocol version mismatch.
	ErrVersion = errors.New("protocol: unsupported version")
)

// Error codes sent in ERROR messages.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	ErrWorldBusy    = "E_WORLD_BUSY"
	ErrWorldClosing = "E_WORLD_CLOSING"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrWorldBusy:       {},
	ErrWorldClosing:    {},
	ErrBadRequest:      {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
