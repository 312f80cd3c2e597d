package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is one encoded message as handed to the transport. Reliable kinds
// travel as JSON text frames, unreliable kinds as msgpack binary frames.
type Frame struct {
	Binary bool
	Data   []byte
}

// Encode stamps the message type and serializes m for its delivery class.
func Encode(m Message) (Frame, error) {
	m = stamp(m)
	if ReliabilityOf(m.MessageType()) == Unreliable {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		enc.UseCompactInts(true)
		if err := enc.Encode(m); err != nil {
			return Frame{}, fmt.Errorf("encode %s: %w", m.MessageType(), err)
		}
		return Frame{Binary: true, Data: buf.Bytes()}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return Frame{Data: b}, nil
}

// Decode parses a frame produced by Encode. Frames of unknown type return
// ErrUnknownType.
func Decode(f Frame) (Message, error) {
	unmarshal := json.Unmarshal
	if f.Binary {
		unmarshal = unmarshalMsgpack
	}
	var base BaseMessage
	if err := unmarshal(f.Data, &base); err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	var (
		m   Message
		err error
	)
	switch base.Type {
	case TypeHello:
		m, err = decodeAs[HelloMsg](f.Data, unmarshal)
	case TypeWelcome:
		m, err = decodeAs[WelcomeMsg](f.Data, unmarshal)
	case TypeStartRequest:
		m, err = decodeAs[StartRequestMsg](f.Data, unmarshal)
	case TypeStartGame:
		m, err = decodeAs[StartGameMsg](f.Data, unmarshal)
	case TypeEntityCreated:
		m, err = decodeAs[EntityCreatedMsg](f.Data, unmarshal)
	case TypeEntityUpdated:
		m, err = decodeAs[EntityUpdatedMsg](f.Data, unmarshal)
	case TypeEntityDestroyed:
		m, err = decodeAs[EntityDestroyedMsg](f.Data, unmarshal)
	case TypePing:
		m, err = decodeAs[PingMsg](f.Data, unmarshal)
	case TypePong:
		m, err = decodeAs[PongMsg](f.Data, unmarshal)
	case TypeAct:
		m, err = decodeAs[ActMsg](f.Data, unmarshal)
	case TypeError:
		m, err = decodeAs[ErrorMsg](f.Data, unmarshal)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", base.Type, err)
	}
	return m, nil
}

func decodeAs[T Message](b []byte, unmarshal func([]byte, any) error) (Message, error) {
	var m T
	if err := unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalMsgpack(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func stamp(m Message) Message {
	switch v := m.(type) {
	case HelloMsg:
		v.Type = TypeHello
		if v.ProtocolVersion == "" {
			v.ProtocolVersion = Version
		}
		return v
	case WelcomeMsg:
		v.Type = TypeWelcome
		if v.ProtocolVersion == "" {
			v.ProtocolVersion = Version
		}
		return v
	case StartRequestMsg:
		v.Type = TypeStartRequest
		return v
	case StartGameMsg:
		v.Type = TypeStartGame
		return v
	case EntityCreatedMsg:
		v.Type = TypeEntityCreated
		return v
	case EntityUpdatedMsg:
		v.Type = TypeEntityUpdated
		return v
	case EntityDestroyedMsg:
		v.Type = TypeEntityDestroyed
		return v
	case PingMsg:
		v.Type = TypePing
		return v
	case PongMsg:
		v.Type = TypePong
		return v
	case ActMsg:
		v.Type = TypeAct
		return v
	case ErrorMsg:
		v.Type = TypeError
		return v
	}
	return m
}
