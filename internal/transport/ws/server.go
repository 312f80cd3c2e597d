package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/world"
)

// Hub is the world side of the handshake.
type Hub interface {
	Connect() chan<- world.ConnectRequest
	Disconnect() chan<- world.DisconnectRequest
}

type Options struct {
	InboundQueue    int
	ReliableQueue   int
	UnreliableQueue int

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.InboundQueue <= 0 {
		o.InboundQueue = 256
	}
	if o.ReliableQueue <= 0 {
		o.ReliableQueue = 1024
	}
	if o.UnreliableQueue <= 0 {
		o.UnreliableQueue = 256
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type Stats struct {
	Accepted      uint64 `json:"accepted"`
	Refused       uint64 `json:"refused"`
	DecodeErrors  uint64 `json:"decode_errors"`
	InboundDrops  uint64 `json:"inbound_drops"`
	FramesWritten uint64 `json:"frames_written"`
}

type Server struct {
	hub  Hub
	log  *zap.Logger
	opts Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	accepted, refused, decodeErrors, inboundDrops, written atomic.Uint64
}

func NewServer(hub Hub, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Server{
		hub:  hub,
		log:  logger.Named("ws"),
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:      s.accepted.Load(),
		Refused:       s.refused.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		InboundDrops:  s.inboundDrops.Load(),
		FramesWritten: s.written.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		c, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		id := conn.ID(s.nextID.Add(1))
		log := s.log.With(zap.Uint64("conn", uint64(id)))

		inbound := make(chan protocol.Message, s.opts.InboundQueue)
		l := newLink(s.opts.ReliableQueue, s.opts.UnreliableQueue)
		if !s.handshake(c, id, inbound, l, log) {
			s.refused.Add(1)
			return
		}
		s.accepted.Add(1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			if err := s.writeLoop(ctx, c, l); err != nil {
				log.Debug("writer stopped", zap.Error(err))
			}
			// Unblock the reader.
			_ = c.Close()
		}()

		reason := s.readLoop(c, inbound, l, log)
		close(inbound)
		cancel()

		select {
		case s.hub.Disconnect() <- world.DisconnectRequest{ID: id, Reason: reason}:
		case <-time.After(time.Second):
			log.Warn("disconnect not delivered; world not draining")
		}

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writerDone:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("connection closed", zap.String("reason", reason))
	}
}

// handshake reads HELLO, registers the connection with the world and writes
// WELCOME or ERROR. It reports whether the connection was accepted.
func (s *Server) handshake(c *websocket.Conn, id conn.ID, inbound chan protocol.Message, l *link, log *zap.Logger) bool {
	_ = c.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	mt, data, err := c.ReadMessage()
	if err != nil {
		return false
	}
	m, err := protocol.Decode(protocol.Frame{Binary: mt == websocket.BinaryMessage, Data: data})
	hello, ok := m.(protocol.HelloMsg)
	if err != nil || !ok {
		s.refuse(c, protocol.ErrProtoBadRequest, "expected HELLO")
		return false
	}
	if !versionSupported(hello) {
		s.refuse(c, protocol.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion)
		return false
	}
	if hello.Name == "" {
		hello.Name = "player"
	}

	respCh := make(chan world.ConnectResponse, 1)
	req := world.ConnectRequest{ID: id, Name: hello.Name, Inbound: inbound, Link: l, Resp: respCh}
	select {
	case s.hub.Connect() <- req:
	case <-time.After(s.opts.HandshakeTimeout):
		s.refuse(c, protocol.ErrWorldBusy, "world busy")
		return false
	}
	var resp world.ConnectResponse
	select {
	case resp = <-respCh:
	case <-time.After(s.opts.HandshakeTimeout):
		// The world may still register us; make sure it lets go.
		l.Close()
		close(inbound)
		s.refuse(c, protocol.ErrWorldBusy, "world did not answer")
		return false
	}
	if resp.Code != "" {
		s.refuse(c, resp.Code, "connection refused")
		return false
	}
	if err := s.writeMessage(c, resp.Welcome); err != nil {
		l.Close()
		close(inbound)
		select {
		case s.hub.Disconnect() <- world.DisconnectRequest{ID: id, Reason: "write_welcome"}:
		case <-time.After(time.Second):
		}
		return false
	}
	log.Info("connection accepted", zap.String("name", hello.Name), zap.String("session", resp.Welcome.SessionID))
	return true
}

func versionSupported(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	return slices.Contains(h.SupportedVersions, protocol.Version)
}

func (s *Server) refuse(c *websocket.Conn, code, msg string) {
	_ = s.writeMessage(c, protocol.ErrorMsg{Code: code, Message: msg})
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

// readLoop forwards client messages to the world until the connection fails.
// Reliable kinds wait for queue space; unreliable kinds are dropped when the
// queue is full.
func (s *Server) readLoop(c *websocket.Conn, inbound chan<- protocol.Message, l *link, log *zap.Logger) string {
	for {
		_ = c.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		mt, data, err := c.ReadMessage()
		if err != nil {
			if l.closed() {
				return "server_closed"
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return "client_closed"
			}
			return "read_error"
		}
		m, err := protocol.Decode(protocol.Frame{Binary: mt == websocket.BinaryMessage, Data: data})
		if err != nil {
			s.decodeErrors.Add(1)
			log.Debug("bad frame", zap.Error(err))
			continue
		}
		switch m.(type) {
		case protocol.ActMsg, protocol.StartRequestMsg, protocol.PingMsg:
		default:
			log.Debug("unexpected client message", zap.String("type", m.MessageType()))
			continue
		}
		if protocol.ReliabilityOf(m.MessageType()) == protocol.Unreliable {
			select {
			case inbound <- m:
			default:
				s.inboundDrops.Add(1)
			}
			continue
		}
		select {
		case inbound <- m:
		case <-l.done:
			return "server_closed"
		}
	}
}

// writeLoop drains the link, preferring reliable frames. When the world
// closes the link, frames already queued as reliable are still written.
func (s *Server) writeLoop(ctx context.Context, c *websocket.Conn, l *link) error {
	for {
		select {
		case f := <-l.reliable:
			if err := s.writeFrame(c, f); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			for {
				select {
				case f := <-l.reliable:
					if err := s.writeFrame(c, f); err != nil {
						return err
					}
				default:
					_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
					return nil
				}
			}
		case f := <-l.reliable:
			if err := s.writeFrame(c, f); err != nil {
				return err
			}
		case f := <-l.unreliable:
			if err := s.writeFrame(c, f); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeMessage(c *websocket.Conn, m protocol.Message) error {
	f, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return s.writeFrame(c, f)
}

func (s *Server) writeFrame(c *websocket.Conn, f protocol.Frame) error {
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}
	_ = c.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := c.WriteMessage(mt, f.Data); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}
