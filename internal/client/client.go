// Package client is a headless game client: it performs the handshake,
// mirrors the server world into a local donburi world and sends player
// intent.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/netid"
	"ghoulrush.io/internal/sim/netsync"
)

// RefusedError is returned by Dial when the server answers HELLO with ERROR.
type RefusedError struct {
	Code    string
	Message string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("client: refused: %s %s", e.Code, e.Message)
}

type Options struct {
	PingInterval time.Duration
	// PredictionTTL bounds how long an unconfirmed prediction lives.
	PredictionTTL time.Duration
	// OnMessage, when set, sees every decoded server message after it was
	// applied to the mirror. It runs on the read goroutine.
	OnMessage func(protocol.Message)
}

// Entity is a read-only copy of one mirrored entity.
type Entity struct {
	ID netid.ID
	Body
}

type Client struct {
	conn   *websocket.Conn
	log    *zap.Logger
	opts   Options
	writeM sync.Mutex

	mu        sync.Mutex
	view      *view
	mirror    *netsync.Mirror[donburi.Entity]
	welcome   protocol.WelcomeMsg
	predicted map[netid.ID]time.Time

	seq     atomic.Uint32
	pingSeq atomic.Uint32
	rttMS   atomic.Int64
}

// Dial connects to url, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url, name string, logger *zap.Logger, opts Options) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = time.Second
	}
	if opts.PredictionTTL <= 0 {
		opts.PredictionTTL = 2 * time.Second
	}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	v := newView()
	cl := &Client{
		conn:      c,
		log:       logger.Named("client"),
		opts:      opts,
		view:      v,
		mirror:    netsync.NewMirror[donburi.Entity](v, logger),
		predicted: map[netid.ID]time.Time{},
	}
	if err := cl.send(protocol.HelloMsg{Name: name}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(deadline)
	} else {
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	m, err := cl.read()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	switch v := m.(type) {
	case protocol.WelcomeMsg:
		cl.welcome = v
		cl.mirror.Welcome(v)
	case protocol.ErrorMsg:
		_ = c.Close()
		return nil, &RefusedError{Code: v.Code, Message: v.Message}
	default:
		_ = c.Close()
		return nil, fmt.Errorf("client: expected WELCOME, got %s", m.MessageType())
	}
	_ = c.SetReadDeadline(time.Time{})
	cl.log.Info("connected",
		zap.Uint64("conn", cl.welcome.ConnectionID),
		zap.String("session", cl.welcome.SessionID),
		zap.Bool("in_progress", cl.welcome.InProgress))
	return cl, nil
}

// Run reads server messages into the mirror until ctx ends or the
// connection fails. It also pings the server and expires stale predictions.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()
	go c.pingLoop(ctx)

	for {
		m, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		c.apply(m)
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(m)
		}
	}
}

func (c *Client) apply(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := m.(type) {
	case protocol.EntityCreatedMsg:
		if v.ClientRef != 0 {
			delete(c.predicted, netid.ID(v.ClientRef))
		}
	case protocol.PongMsg:
		c.rttMS.Store(time.Now().UnixMilli() - v.ClientTime)
	case protocol.ErrorMsg:
		c.log.Warn("server error", zap.String("code", v.Code), zap.String("message", v.Message))
		return
	}
	c.mirror.Apply(m)
}

func (c *Client) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := c.Ping(); err != nil {
				return
			}
			c.expirePredictions(now)
		}
	}
}

func (c *Client) expirePredictions(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, at := range c.predicted {
		if now.Sub(at) < c.opts.PredictionTTL {
			continue
		}
		c.mirror.Discard(id)
		delete(c.predicted, id)
	}
}

func (c *Client) Close() error {
	c.writeM.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.writeM.Unlock()
	return c.conn.Close()
}

func (c *Client) Walk(dir mgl32.Vec2) error {
	return c.send(protocol.ActMsg{Kind: protocol.ActWalk, Dir: dir, Seq: c.seq.Add(1)})
}

func (c *Client) Look(dir mgl32.Vec2) error {
	return c.send(protocol.ActMsg{Kind: protocol.ActLook, Dir: dir, Seq: c.seq.Add(1)})
}

// Cast predicts a missile locally and asks the server to fire it. The
// returned identifier is the client-range id sent as client_ref.
func (c *Client) Cast(dir mgl32.Vec2) (netid.ID, error) {
	c.mu.Lock()
	var origin mgl32.Vec2
	if self, ok := c.mirror.Registry().Resolve(c.mirror.Self()); ok {
		if b, ok := c.view.body(self); ok {
			origin = b.Pos
		}
	}
	e := c.view.predict(protocol.KindMissile, origin, dir, c.welcome.ConnectionID)
	ref := c.mirror.Predict(e)
	c.predicted[ref] = time.Now()
	c.mu.Unlock()

	return ref, c.send(protocol.ActMsg{Kind: protocol.ActCast, Dir: dir, ClientRef: uint64(ref), Seq: c.seq.Add(1)})
}

func (c *Client) RequestStart() error { return c.send(protocol.StartRequestMsg{}) }

func (c *Client) Ping() error {
	return c.send(protocol.PingMsg{Seq: c.pingSeq.Add(1), ClientTime: time.Now().UnixMilli()})
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

// RTT is the latest measured round trip, zero before the first PONG.
func (c *Client) RTT() time.Duration { return time.Duration(c.rttMS.Load()) * time.Millisecond }

func (c *Client) Self() netid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Self()
}

func (c *Client) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Frame()
}

func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Started()
}

// Entities returns every mirrored entity ordered by identifier.
func (c *Client) Entities() []Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.mirror.Registry().IDs()
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		e, ok := c.mirror.Registry().Resolve(id)
		if !ok {
			continue
		}
		if b, ok := c.view.body(e); ok {
			out = append(out, Entity{ID: id, Body: b})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entity looks up one mirrored entity.
func (c *Client) Entity(id netid.ID) (Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mirror.Registry().Resolve(id)
	if !ok {
		return Entity{}, false
	}
	b, ok := c.view.body(e)
	return Entity{ID: id, Body: b}, ok
}

func (c *Client) send(m protocol.Message) error {
	f, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(mt, f.Data)
}

func (c *Client) read() (protocol.Message, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		m, err := protocol.Decode(protocol.Frame{Binary: mt == websocket.BinaryMessage, Data: data})
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.log.Debug("skipping unknown message", zap.Error(err))
				continue
			}
			return nil, err
		}
		return m, nil
	}
}
