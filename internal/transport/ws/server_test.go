package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/spawn"
	"ghoulrush.io/internal/sim/world"
)

func startWorld(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	w := world.New(world.Config{
		TickRateHz:        50,
		Seed:              7,
		MinPlayersToStart: 1,
		InitialSpawns:     spawn.Actions{},
	}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	srv := httptest.NewServer(NewServer(w, nil, Options{}).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return w, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, m protocol.Message) {
	t.Helper()
	f, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}
	if err := c.WriteMessage(mt, f.Data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, c *websocket.Conn) (protocol.Message, bool) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(protocol.Frame{Binary: mt == websocket.BinaryMessage, Data: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m, mt == websocket.BinaryMessage
}

// recvUntil reads until a message of type typ arrives.
func recvUntil(t *testing.T, c *websocket.Conn, typ string) protocol.Message {
	t.Helper()
	for i := 0; i < 200; i++ {
		m, _ := recv(t, c)
		if m.MessageType() == typ {
			return m
		}
	}
	t.Fatalf("no %s within 200 messages", typ)
	return nil
}

func TestHandshakeStartAndPing(t *testing.T) {
	w, srv := startWorld(t)
	c := dial(t, srv)

	send(t, c, protocol.HelloMsg{Name: "ana"})
	m, binary := recv(t, c)
	welcome, ok := m.(protocol.WelcomeMsg)
	if !ok || binary {
		t.Fatalf("expected text WELCOME, got %T binary=%v", m, binary)
	}
	if welcome.ConnectionID == 0 || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}

	sg := recvUntil(t, c, protocol.TypeStartGame).(protocol.StartGameMsg)
	if len(sg.Players) != 1 || sg.Players[0].ConnectionID != welcome.ConnectionID || sg.Players[0].Name != "ana" {
		t.Fatalf("start game=%+v", sg)
	}

	send(t, c, protocol.PingMsg{Seq: 42, ClientTime: 1000})
	pong := recvUntil(t, c, protocol.TypePong).(protocol.PongMsg)
	if pong.Seq != 42 || pong.ClientTime != 1000 || pong.ServerTime == 0 {
		t.Fatalf("pong=%+v", pong)
	}

	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m := w.Metrics(); m.Counters.Disconnects == 1 && m.Connections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("world still holds the connection: %+v", w.Metrics())
}

func TestHandshakeRejectsVersion(t *testing.T) {
	_, srv := startWorld(t)
	c := dial(t, srv)

	send(t, c, protocol.HelloMsg{ProtocolVersion: "0.1", Name: "old"})
	m, _ := recv(t, c)
	e, ok := m.(protocol.ErrorMsg)
	if !ok || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("expected %s, got %+v", protocol.ErrProtoVersion, m)
	}
}

func TestHandshakeAcceptsSupportedVersions(t *testing.T) {
	_, srv := startWorld(t)
	c := dial(t, srv)

	send(t, c, protocol.HelloMsg{ProtocolVersion: "2.0", SupportedVersions: []string{"2.0", protocol.Version}})
	if m, _ := recv(t, c); m.MessageType() != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", m.MessageType())
	}
}

func TestHandshakeRequiresHello(t *testing.T) {
	_, srv := startWorld(t)
	c := dial(t, srv)

	send(t, c, protocol.StartRequestMsg{})
	m, _ := recv(t, c)
	if e, ok := m.(protocol.ErrorMsg); !ok || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("expected bad request, got %+v", m)
	}
}

func TestLinkQueues(t *testing.T) {
	l := newLink(2, 2)
	if !l.SendReliable(protocol.Frame{Data: []byte("a")}) || !l.SendReliable(protocol.Frame{Data: []byte("b")}) {
		t.Fatalf("reliable queue rejected within capacity")
	}
	if l.SendReliable(protocol.Frame{Data: []byte("c")}) {
		t.Fatalf("full reliable queue must report false")
	}

	for _, s := range []string{"1", "2", "3"} {
		l.SendUnreliable(protocol.Frame{Binary: true, Data: []byte(s)})
	}
	if got := string((<-l.unreliable).Data); got != "2" {
		t.Fatalf("oldest unreliable frame not dropped: first=%q", got)
	}
	if got := string((<-l.unreliable).Data); got != "3" {
		t.Fatalf("latest unreliable frame lost: %q", got)
	}

	l.Close()
	l.Close()
	<-l.reliable
	if l.SendReliable(protocol.Frame{Data: []byte("d")}) {
		t.Fatalf("closed link accepted a frame")
	}
}
