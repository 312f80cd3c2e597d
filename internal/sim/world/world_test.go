package world

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"ghoulrush.io/internal/protocol"
	"ghoulrush.io/internal/sim/conn"
	"ghoulrush.io/internal/sim/netid"
	"ghoulrush.io/internal/sim/netsync"
	"ghoulrush.io/internal/sim/spawn"
)

type fakeLink struct {
	reliable   []protocol.Frame
	unreliable []protocol.Frame
	closed     bool
}

func (l *fakeLink) SendReliable(f protocol.Frame) bool {
	l.reliable = append(l.reliable, f)
	return true
}

func (l *fakeLink) SendUnreliable(f protocol.Frame) { l.unreliable = append(l.unreliable, f) }

func (l *fakeLink) Close() { l.closed = true }

// take decodes and clears everything the link received so far, reliable
// frames first.
func (l *fakeLink) take(t *testing.T) (rel, unrel []protocol.Message) {
	t.Helper()
	for _, f := range l.reliable {
		m, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode reliable: %v", err)
		}
		rel = append(rel, m)
	}
	for _, f := range l.unreliable {
		m, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode unreliable: %v", err)
		}
		unrel = append(unrel, m)
	}
	l.reliable, l.unreliable = nil, nil
	return rel, unrel
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type client struct {
	id   conn.ID
	link *fakeLink
	in   chan protocol.Message
	resp ConnectResponse
}

func testConfig() Config {
	return Config{
		TickRateHz:      20,
		Seed:            1,
		PingTimeout:     5 * time.Second,
		SweepEveryTicks: 1,
		InitialSpawns:   spawn.Actions{},
	}
}

func newTestWorld(t *testing.T, cfg Config) (*World, *clock) {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	return New(cfg, nil, clk.now), clk
}

func connect(t *testing.T, w *World, id conn.ID, name string) *client {
	t.Helper()
	c := &client{id: id, link: &fakeLink{}, in: make(chan protocol.Message, 16)}
	resp := make(chan ConnectResponse, 1)
	w.handleConnect(ConnectRequest{ID: id, Name: name, Inbound: c.in, Link: c.link, Resp: resp})
	select {
	case c.resp = <-resp:
	default:
		t.Fatalf("no connect response for %d", id)
	}
	return c
}

func startGameMsg(t *testing.T, msgs []protocol.Message) protocol.StartGameMsg {
	t.Helper()
	for _, m := range msgs {
		if sg, ok := m.(protocol.StartGameMsg); ok {
			return sg
		}
	}
	t.Fatalf("no START_GAME in %+v", msgs)
	return protocol.StartGameMsg{}
}

func playerOf(t *testing.T, sg protocol.StartGameMsg, id conn.ID) netid.ID {
	t.Helper()
	for _, p := range sg.Players {
		if conn.ID(p.ConnectionID) == id {
			return netid.ID(p.EntityID)
		}
	}
	t.Fatalf("no player for conn %d", id)
	return 0
}

func destroyed(msgs []protocol.Message) map[netid.ID]bool {
	out := map[netid.ID]bool{}
	for _, m := range msgs {
		if d, ok := m.(protocol.EntityDestroyedMsg); ok {
			out[netid.ID(d.ID)] = true
		}
	}
	return out
}

func created(msgs []protocol.Message) []protocol.EntityCreatedMsg {
	var out []protocol.EntityCreatedMsg
	for _, m := range msgs {
		if c, ok := m.(protocol.EntityCreatedMsg); ok {
			out = append(out, c)
		}
	}
	return out
}

func TestConnectWelcomesAndStartsLevel(t *testing.T) {
	w, _ := newTestWorld(t, testConfig())
	c := connect(t, w, 1, "alice")
	if c.resp.Code != "" {
		t.Fatalf("refused: %s", c.resp.Code)
	}
	wel := c.resp.Welcome
	if wel.ConnectionID != 1 || wel.SessionID == "" || wel.InProgress || wel.WorldParams.TickRateHz != 20 {
		t.Fatalf("welcome=%+v", wel)
	}

	w.step(nil)
	rel, _ := c.link.take(t)
	sg := startGameMsg(t, rel)
	if len(sg.Players) != 1 || sg.Players[0].Name != "alice" {
		t.Fatalf("start=%+v", sg)
	}
	pid := playerOf(t, sg, 1)
	e, ok := w.ids.Resolve(pid)
	if !ok || !w.ecs.Valid(e) {
		t.Fatalf("player %d not in world", pid)
	}
	if md := netMetaC.Get(w.ecs.Entry(e)); md.ID != pid || md.SpawnedFrame != 0 {
		t.Fatalf("metadata=%+v", md)
	}
	if !w.Metrics().Running || w.CurrentFrame() != 1 {
		t.Fatalf("metrics=%+v", w.Metrics())
	}
}

func TestConnectRefusedWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 1
	w, _ := newTestWorld(t, cfg)
	connect(t, w, 1, "a")
	c := connect(t, w, 2, "b")
	if c.resp.Code != protocol.ErrWorldBusy {
		t.Fatalf("code=%q", c.resp.Code)
	}
	if w.conns.Len() != 1 {
		t.Fatalf("conns=%d", w.conns.Len())
	}
}

func TestDisconnectBroadcastsDestroyed(t *testing.T) {
	cfg := testConfig()
	cfg.MinPlayersToStart = 2
	w, _ := newTestWorld(t, cfg)
	a := connect(t, w, 1, "a")
	b := connect(t, w, 2, "b")
	w.step(nil)
	rel, _ := b.link.take(t)
	sg := startGameMsg(t, rel)
	pa := playerOf(t, sg, 1)
	pb := playerOf(t, sg, 2)

	w.step([]DisconnectRequest{{ID: 1, Reason: "client_closed"}})
	if !a.link.closed {
		t.Fatalf("link of dropped connection not closed")
	}
	rel, _ = b.link.take(t)
	if !destroyed(rel)[pa] {
		t.Fatalf("remaining connection did not see %d destroyed: %+v", pa, rel)
	}
	if _, ok := w.ids.Resolve(pa); ok {
		t.Fatalf("identifier %d still registered", pa)
	}
	if _, ok := w.ids.Resolve(pb); !ok {
		t.Fatalf("surviving player removed")
	}
	if w.actions.Pending(pa) != 0 {
		t.Fatalf("action queue not released")
	}
}

func TestTimeoutSweepDestroysPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.MinPlayersToStart = 2
	w, clk := newTestWorld(t, cfg)
	a := connect(t, w, 1, "a")
	b := connect(t, w, 2, "b")
	w.step(nil)
	rel, _ := b.link.take(t)
	pa := playerOf(t, startGameMsg(t, rel), 1)

	b.in <- protocol.PingMsg{Seq: 1, ClientTime: 42}
	clk.t = clk.t.Add(3 * time.Second)
	w.step(nil)
	_, unrel := b.link.take(t)
	var pong protocol.PongMsg
	for _, m := range unrel {
		if p, ok := m.(protocol.PongMsg); ok {
			pong = p
		}
	}
	if pong.Seq != 1 || pong.ClientTime != 42 || pong.Frame != 1 {
		t.Fatalf("pong=%+v", pong)
	}

	clk.t = clk.t.Add(3 * time.Second)
	w.step(nil)
	if !a.link.closed {
		t.Fatalf("silent connection not closed")
	}
	if b.link.closed {
		t.Fatalf("live connection closed")
	}
	rel, _ = b.link.take(t)
	if !destroyed(rel)[pa] {
		t.Fatalf("timed out player not destroyed: %+v", rel)
	}
	if got := w.Metrics().Counters.Timeouts; got != 1 {
		t.Fatalf("timeouts=%d", got)
	}
}

func TestSpawnBudgetCarriesOver(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 25, Placement: spawn.Random}}
	cfg.Spawn.MaxPerTick = 10
	w, _ := newTestWorld(t, cfg)
	c := connect(t, w, 1, "a")

	w.step(nil)
	rel, _ := c.link.take(t)
	ghouls := created(rel)
	if len(ghouls) != 10 {
		t.Fatalf("created=%d want 10", len(ghouls))
	}
	for _, g := range ghouls {
		if g.Kind != "Ghoul" || g.SpawnFrame != 0 || g.Health != 50 {
			t.Fatalf("created=%+v", g)
		}
	}
	if got := w.Metrics().PendingSpawns; got != 15 {
		t.Fatalf("pending=%d", got)
	}
	w.step(nil)
	w.step(nil)
	if got := w.Metrics().Monsters; got != 25 {
		t.Fatalf("monsters=%d", got)
	}
}

func TestCastCooldownFiresOneMissile(t *testing.T) {
	w, _ := newTestWorld(t, testConfig())
	c := connect(t, w, 1, "a")
	w.step(nil)
	c.link.take(t)

	ref := uint64(netid.LocalBase + 1)
	c.in <- protocol.ActMsg{Kind: protocol.ActCast, Dir: mgl32.Vec2{0, 2}, ClientRef: ref}
	c.in <- protocol.ActMsg{Kind: protocol.ActCast, Dir: mgl32.Vec2{0, 1}, ClientRef: ref + 1}
	w.step(nil)

	rel, _ := c.link.take(t)
	missiles := created(rel)
	if len(missiles) != 1 {
		t.Fatalf("missiles=%+v", missiles)
	}
	m := missiles[0]
	if m.Kind != protocol.KindMissile || m.ClientRef != ref || m.Owner != 1 || m.SpawnFrame != 1 {
		t.Fatalf("missile=%+v", m)
	}
	if got := w.Metrics().Counters.CastsDropped; got != 1 {
		t.Fatalf("casts dropped=%d", got)
	}
}

func TestWalkMovesPlayer(t *testing.T) {
	w, _ := newTestWorld(t, testConfig())
	c := connect(t, w, 1, "a")
	w.step(nil)
	rel, _ := c.link.take(t)
	pid := playerOf(t, startGameMsg(t, rel), 1)

	c.in <- protocol.ActMsg{Kind: protocol.ActWalk, Dir: mgl32.Vec2{1, 0}}
	w.step(nil)
	_, unrel := c.link.take(t)
	var upd protocol.EntityUpdatedMsg
	for _, m := range unrel {
		if u, ok := m.(protocol.EntityUpdatedMsg); ok && netid.ID(u.ID) == pid {
			upd = u
		}
	}
	// 120 units/s at 20 Hz.
	if upd.Frame != 1 || upd.Pos.X() < 5.99 || upd.Pos.X() > 6.01 || upd.Vel.X() != 120 {
		t.Fatalf("update=%+v", upd)
	}
}

func TestLateJoinReceivesLiveWorld(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 3, Placement: spawn.Borderline}}
	w, _ := newTestWorld(t, cfg)
	a := connect(t, w, 1, "a")
	w.step(nil)
	a.link.take(t)

	b := connect(t, w, 2, "b")
	if !b.resp.Welcome.InProgress {
		t.Fatalf("late joiner not told the level is running")
	}
	w.step(nil)

	relB, unrelB := b.link.take(t)
	cb := created(relB)
	// Player a, three ghouls, then b's own player.
	if len(cb) != 5 {
		t.Fatalf("late joiner got %d creates: %+v", len(cb), cb)
	}
	last := cb[len(cb)-1]
	if last.Kind != protocol.KindPlayer || last.Owner != 2 {
		t.Fatalf("own player not last: %+v", last)
	}
	relA, _ := a.link.take(t)
	ca := created(relA)
	if len(ca) != 1 || ca[0].ID != last.ID {
		t.Fatalf("existing connection creates=%+v", ca)
	}
	got := updates(unrelB)
	for _, c := range cb {
		if _, ok := got[netid.ID(c.ID)]; !ok {
			t.Fatalf("late joiner has no state for %d: %+v", c.ID, got)
		}
	}
}

func updates(msgs []protocol.Message) map[netid.ID]protocol.EntityUpdatedMsg {
	out := map[netid.ID]protocol.EntityUpdatedMsg{}
	for _, m := range msgs {
		if u, ok := m.(protocol.EntityUpdatedMsg); ok {
			out[netid.ID(u.ID)] = u
		}
	}
	return out
}

func TestLateJoinReceivesVelocityOfBlockedPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.Bounds = spawn.Rect{Min: mgl32.Vec2{-10, -10}, Max: mgl32.Vec2{10, 10}}
	w, _ := newTestWorld(t, cfg)
	a := connect(t, w, 1, "a")
	w.step(nil)
	rel, _ := a.link.take(t)
	pa := playerOf(t, startGameMsg(t, rel), 1)

	// Walk into the east wall: x reaches 10 on frame 2 and stays there.
	a.in <- protocol.ActMsg{Kind: protocol.ActWalk, Dir: mgl32.Vec2{1, 0}}
	for i := 0; i < 3; i++ {
		w.step(nil)
	}
	a.link.take(t)

	b := connect(t, w, 2, "b")
	w.step(nil)

	_, unrelA := a.link.take(t)
	if _, ok := updates(unrelA)[pa]; ok {
		t.Fatalf("unchanged player resent to existing connection")
	}
	_, unrelB := b.link.take(t)
	u, ok := updates(unrelB)[pa]
	if !ok {
		t.Fatalf("late joiner got no update for blocked player")
	}
	if u.Vel != (mgl32.Vec2{120, 0}) || u.Pos.X() != 10 || u.Frame != 4 {
		t.Fatalf("update=%+v", u)
	}
}

func TestMirrorConvergesAfterLostUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshEveryTicks = 5
	w, _ := newTestWorld(t, cfg)
	c := connect(t, w, 1, "a")

	lw := &mirrorWorld{live: map[*mirrorEntity]bool{}}
	m := netsync.NewMirror[*mirrorEntity](lw, nil)
	m.Apply(c.resp.Welcome)
	deliver := func(dropUnreliable bool) {
		rel, unrel := c.link.take(t)
		for _, msg := range rel {
			m.Apply(msg)
		}
		if dropUnreliable {
			return
		}
		for _, msg := range unrel {
			m.Apply(msg)
		}
	}

	w.step(nil) // frame 0
	deliver(false)
	c.in <- protocol.ActMsg{Kind: protocol.ActWalk, Dir: mgl32.Vec2{0, 1}}
	w.step(nil) // frame 1
	deliver(false)
	c.in <- protocol.ActMsg{Kind: protocol.ActWalk, Dir: mgl32.Vec2{}}
	w.step(nil) // frame 2: the stop is lost
	deliver(true)
	w.step(nil)
	w.step(nil) // frame 4
	deliver(false)

	self, ok := m.Registry().Resolve(m.Self())
	if !ok {
		t.Fatalf("client has no player")
	}
	if self.vel != (mgl32.Vec2{0, 120}) {
		t.Fatalf("vel before refresh=%v", self.vel)
	}

	w.step(nil) // frame 5
	deliver(false)
	se, _ := w.ids.Resolve(m.Self())
	tr := transformC.Get(w.ecs.Entry(se))
	if self.vel != tr.Vel || self.pos != tr.Pos {
		t.Fatalf("client pos=%v vel=%v server pos=%v vel=%v", self.pos, self.vel, tr.Pos, tr.Vel)
	}
}

func TestMirrorTracksMissileFromSpawnTick(t *testing.T) {
	w, _ := newTestWorld(t, testConfig())
	c := connect(t, w, 1, "a")
	lw := &mirrorWorld{live: map[*mirrorEntity]bool{}}
	m := netsync.NewMirror[*mirrorEntity](lw, nil)
	m.Apply(c.resp.Welcome)

	w.step(nil)
	c.in <- protocol.ActMsg{Kind: protocol.ActCast, Dir: mgl32.Vec2{1, 0}}
	w.step(nil)
	rel, unrel := c.link.take(t)
	for _, msg := range rel {
		m.Apply(msg)
	}
	for _, msg := range unrel {
		m.Apply(msg)
	}

	var missile protocol.EntityCreatedMsg
	for _, cm := range created(rel) {
		if cm.Kind == protocol.KindMissile {
			missile = cm
		}
	}
	if missile.ID == 0 {
		t.Fatalf("no missile created")
	}
	se, _ := w.ids.Resolve(netid.ID(missile.ID))
	ce, ok := m.Registry().Resolve(netid.ID(missile.ID))
	if !ok {
		t.Fatalf("client has no missile")
	}
	tr := transformC.Get(w.ecs.Entry(se))
	if ce.pos != tr.Pos || ce.vel != tr.Vel {
		t.Fatalf("client pos=%v vel=%v server pos=%v vel=%v", ce.pos, ce.vel, tr.Pos, tr.Vel)
	}
}

func TestClientMirrorMatchesServer(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 4, Placement: spawn.Random}}
	w, _ := newTestWorld(t, cfg)
	c := connect(t, w, 1, "a")

	lw := &mirrorWorld{live: map[*mirrorEntity]bool{}}
	m := netsync.NewMirror[*mirrorEntity](lw, nil)
	m.Apply(c.resp.Welcome)

	for i := 0; i < 10; i++ {
		if i == 2 {
			c.in <- protocol.ActMsg{Kind: protocol.ActWalk, Dir: mgl32.Vec2{0, 1}}
		}
		w.step(nil)
		rel, unrel := c.link.take(t)
		for _, msg := range rel {
			m.Apply(msg)
		}
		for _, msg := range unrel {
			m.Apply(msg)
		}
	}

	serverIDs := w.ids.IDs()
	clientIDs := m.Registry().IDs()
	if len(serverIDs) != len(clientIDs) {
		t.Fatalf("server=%v client=%v", serverIDs, clientIDs)
	}
	for i, id := range serverIDs {
		if clientIDs[i] != id {
			t.Fatalf("server=%v client=%v", serverIDs, clientIDs)
		}
		se, _ := w.ids.Resolve(id)
		ce, _ := m.Registry().Resolve(id)
		if sp := transformC.Get(w.ecs.Entry(se)).Pos; sp != ce.pos {
			t.Fatalf("id %d server pos %v client pos %v", id, sp, ce.pos)
		}
	}
	if m.Self() == 0 {
		t.Fatalf("client did not find its own player")
	}
}

type mirrorEntity struct {
	kind string
	pos  mgl32.Vec2
	vel  mgl32.Vec2
}

type mirrorWorld struct{ live map[*mirrorEntity]bool }

func (mw *mirrorWorld) Spawn(c protocol.EntityCreatedMsg) *mirrorEntity {
	e := &mirrorEntity{kind: c.Kind, pos: c.Pos}
	mw.live[e] = true
	return e
}

func (mw *mirrorWorld) Apply(e *mirrorEntity, u protocol.EntityUpdatedMsg) {
	e.pos, e.vel = u.Pos, u.Vel
}

func (mw *mirrorWorld) Despawn(e *mirrorEntity) { delete(mw.live, e) }

func TestGameOverClearsWorld(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 3, Placement: spawn.Random}}
	w, _ := newTestWorld(t, cfg)
	connect(t, w, 1, "a")
	w.step(nil)
	if w.ids.Len() != 4 {
		t.Fatalf("entities=%d", w.ids.Len())
	}
	w.step([]DisconnectRequest{{ID: 1, Reason: "client_closed"}})
	if w.level.running || w.ids.Len() != 0 || len(w.work) != 0 {
		t.Fatalf("running=%v ids=%d work=%v", w.level.running, w.ids.Len(), w.work)
	}
	if w.ecs.Len() != 0 {
		t.Fatalf("ecs still holds %d entities", w.ecs.Len())
	}
}

func TestLobbyWaitsAfterGameOver(t *testing.T) {
	cfg := testConfig()
	cfg.RestartDelayTicks = 5
	w, _ := newTestWorld(t, cfg)
	c := connect(t, w, 1, "a")
	w.step(nil)
	rel, _ := c.link.take(t)
	pid := playerOf(t, startGameMsg(t, rel), 1)

	w.markDead(pid)
	w.step(nil) // frame 1: player removed, game over
	if w.level.running {
		t.Fatalf("level still running")
	}
	for i := 0; i < 4; i++ {
		w.step(nil)
		if w.level.running {
			t.Fatalf("restarted at frame %d", w.CurrentFrame()-1)
		}
	}
	w.step(nil) // frame 6
	if !w.level.running {
		t.Fatalf("lobby never restarted")
	}
}

func TestSnapshotRestoresIdentifiers(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 30, Placement: spawn.Random}}
	cfg.Spawn.MaxPerTick = 4
	w, _ := newTestWorld(t, cfg)
	connect(t, w, 1, "a")
	w.step(nil)
	w.step(nil)

	snap := w.ExportSnapshot(w.CurrentFrame())
	if len(snap.Monsters) != 8 || len(snap.Pending) != 1 || snap.Pending[0].Count != 22 {
		t.Fatalf("snapshot monsters=%d pending=%+v", len(snap.Monsters), snap.Pending)
	}

	r, _ := newTestWorld(t, cfg)
	if err := r.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, m := range snap.Monsters {
		e, ok := r.ids.Resolve(netid.ID(m.ID))
		if !ok {
			t.Fatalf("monster %d missing", m.ID)
		}
		if md := netMetaC.Get(r.ecs.Entry(e)); md.SpawnedFrame != m.SpawnedFrame {
			t.Fatalf("metadata=%+v", md)
		}
	}
	if r.ids.Next() != netid.ID(snap.NextNetID) {
		t.Fatalf("next=%d want %d", r.ids.Next(), snap.NextNetID)
	}
	if err := r.ImportSnapshot(snap); err == nil {
		t.Fatalf("second import should fail")
	}
	// A restored level waits for players instead of ending at once.
	r.step(nil)
	if !r.level.running {
		t.Fatalf("restored level ended without players")
	}
}

func TestSnapshotRejectsDuplicateMonsterID(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSpawns = spawn.Actions{{EntityKind: "Ghoul", Count: 3, Placement: spawn.Random}}
	w, _ := newTestWorld(t, cfg)
	connect(t, w, 1, "a")
	w.step(nil)

	snap := w.ExportSnapshot(w.CurrentFrame())
	if len(snap.Monsters) != 3 {
		t.Fatalf("monsters=%d", len(snap.Monsters))
	}
	snap.Monsters = append(snap.Monsters, snap.Monsters[1])

	r, _ := newTestWorld(t, cfg)
	if err := r.ImportSnapshot(snap); err == nil {
		t.Fatalf("duplicate id accepted")
	}
	if r.ids.Len() != 0 || r.ecs.Len() != 0 {
		t.Fatalf("failed import left ids=%d entities=%d", r.ids.Len(), r.ecs.Len())
	}
	snap.Monsters = snap.Monsters[:3]
	if err := r.ImportSnapshot(snap); err != nil {
		t.Fatalf("import after rejection: %v", err)
	}
}

func TestAttachNetMetadataTwicePanics(t *testing.T) {
	w, _ := newTestWorld(t, testConfig())
	e := w.CreateMonster("Ghoul", mgl32.Vec2{})
	entry := w.ecs.Entry(e)
	attachNetMetadata(entry, netid.Metadata{ID: 1})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	attachNetMetadata(entry, netid.Metadata{ID: 2})
}

