package server

import (
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crossfire/config"
	"crossfire/game"
	"crossfire/protocol"
)

// testLogs 整个包共用的日志观察器；测试期间不再替换 Log，
// 以免与其他测试残留的连接协程并发读写
var testLogs *observer.ObservedLogs

func TestMain(m *testing.M) {
	core, logs := observer.New(zapcore.DebugLevel)
	Log = zap.New(core).Sugar()
	testLogs = logs
	os.Exit(m.Run())
}

// fakeConn 记录所有发出的帧
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (c *fakeConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.frames = append(c.frames, b)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func (c *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, b := range c.frames {
		env, err := protocol.DecodeEnvelope(b)
		if err != nil {
			t.Fatalf("decode frame %s: %v", b, err)
		}
		out = append(out, env)
	}
	return out
}

func payloads[T any](t *testing.T, c *fakeConn, typ string) []T {
	t.Helper()
	var out []T
	for _, env := range c.envelopes(t) {
		if env.T != typ {
			continue
		}
		v, err := protocol.DecodePayload[T](env)
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		out = append(out, v)
	}
	return out
}

type summarySink struct {
	mu   sync.Mutex
	list []MatchSummary
}

func (s *summarySink) Submit(m MatchSummary) {
	s.mu.Lock()
	s.list = append(s.list, m)
	s.mu.Unlock()
}

func (s *summarySink) all() []MatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MatchSummary(nil), s.list...)
}

func testRules() game.Rules {
	r := game.DefaultRules()
	r.RespawnTicks = 2
	r.Weapons = []game.Weapon{
		{Name: "rail", Damage: 100, HeadshotMultiplier: 1, CooldownTicks: 1, MagazineSize: 50, ReloadTicks: 10, Range: 100},
	}
	return r
}

func openMap() game.Map {
	return game.Map{
		Name:   "open",
		Width:  100,
		Height: 100,
		Spawns: []game.Spawn{
			{Team: 0, Pos: game.Vec2{X: 10, Y: 50}},
			{Team: 1, Pos: game.Vec2{X: 30, Y: 50}},
		},
		BombSite: game.Vec2{X: 50, Y: 50},
	}
}

type testEnv struct {
	*Server
	sink  *summarySink
	clock *fakeClock
}

// fakeClock 调度器计时；默认每个周期耗时为 0
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.CountdownTicks = 0
	cfg.ReconnectGrace = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	rules := testRules()
	sink := &summarySink{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, err := New(cfg, Options{
		Rules:     &rules,
		Maps:      map[string]game.Map{"open": openMap()},
		Summaries: sink,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.Sessions.Close)
	return &testEnv{Server: s, sink: sink, clock: clock}
}

func (e *testEnv) cycle() {
	e.Scheduler.RunCycle()
	e.Dispatcher.Flush()
}

type player struct {
	sess *Session
	conn *fakeConn
}

func (e *testEnv) connect(t *testing.T, id string) player {
	t.Helper()
	c := &fakeConn{}
	s, err := e.RegisterSession(id, c)
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return player{sess: s, conn: c}
}

// startRoom 建房、加入、准备、开始，并跑完倒计时
func (e *testEnv) startRoom(t *testing.T, mc game.MatchConfig, ids ...string) (string, []player) {
	t.Helper()
	roomID, err := e.Manager.CreateRoom(mc)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	ps := make([]player, 0, len(ids))
	for _, id := range ids {
		p := e.connect(t, id)
		if res := e.Manager.JoinRoom(roomID, id); res != JoinAccepted {
			t.Fatalf("join %s: %s", id, res)
		}
		if err := e.Manager.SetReady(roomID, id, true); err != nil {
			t.Fatalf("ready %s: %v", id, err)
		}
		ps = append(ps, p)
	}
	if err := e.Manager.StartRoom(roomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.cycle()
	r, _ := e.Manager.Room(roomID)
	if r.Status() != StatusInProgress {
		t.Fatalf("status after countdown = %s", r.Status())
	}
	return roomID, ps
}

func duelConfig() game.MatchConfig {
	return game.MatchConfig{Mode: game.ModeTDM, MaxPlayers: 2, KillLimit: 5}
}

func (e *testEnv) room(t *testing.T, id string) *Room {
	t.Helper()
	r, ok := e.Manager.Room(id)
	if !ok {
		t.Fatalf("room %s not found", id)
	}
	return r
}
