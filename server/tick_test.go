package server

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"crossfire/config"
	"crossfire/game"
	"crossfire/protocol"
)

func TestTickAdvancesOncePerCycleWithBoundedCatchUp(t *testing.T) {
	e := newTestServer(t, nil)
	roomID, _ := e.startRoom(t, duelConfig(), "a", "b")
	r := e.room(t, roomID)

	var cost time.Duration
	r.beforeStep = func(*Room) { e.clock.Advance(cost) }

	want := []uint64{1, 2, 3}
	for _, w := range want {
		e.cycle()
		if r.Tick() != w {
			t.Fatalf("tick = %d, want %d", r.Tick(), w)
		}
	}

	cost = 3 * e.cfg.TickInterval()
	e.cycle() // 本周期超时
	cost = 0
	if r.Tick() != 4 {
		t.Fatalf("slow cycle tick = %d", r.Tick())
	}
	e.cycle() // 追一步
	if r.Tick() != 6 {
		t.Fatalf("catch-up tick = %d, want 6", r.Tick())
	}
	e.cycle()
	if r.Tick() != 7 {
		t.Fatalf("after catch-up tick = %d, want 7", r.Tick())
	}
	if e.Metrics.SlowCycles != 1 || e.Metrics.CatchUpSteps != 1 {
		t.Fatalf("slow=%d catchUp=%d", e.Metrics.SlowCycles, e.Metrics.CatchUpSteps)
	}
}

func TestPanicInOneRoomDoesNotStopOthers(t *testing.T) {
	e := newTestServer(t, nil)
	xID, xs := e.startRoom(t, duelConfig(), "x1", "x2")
	yID, ys := e.startRoom(t, duelConfig(), "y1", "y2")
	x := e.room(t, xID)
	x.beforeStep = func(*Room) { panic("boom") }
	for _, p := range append(xs, ys...) {
		p.conn.reset()
	}

	e.cycle()

	states := payloads[protocol.GameState](t, ys[0].conn, protocol.MsgGameState)
	if len(states) != 1 || states[0].Tick != 1 {
		t.Fatalf("room y states = %+v", states)
	}
	if y := e.room(t, yID); y.Status() != StatusInProgress {
		t.Fatalf("room y status = %s", y.Status())
	}

	ended := payloads[protocol.GameEnded](t, xs[0].conn, protocol.MsgGameEnded)
	if len(ended) != 1 || ended[0].Reason != genericEndReason {
		t.Fatalf("room x ended = %+v", ended)
	}
	if _, ok := e.Manager.Room(xID); ok {
		t.Fatalf("room x still registered")
	}
	if xs[0].sess.RoomID() != "" {
		t.Fatalf("session still bound to failed room")
	}
	sums := e.sink.all()
	if len(sums) != 1 || sums[0].Reason != game.ReasonInternalError {
		t.Fatalf("summaries = %+v", sums)
	}
	if e.Metrics.RoomFaults != 1 {
		t.Fatalf("faults = %d", e.Metrics.RoomFaults)
	}
	entries := testLogs.FilterMessage("room step panic").FilterField(zap.String("room", xID)).All()
	if len(entries) != 1 || entries[0].ContextMap()["tick"] != uint64(1) {
		t.Fatalf("panic log = %+v", entries)
	}
}

func TestDeltaFollowsAckedBaseline(t *testing.T) {
	e := newTestServer(t, nil)
	roomID, ps := e.startRoom(t, duelConfig(), "a", "b")
	a := ps[0]
	r := e.room(t, roomID)

	first := payloads[protocol.GameState](t, a.conn, protocol.MsgGameState)
	if len(first) != 1 || !first[0].Full || len(first[0].Players) != 2 || first[0].Checksum == "" {
		t.Fatalf("join snapshot = %+v", first)
	}

	e.cycle()
	a.sess.Ack(1)
	a.conn.reset()
	if res := e.SubmitInput(a.sess, game.InputCommand{Sequence: 1, Movement: game.Vec2{Y: 1}}); !res.Accepted {
		t.Fatalf("input: %s", res)
	}
	e.cycle()

	got := payloads[protocol.GameState](t, a.conn, protocol.MsgGameState)
	if len(got) != 1 {
		t.Fatalf("states = %d", len(got))
	}
	gs := got[0]
	if gs.Full || gs.Tick != 2 || gs.Baseline != 1 {
		t.Fatalf("delta header = %+v", gs)
	}
	if len(gs.Players) != 1 || gs.Players[0].ID != "a" || gs.Players[0].Pos == nil || gs.Players[0].Health != nil {
		t.Fatalf("delta players = %+v", gs.Players)
	}
	if gs.LastProcessedInput["a"] != 1 {
		t.Fatalf("lastProcessedInput = %v", gs.LastProcessedInput)
	}

	a.sess.RequestFull()
	a.conn.reset()
	e.cycle()
	full := payloads[protocol.GameState](t, a.conn, protocol.MsgGameState)
	if len(full) != 1 || !full[0].Full {
		t.Fatalf("resync = %+v", full)
	}
	if !(protocol.View{}).Apply(full[0]).Equal(r.Frame().View) {
		t.Fatalf("full snapshot does not reproduce server view")
	}
}

func TestClientViewConvergesAcrossDeltas(t *testing.T) {
	e := newTestServer(t, func(c *config.Config) { c.SnapshotHistory = 4 })
	roomID, ps := e.startRoom(t, duelConfig(), "a", "b")
	a := ps[0]
	r := e.room(t, roomID)

	view := protocol.View{}
	var acked uint64
	apply := func() {
		for _, gs := range payloads[protocol.GameState](t, a.conn, protocol.MsgGameState) {
			if !gs.Full && gs.Baseline != acked {
				t.Fatalf("delta against baseline %d, client acked %d", gs.Baseline, acked)
			}
			view = view.Apply(gs)
			acked = gs.Tick
			a.sess.Ack(gs.Tick)
		}
		a.conn.reset()
	}
	apply()

	seq := uint32(0)
	for i := 0; i < 12; i++ {
		seq++
		e.SubmitInput(a.sess, game.InputCommand{Sequence: seq, Movement: game.Vec2{X: 0.5 * float64(i%3-1), Y: 0.5}})
		e.cycle()
		apply()
		if !view.Equal(r.Frame().View) {
			t.Fatalf("tick %d: client view diverged", r.Tick())
		}
	}

	// 基线滑出环形缓冲后回退到全量
	for i := 0; i < 6; i++ {
		e.cycle()
	}
	a.conn.reset()
	e.cycle()
	gs := payloads[protocol.GameState](t, a.conn, protocol.MsgGameState)
	if len(gs) != 1 || !gs[0].Full {
		t.Fatalf("stale baseline should produce full snapshot: %+v", gs)
	}
}

func TestTeamDeathmatchPlaysOutThroughServer(t *testing.T) {
	e := newTestServer(t, nil)
	roomID, ps := e.startRoom(t, duelConfig(), "a", "b")
	a := ps[0]
	r := e.room(t, roomID)

	seq := uint32(0)
	for i := 0; i < 200; i++ {
		if _, ok := e.Manager.Room(roomID); !ok {
			break
		}
		seq++
		cmd := game.InputCommand{Sequence: seq, ClientTick: r.Tick(), Actions: []game.Action{game.ActionShoot}}
		if res := e.SubmitInput(a.sess, cmd); !res.Accepted {
			t.Fatalf("tick %d: %s", r.Tick(), res)
		}
		e.cycle()
	}
	if _, ok := e.Manager.Room(roomID); ok {
		t.Fatalf("match did not end")
	}

	deaths := payloads[protocol.PlayerDeath](t, a.conn, protocol.MsgPlayerDeath)
	if len(deaths) != 5 {
		t.Fatalf("deaths = %d, want 5", len(deaths))
	}
	for _, d := range deaths {
		if d.Killer != "a" || d.Victim != "b" {
			t.Fatalf("death = %+v", d)
		}
	}
	ended := payloads[protocol.GameEnded](t, ps[1].conn, protocol.MsgGameEnded)
	if len(ended) != 1 || ended[0].Reason != string(game.ReasonKillLimit) || ended[0].WinningTeam != 0 || ended[0].Draw {
		t.Fatalf("ended = %+v", ended)
	}
	sums := e.sink.all()
	if len(sums) != 1 || sums[0].Players[0].Kills != 5 {
		t.Fatalf("summary = %+v", sums)
	}
	if a.sess.RoomID() != "" {
		t.Fatalf("session not detached after match")
	}
}
