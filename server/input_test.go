package server

import (
	"errors"
	"math"
	"testing"

	"crossfire/game"
	"crossfire/protocol"
)

func TestInputQueueWindowResetsOnDrain(t *testing.T) {
	q := newInputQueue(2)
	for seq := uint32(1); seq <= 3; seq++ {
		reason := q.push(game.InputCommand{Sequence: seq}, nil, nil)
		if seq <= 2 && reason != "" {
			t.Fatalf("seq %d rejected: %s", seq, reason)
		}
		if seq == 3 && reason != RejectRateLimit {
			t.Fatalf("seq 3 = %q, want rate limit", reason)
		}
	}
	if got := q.drain(); len(got) != 2 {
		t.Fatalf("drained %d", len(got))
	}
	if reason := q.push(game.InputCommand{Sequence: 3}, nil, nil); reason != "" {
		t.Fatalf("window not reset: %s", reason)
	}
}

func TestBurstOfFortyInputsIsCappedPerTick(t *testing.T) {
	e := newTestServer(t, nil)
	roomID, ps := e.startRoom(t, duelConfig(), "a", "b")
	r := e.room(t, roomID)
	before := r.sim.State.Players["a"].Position

	accepted, limited := 0, 0
	for seq := uint32(1); seq <= 40; seq++ {
		res := e.SubmitInput(ps[0].sess, game.InputCommand{Sequence: seq, Movement: game.Vec2{X: 1}})
		switch {
		case res.Accepted:
			accepted++
		case res.Reason == RejectRateLimit:
			limited++
		default:
			t.Fatalf("seq %d: %s", seq, res)
		}
	}
	if accepted != e.cfg.MaxInputsPerTick || limited != 40-e.cfg.MaxInputsPerTick {
		t.Fatalf("accepted=%d limited=%d", accepted, limited)
	}

	e.cycle()
	moved := r.sim.State.Players["a"].Position.Dist(before)
	limit := testRules().MaxSpeed * e.cfg.TickInterval().Seconds()
	if moved <= 0 || moved > limit+1e-9 {
		t.Fatalf("moved %v, want (0, %v]", moved, limit)
	}
	if got := r.sim.State.Players["a"].LastProcessedInputSeq; got != uint32(e.cfg.MaxInputsPerTick) {
		t.Fatalf("last processed = %d", got)
	}
	if res := e.SubmitInput(ps[0].sess, game.InputCommand{Sequence: 41}); !res.Accepted {
		t.Fatalf("next tick window should accept: %s", res)
	}
}

func TestSequenceRegressionAlwaysRejected(t *testing.T) {
	e := newTestServer(t, nil)
	_, ps := e.startRoom(t, duelConfig(), "a", "b")
	s := ps[0].sess

	nan := game.Vec2{X: math.NaN()}
	steps := []struct {
		seq  uint32
		move game.Vec2
		want bool
	}{
		{5, game.Vec2{}, true},
		{5, game.Vec2{}, false},
		{3, game.Vec2{}, false},
		{3, nan, false},        // 负载非法也按回退处理
		{9, game.Vec2{}, true}, // 允许跳号
		{0, game.Vec2{}, false},
		{9, nan, false},
	}
	for _, st := range steps {
		res := e.SubmitInput(s, game.InputCommand{Sequence: st.seq, Movement: st.move})
		if res.Accepted != st.want {
			t.Fatalf("seq %d: %s", st.seq, res)
		}
		if !st.want && res.Reason != RejectSequenceRegression {
			t.Fatalf("seq %d reason = %s", st.seq, res.Reason)
		}
	}
	e.cycle()
	if res := e.SubmitInput(s, game.InputCommand{Sequence: 8}); res.Reason != RejectSequenceRegression {
		t.Fatalf("regression after step: %s", res)
	}
	if s.LastSequence() != 9 {
		t.Fatalf("last sequence = %d", s.LastSequence())
	}
	if res := e.SubmitInput(s, game.InputCommand{Sequence: 10, Movement: nan}); res.Reason != RejectMalformed {
		t.Fatalf("non-finite with fresh sequence: %s", res)
	}
}

func TestUnknownActionReportsRegressionFirst(t *testing.T) {
	e := newTestServer(t, nil)
	_, ps := e.startRoom(t, duelConfig(), "a", "b")
	a := ps[0]
	if res := e.SubmitInput(a.sess, game.InputCommand{Sequence: 5}); !res.Accepted {
		t.Fatal(res)
	}

	cases := []struct {
		seq  uint32
		code RejectReason
	}{
		{4, RejectSequenceRegression},
		{6, RejectMalformed},
	}
	for _, c := range cases {
		a.conn.reset()
		b, err := protocol.Encode(protocol.MsgInput, protocol.Input{Seq: c.seq, Actions: []string{"jump"}})
		if err != nil {
			t.Fatal(err)
		}
		e.handleMessage(a.sess, b)
		errs := payloads[protocol.Error](t, a.conn, protocol.MsgError)
		if len(errs) != 1 || errs[0].Code != string(c.code) {
			t.Fatalf("seq %d: errors = %+v", c.seq, errs)
		}
	}
	if a.sess.LastSequence() != 5 {
		t.Fatalf("last sequence = %d", a.sess.LastSequence())
	}
}

func TestSubmitRejectsOutsideActiveRoom(t *testing.T) {
	e := newTestServer(t, nil)
	lone := e.connect(t, "lone")
	if res := e.SubmitInput(lone.sess, game.InputCommand{Sequence: 1}); res.Reason != RejectNotInRoom {
		t.Fatalf("unbound session: %s", res)
	}

	roomID, err := e.Manager.CreateRoom(duelConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Manager.JoinRoom(roomID, "lone")
	if res := e.SubmitInput(lone.sess, game.InputCommand{Sequence: 1}); res.Reason != RejectRoomInactive {
		t.Fatalf("waiting room: %s", res)
	}

	_, ps := e.startRoom(t, duelConfig(), "a", "b")
	bad := game.InputCommand{Sequence: 1, Movement: game.Vec2{X: math.Inf(1)}}
	if res := e.SubmitInput(ps[0].sess, bad); res.Reason != RejectMalformed {
		t.Fatalf("non-finite: %s", res)
	}
	if err := e.Manager.LeaveRoom("missing", "a"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("leave missing room: %v", err)
	}
}
