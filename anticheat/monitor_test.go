package anticheat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crossfire/game"
)

type recordingSink struct {
	mu    sync.Mutex
	flags []Flag
}

func (s *recordingSink) Flag(f Flag) {
	s.mu.Lock()
	s.flags = append(s.flags, f)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flags)
}

func TestWindowRolls(t *testing.T) {
	var w window
	for i := 0; i < 4; i++ {
		w.push(true, true, 4)
	}
	for i := 0; i < 4; i++ {
		w.push(false, false, 4)
	}
	if w.n != 4 || w.hits != 0 || w.heads != 0 {
		t.Fatalf("window = %+v", w)
	}
	w.push(true, false, 4)
	if w.accuracy() != 0.25 {
		t.Fatalf("accuracy = %v", w.accuracy())
	}
}

func TestHardViolationsFlagOnce(t *testing.T) {
	sink := &recordingSink{}
	m := NewMonitor(DefaultConfig(), sink, nil)
	v := game.Violation{PlayerID: "p", Kind: game.ViolationSpeed, Hard: true}
	for i := 0; i < 10; i++ {
		m.Process(Report{RoomID: "r", Violations: []game.Violation{v}})
	}
	if sink.count() != 1 {
		t.Fatalf("flags = %d, want 1", sink.count())
	}
	if got := m.Score("r", "p"); got != 100 {
		t.Fatalf("score = %v", got)
	}
}

func TestPerfectAimAccumulatesScore(t *testing.T) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	m := NewMonitor(cfg, sink, nil)
	shots := make([]game.ShotSample, 0, 40)
	for i := 0; i < 40; i++ {
		shots = append(shots, game.ShotSample{PlayerID: "aim", Tick: uint64(i), Hit: true, Headshot: true})
	}
	m.Process(Report{RoomID: "r", Shots: shots})
	if sink.count() != 1 || sink.flags[0].PlayerID != "aim" {
		t.Fatalf("flags = %+v", sink.flags)
	}

	fair := make([]game.ShotSample, 0, 40)
	for i := 0; i < 40; i++ {
		fair = append(fair, game.ShotSample{PlayerID: "fair", Hit: i%3 == 0})
	}
	m.Process(Report{RoomID: "r", Shots: fair})
	if m.Score("r", "fair") != 0 {
		t.Fatalf("ordinary accuracy scored %v", m.Score("r", "fair"))
	}
}

func TestRoomEndForgetsRecords(t *testing.T) {
	m := NewMonitor(DefaultConfig(), &recordingSink{}, nil)
	m.Process(Report{RoomID: "r", Violations: []game.Violation{{PlayerID: "p", Kind: game.ViolationNoAmmo}}})
	if len(m.Scores()) != 1 {
		t.Fatalf("scores = %+v", m.Scores())
	}
	m.Process(Report{RoomID: "r", Ended: true})
	if len(m.Scores()) != 0 {
		t.Fatalf("records kept after room end")
	}
}

func TestSubmitNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	m := NewMonitor(cfg, &recordingSink{}, nil)
	accepted := 0
	for i := 0; i < 5; i++ {
		if m.Submit(Report{RoomID: "r"}) {
			accepted++
		}
	}
	if accepted != 2 || m.Dropped() != 3 {
		t.Fatalf("accepted=%d dropped=%d", accepted, m.Dropped())
	}
}

func TestRunDeliversToLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core).Sugar()
	m := NewMonitor(DefaultConfig(), nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	vs := make([]game.Violation, 3)
	for i := range vs {
		vs[i] = game.Violation{PlayerID: "p", Kind: game.ViolationFireRate, Hard: true}
	}
	m.Submit(Report{RoomID: "r", Tick: 7, Violations: vs})

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("cheat soft-flag").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no soft-flag logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	entry := logs.FilterMessage("cheat soft-flag").All()[0]
	if entry.ContextMap()["player"] != "p" {
		t.Fatalf("fields = %v", entry.ContextMap())
	}
}
