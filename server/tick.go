package server

import (
	"context"
	"time"

	"crossfire/anticheat"
	"crossfire/protocol"
)

// Scheduler 所有房间共用的单一 Tick 循环，是房间状态变化的唯一驱动者
type Scheduler struct {
	manager    *Manager
	dispatcher *Dispatcher
	monitor    *anticheat.Monitor
	metrics    *Metrics

	interval       time.Duration
	dt             float64
	broadcastEvery uint64
	now            func() time.Time

	behind bool               // 上个周期超时，本周期允许一次追帧
	carry  map[string]carried // 未广播 Tick 上累积的事件
}

type carried struct {
	events []protocol.Event
	deaths []protocol.PlayerDeath
}

func NewScheduler(m *Manager, d *Dispatcher, mon *anticheat.Monitor, metrics *Metrics, interval time.Duration, broadcastEvery int) *Scheduler {
	if broadcastEvery < 1 {
		broadcastEvery = 1
	}
	return &Scheduler{
		manager:        m,
		dispatcher:     d,
		monitor:        mon,
		metrics:        metrics,
		interval:       interval,
		dt:             interval.Seconds(),
		broadcastEvery: uint64(broadcastEvery),
		now:            time.Now,
		carry:          make(map[string]carried),
	}
}

// Run 启动 Tick 循环直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle()
		}
	}
}

// RunCycle 一个调度周期：推进所有活跃房间 → 计时 → 超时告警
// 超时后的下一个周期每个房间最多多推进一步，积压不会无限累计
func (s *Scheduler) RunCycle() {
	start := s.now()
	steps := 1
	if s.behind {
		steps = 2
		s.behind = false
	}
	rooms := s.manager.ActiveRooms()
	for _, r := range rooms {
		for i := 0; i < steps; i++ {
			if i > 0 {
				s.metrics.IncCatchUp()
			}
			if !s.stepRoom(r) {
				break
			}
		}
	}
	elapsed := s.now().Sub(start)
	slow := elapsed > s.interval
	s.metrics.AddCycle(elapsed, slow)
	if slow {
		s.behind = true
		Log.Warnw("slow tick", "elapsed", elapsed, "budget", s.interval, "rooms", len(rooms))
	}
}

// stepRoom 返回房间是否仍在进行
func (s *Scheduler) stepRoom(r *Room) bool {
	f, err := r.Step(s.dt)
	s.metrics.IncRoomStep()
	if err != nil {
		s.metrics.IncRoomFault()
	}
	if f == nil {
		return false
	}

	if len(f.Violations) > 0 {
		s.metrics.AddViolations(len(f.Violations))
		for _, v := range f.Violations {
			if v.Hard {
				Log.Warnw("hard violation", "room", r.ID, "tick", v.Tick, "player", v.PlayerID, "kind", v.Kind, "seq", v.Sequence, "detail", v.Detail)
			}
		}
	}
	if s.monitor != nil && (len(f.Shots) > 0 || len(f.Violations) > 0) {
		s.monitor.Submit(anticheat.Report{RoomID: r.ID, Tick: f.Tick, Shots: f.Shots, Violations: f.Violations})
	}

	c := s.carry[r.ID]
	if f.Ended == nil && !f.Full && f.Tick%s.broadcastEvery != 0 {
		c.events = append(c.events, f.Events...)
		c.deaths = append(c.deaths, f.Deaths...)
		s.carry[r.ID] = c
		return true
	}
	delete(s.carry, r.ID)
	out := f
	if len(c.events) > 0 || len(c.deaths) > 0 {
		cp := *f
		cp.Events = append(c.events, f.Events...)
		cp.Deaths = append(c.deaths, f.Deaths...)
		out = &cp
	}
	s.dispatcher.Publish(out)
	return f.Ended == nil
}
