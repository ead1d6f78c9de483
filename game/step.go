package game

import "math/rand"

// Sim 一局对战的确定性模拟。非并发安全：只允许调度器在 Step 中驱动
type Sim struct {
	State  *State
	Config MatchConfig
	Rules  Rules
	Map    Map

	history *History
	win     WinCondition
	rng     *rand.Rand
	outcome Outcome
	pending []Event // 两次 Step 之间产生的事件（加入/离开）
}

// StepResult 单步结果
type StepResult struct {
	Tick       uint64
	Events     []Event
	Violations []Violation
	Shots      []ShotSample
	Outcome    Outcome
}

// NewSim 同样的配置、种子与输入序列得到完全相同的状态
func NewSim(cfg MatchConfig, rules Rules, m Map, tickHz int, seed int64) *Sim {
	return &Sim{
		State:   newState(tickHz),
		Config:  cfg,
		Rules:   rules,
		Map:     m,
		history: NewHistory(rules.MaxRewindTicks + 2),
		win:     WinConditionFor(cfg.Mode),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// AddPlayer 在出生点生成玩家；已存在则直接返回
func (s *Sim) AddPlayer(id string, team Team) *PlayerState {
	if p, ok := s.State.Players[id]; ok {
		return p
	}
	p := &PlayerState{ID: id, Team: team, Ammo: make([]int, len(s.Rules.Weapons))}
	s.respawn(p)
	s.State.Players[id] = p
	s.pending = append(s.pending, Event{Tick: s.State.Tick, Kind: EventPlayerJoined, Actor: id})
	return p
}

// RemovePlayer 移除玩家（离开或断线超时）
func (s *Sim) RemovePlayer(id string) bool {
	if _, ok := s.State.Players[id]; !ok {
		return false
	}
	delete(s.State.Players, id)
	s.pending = append(s.pending, Event{Tick: s.State.Tick, Kind: EventPlayerLeft, Actor: id})
	return true
}

// End 强制结束（管理员操作或内部错误）
func (s *Sim) End(reason EndReason) {
	if !s.outcome.Ended {
		s.outcome = draw(reason)
	}
}

// Outcome 当前胜负状态
func (s *Sim) Outcome() Outcome { return s.outcome }

// TakePending 取走尚未随 Step 发出的加入/离开事件
func (s *Sim) TakePending() []Event {
	ev := s.pending
	s.pending = nil
	return ev
}

// Step 推进一个 Tick：
// 校验输入 → 按固定 dt 积分移动 → 延迟补偿射线判定 → 结算伤害 → 判定胜负 → Tick+1
//
// 同一玩家一个 Tick 内有多条输入时，动作按序列号全部执行，位置只取最后一条
func (s *Sim) Step(dt float64, batches map[string][]InputCommand) StepResult {
	st := s.State
	if s.outcome.Ended {
		return StepResult{Tick: st.Tick, Outcome: s.outcome}
	}
	tick := st.Tick + 1
	st.Events = s.pending
	s.pending = nil
	var res StepResult
	ids := st.SortedIDs()

	for _, id := range ids {
		s.tickTimers(st.Players[id], tick)
	}

	type plan struct {
		p        *PlayerState
		armed    bool // 本阶段开始时存活，允许同 Tick 互相击杀
		verdicts []Verdict
	}
	plans := make([]plan, 0, len(ids))
	for _, id := range ids {
		p := st.Players[id]
		pl := plan{p: p, armed: p.Alive}
		shadow := p.Clone()
		for _, cmd := range batches[id] {
			if cmd.Sequence <= p.LastProcessedInputSeq {
				continue
			}
			v := Validate(shadow, cmd, s.Rules, tick)
			res.Violations = append(res.Violations, v.Violations...)
			p.LastProcessedInputSeq = cmd.Sequence
			if v.Rejected {
				continue
			}
			shadow = v.Projected
			pl.verdicts = append(pl.verdicts, v)
		}
		plans = append(plans, pl)
	}

	for _, pl := range plans {
		p := pl.p
		if n := len(pl.verdicts); n > 0 && p.Alive {
			last := pl.verdicts[n-1].Command
			p.Yaw, p.Pitch = last.Look.Yaw, last.Look.Pitch
			p.Velocity = last.Movement.Scale(s.Rules.MaxSpeed)
		}
		if !p.Alive {
			p.Velocity = Vec2{}
			continue
		}
		p.Position = s.Map.move(p.Position, p.Velocity.Scale(dt), s.Rules.PlayerRadius)
	}

	for _, pl := range plans {
		if !pl.armed {
			continue
		}
		for _, v := range pl.verdicts {
			s.applyActions(pl.p, v.Command, tick, ids, &res)
		}
	}

	if b := &st.Bomb; b.Planted && !b.Defused && !b.Detonated && tick >= b.DetonateTick {
		b.Detonated = true
		s.emit(Event{Tick: tick, Kind: EventBombDetonated, Actor: b.PlantedBy})
	}

	st.Tick = tick
	s.history.Record(st)
	if out := s.win(st, s.Config); out.Ended {
		s.outcome = out
	}

	res.Tick = tick
	res.Events = st.Events
	res.Outcome = s.outcome
	return res
}

func (s *Sim) applyActions(p *PlayerState, cmd InputCommand, tick uint64, ids []string, res *StepResult) {
	if cmd.WeaponSlot != p.WeaponSlot {
		p.WeaponSlot = cmd.WeaponSlot
		p.ReloadDoneTick = 0
	}
	w, _ := s.Rules.Weapon(p.WeaponSlot)
	for _, a := range cmd.Actions {
		switch a {
		case ActionShoot:
			s.fire(p, w, cmd, tick, ids, res)
		case ActionReload:
			p.ReloadDoneTick = tick + uint64(w.ReloadTicks)
			s.emit(Event{Tick: tick, Kind: EventReload, Actor: p.ID, Weapon: w.Name})
		case ActionPlant:
			s.plant(p, tick)
		case ActionDefuse:
			s.defuse(p, tick)
		}
	}
}

func (s *Sim) tickTimers(p *PlayerState, tick uint64) {
	if !p.Alive && s.Config.Mode.Respawns() && p.RespawnTick != 0 && tick >= p.RespawnTick {
		s.respawn(p)
		s.emit(Event{Tick: tick, Kind: EventRespawn, Actor: p.ID})
	}
	if p.ReloadDoneTick != 0 && tick >= p.ReloadDoneTick {
		if w, ok := s.Rules.Weapon(p.WeaponSlot); ok {
			p.Ammo[p.WeaponSlot] = w.MagazineSize
		}
		p.ReloadDoneTick = 0
	}
}

func (s *Sim) respawn(p *PlayerState) {
	spawns := s.Map.spawnsFor(p.Team)
	p.Position = spawns[s.rng.Intn(len(spawns))]
	p.Velocity = Vec2{}
	p.Health = s.Rules.MaxHealth
	p.Alive = true
	p.RespawnTick = 0
	p.NextFireTick = 0
	p.ReloadDoneTick = 0
	for i, w := range s.Rules.Weapons {
		p.Ammo[i] = w.MagazineSize
	}
}

func (s *Sim) emit(e Event) {
	s.State.Events = append(s.State.Events, e)
}
