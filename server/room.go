package server

import (
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crossfire/game"
	"crossfire/protocol"
)

// RoomStatus 房间状态机：waiting → starting → in_progress → ended
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusStarting   RoomStatus = "starting"
	StatusInProgress RoomStatus = "in_progress"
	StatusEnded      RoomStatus = "ended"
)

// AutoTeam 加入时由房间分配人数较少的队伍
const AutoTeam game.Team = -1

// 客户端看到的内部错误原因
const genericEndReason = "match_ended"

type member struct {
	team  game.Team
	ready bool
}

type controlKind int

const (
	ctlAdd controlKind = iota
	ctlRemove
	ctlEnd
)

// control 房间外部的变更请求，只在下一次 Step 开始时生效
type control struct {
	kind   controlKind
	player string
	team   game.Team
	reason game.EndReason
}

// Frame 一次 Step 的发布结果，发布后只读
type Frame struct {
	RoomID        string
	Tick          uint64
	Status        RoomStatus
	Full          bool // 倒计时阶段 Tick 不前进，只发全量
	View          protocol.View
	LastProcessed map[string]uint32
	Events        []protocol.Event
	Deaths        []protocol.PlayerDeath
	Ended         *protocol.GameEnded
	Checksum      string
	Recipients    []string

	Violations []game.Violation
	Shots      []game.ShotSample
	Summary    *MatchSummary
}

// RoomOptions 建房参数
type RoomOptions struct {
	TickHz           int
	Rules            game.Rules
	Map              game.Map
	Seed             int64
	MaxInputsPerTick int
	CountdownTicks   int
}

// Room 房间世界：权威状态维护在内存，只由调度器单线程推进
type Room struct {
	ID     string
	Config game.MatchConfig

	mu        sync.Mutex
	status    RoomStatus
	roster    map[string]*member
	queues    map[string]*inputQueue
	control   []control
	createdAt time.Time
	startedAt time.Time
	countdown int

	// 以下字段只在调度器协程中访问
	sim       *game.Sim
	maxInputs int
	last      *Frame

	frame atomic.Pointer[Frame]

	beforeStep func(*Room) // 测试注入
}

func NewRoom(id string, cfg game.MatchConfig, opts RoomOptions) *Room {
	return &Room{
		ID:        id,
		Config:    cfg,
		status:    StatusWaiting,
		roster:    make(map[string]*member),
		queues:    make(map[string]*inputQueue),
		createdAt: time.Now(),
		countdown: opts.CountdownTicks,
		sim:       game.NewSim(cfg, opts.Rules, opts.Map, opts.TickHz, opts.Seed),
		maxInputs: opts.MaxInputsPerTick,
	}
}

func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Players 当前名单，按 ID 排序
func (r *Room) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playersLocked()
}

func (r *Room) playersLocked() []string {
	ids := make([]string, 0, len(r.roster))
	for id := range r.roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Frame 最近一次发布的帧（可能为 nil）
func (r *Room) Frame() *Frame { return r.frame.Load() }

// Tick 最近一次发布的 Tick
func (r *Room) Tick() uint64 {
	if f := r.frame.Load(); f != nil {
		return f.Tick
	}
	return 0
}

// join 加入名单；已在名单中视为成功
func (r *Room) join(playerID string, team game.Team) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roster[playerID]; ok {
		return JoinAccepted
	}
	if r.status != StatusWaiting {
		return JoinAlreadyStarted
	}
	if len(r.roster) >= r.Config.MaxPlayers {
		return JoinFull
	}
	if team == AutoTeam {
		team = r.smallerTeamLocked()
	}
	r.roster[playerID] = &member{team: team}
	r.queues[playerID] = newInputQueue(r.maxInputs)
	r.control = append(r.control, control{kind: ctlAdd, player: playerID, team: team})
	return JoinAccepted
}

func (r *Room) smallerTeamLocked() game.Team {
	var n [2]int
	for _, m := range r.roster {
		if m.team == 0 || m.team == 1 {
			n[m.team]++
		}
	}
	if n[1] < n[0] {
		return 1
	}
	return 0
}

// leave 移出名单；对局中的玩家在下一次 Step 时从模拟中移除
func (r *Room) leave(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roster[playerID]; !ok {
		return false
	}
	delete(r.roster, playerID)
	delete(r.queues, playerID)
	r.control = append(r.control, control{kind: ctlRemove, player: playerID})
	return true
}

func (r *Room) setReady(playerID string, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.roster[playerID]
	if !ok {
		return fmt.Errorf("room %s: %w", r.ID, ErrNotInRoom)
	}
	if r.status != StatusWaiting {
		return fmt.Errorf("room %s: %w", r.ID, ErrNotWaiting)
	}
	m.ready = ready
	return nil
}

// start 名单人数不少于 minPlayers 且全部准备时进入倒计时
func (r *Room) start(minPlayers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusWaiting {
		return fmt.Errorf("room %s is %s: %w", r.ID, r.status, ErrNotWaiting)
	}
	if len(r.roster) < minPlayers {
		return fmt.Errorf("room %s has %d/%d players: %w", r.ID, len(r.roster), minPlayers, ErrRosterNotReady)
	}
	for id, m := range r.roster {
		if !m.ready {
			return fmt.Errorf("room %s: player %s not ready: %w", r.ID, id, ErrRosterNotReady)
		}
	}
	r.status = StatusStarting
	r.startedAt = time.Now()
	return nil
}

// requestEnd 强制结束请求，下一次 Step 开始时生效
func (r *Room) requestEnd(reason game.EndReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.control = append(r.control, control{kind: ctlEnd, reason: reason})
}

// abortIfWaiting 等待中的房间不会被调度，直接结束并返回终局帧；
// 其他状态返回 nil，由 requestEnd 排队处理
func (r *Room) abortIfWaiting(reason game.EndReason) *Frame {
	r.mu.Lock()
	if r.status != StatusWaiting {
		r.mu.Unlock()
		return nil
	}
	r.status = StatusEnded
	recipients := r.playersLocked()
	sum := &MatchSummary{RoomID: r.ID, Mode: r.Config.Mode, Map: r.Config.Map, Reason: reason, Draw: true, EndedAt: time.Now()}
	for _, id := range recipients {
		sum.Players = append(sum.Players, PlayerSummary{ID: id, Team: r.roster[id].team})
	}
	r.mu.Unlock()

	f := &Frame{
		RoomID:     r.ID,
		Status:     StatusEnded,
		Full:       true,
		View:       protocol.View{},
		Recipients: recipients,
		Ended:      &protocol.GameEnded{Reason: string(reason), Draw: true},
		Summary:    sum,
	}
	r.frame.Store(f)
	return f
}

// Enqueue 非阻塞地把输入放入玩家队列，不触碰模拟状态。
// 序列号回退最先判定；房间状态与 check 都在其后
func (r *Room) Enqueue(cmd game.InputCommand, check func() RejectReason, allow func() bool) RejectReason {
	r.mu.Lock()
	active := r.status == StatusInProgress
	q := r.queues[cmd.PlayerID]
	r.mu.Unlock()
	if q == nil {
		return RejectNotInRoom
	}
	return q.push(cmd, func() RejectReason {
		if !active {
			return RejectRoomInactive
		}
		if check != nil {
			return check()
		}
		return ""
	}, allow)
}

// Step 推进一个 Tick。单个房间内的 panic 在这里被拦截：
// 记录日志后该房间以 internal_error 结束，不影响调度器与其他房间
func (r *Room) Step(dt float64) (f *Frame, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			Log.Errorw("room step panic", "room", r.ID, "tick", r.sim.State.Tick, "panic", rec, "stack", string(debug.Stack()))
			f = r.fail()
			err = fmt.Errorf("room %s: step panic: %v", r.ID, rec)
		}
	}()

	if r.beforeStep != nil {
		r.beforeStep(r)
	}

	r.mu.Lock()
	ops := r.control
	r.control = nil
	status := r.status
	r.mu.Unlock()
	if status == StatusEnded || status == StatusWaiting {
		return nil, nil
	}

	for _, op := range ops {
		switch op.kind {
		case ctlAdd:
			r.sim.AddPlayer(op.player, op.team)
		case ctlRemove:
			r.sim.RemovePlayer(op.player)
		case ctlEnd:
			r.sim.End(op.reason)
		}
	}

	var res game.StepResult
	full := false
	if status == StatusStarting && !r.sim.Outcome().Ended {
		r.mu.Lock()
		if r.countdown > 0 {
			r.countdown--
		}
		if r.countdown == 0 {
			r.status = StatusInProgress
		}
		r.mu.Unlock()
		full = true
		res = game.StepResult{Tick: r.sim.State.Tick, Events: r.drainJoinEvents()}
	} else {
		if len(r.sim.State.Players) == 0 && !r.sim.Outcome().Ended {
			r.sim.End(game.ReasonAbandoned)
		}
		batches := make(map[string][]game.InputCommand)
		r.mu.Lock()
		for id, q := range r.queues {
			if cmds := q.drain(); len(cmds) > 0 {
				batches[id] = cmds
			}
		}
		r.mu.Unlock()
		res = r.sim.Step(dt, batches)
	}
	if r.sim.Outcome().Ended {
		res.Outcome = r.sim.Outcome()
	}

	f = r.buildFrame(res, full)
	r.publish(f)
	return f, nil
}

// drainJoinEvents 倒计时阶段模拟不推进，加入/离开事件也要送达
func (r *Room) drainJoinEvents() []game.Event {
	return r.sim.TakePending()
}

func (r *Room) publish(f *Frame) {
	r.last = f
	r.frame.Store(f)
}

func (r *Room) buildFrame(res game.StepResult, full bool) *Frame {
	st := r.sim.State
	f := &Frame{
		RoomID:        r.ID,
		Tick:          st.Tick,
		Full:          full,
		View:          make(protocol.View, len(st.Players)),
		LastProcessed: make(map[string]uint32, len(st.Players)),
		Violations:    res.Violations,
		Shots:         res.Shots,
	}
	for id, p := range st.Players {
		f.View[id] = playerView(p)
		f.LastProcessed[id] = p.LastProcessedInputSeq
	}
	for _, e := range res.Events {
		f.Events = append(f.Events, protocol.Event{
			Kind:     string(e.Kind),
			Tick:     e.Tick,
			Actor:    e.Actor,
			Target:   e.Target,
			Weapon:   e.Weapon,
			Damage:   e.Damage,
			Headshot: e.Headshot,
		})
		if e.Kind == game.EventKill {
			f.Deaths = append(f.Deaths, protocol.PlayerDeath{Tick: e.Tick, Victim: e.Target, Killer: e.Actor, Weapon: e.Weapon, Headshot: e.Headshot})
		}
	}
	sum := st.Hash()
	f.Checksum = hex.EncodeToString(sum[:])

	r.mu.Lock()
	if res.Outcome.Ended {
		r.status = StatusEnded
	}
	f.Status = r.status
	f.Recipients = r.playersLocked()
	r.mu.Unlock()

	if res.Outcome.Ended {
		f.Ended = &protocol.GameEnded{
			Tick:        st.Tick,
			Reason:      string(res.Outcome.Reason),
			WinningTeam: int(res.Outcome.WinningTeam),
			Draw:        res.Outcome.Draw,
			Scores:      scores(st),
		}
		f.Summary = r.summary(res.Outcome, st)
	}
	return f
}

// fail 内部错误：不再读取可能已损坏的模拟状态，沿用上一帧
func (r *Room) fail() *Frame {
	r.mu.Lock()
	r.status = StatusEnded
	recipients := r.playersLocked()
	teams := make(map[string]game.Team, len(r.roster))
	for id, m := range r.roster {
		teams[id] = m.team
	}
	started := r.startedAt
	r.mu.Unlock()

	f := &Frame{RoomID: r.ID, Status: StatusEnded, View: protocol.View{}, Recipients: recipients}
	if r.last != nil {
		f.Tick = r.last.Tick
		f.View = r.last.View
		f.LastProcessed = r.last.LastProcessed
	}
	f.Ended = &protocol.GameEnded{Tick: f.Tick, Reason: genericEndReason, Draw: true}
	sum := &MatchSummary{
		RoomID:    r.ID,
		Mode:      r.Config.Mode,
		Map:       r.Config.Map,
		Reason:    game.ReasonInternalError,
		Draw:      true,
		Ticks:     f.Tick,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	for _, id := range recipients {
		sum.Players = append(sum.Players, PlayerSummary{ID: id, Team: teams[id]})
	}
	f.Summary = sum
	r.publish(f)
	return f
}

func (r *Room) summary(out game.Outcome, st *game.State) *MatchSummary {
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	s := &MatchSummary{
		RoomID:      r.ID,
		Mode:        r.Config.Mode,
		Map:         r.Config.Map,
		Reason:      out.Reason,
		WinningTeam: out.WinningTeam,
		Draw:        out.Draw,
		Ticks:       st.Tick,
		StartedAt:   started,
		EndedAt:     time.Now(),
	}
	for _, id := range st.SortedIDs() {
		p := st.Players[id]
		s.Players = append(s.Players, PlayerSummary{ID: id, Team: p.Team, Kills: p.Kills, Deaths: p.Deaths, Score: p.Score})
	}
	return s
}

func playerView(p *game.PlayerState) protocol.PlayerView {
	state := protocol.StateAlive
	if !p.Alive {
		state = protocol.StateDead
	}
	return protocol.PlayerView{
		Pos:    protocol.Vec{X: p.Position.X, Y: p.Position.Y},
		Rot:    protocol.Rot{Yaw: p.Yaw, Pitch: p.Pitch},
		Vel:    protocol.Vec{X: p.Velocity.X, Y: p.Velocity.Y},
		Health: p.Health,
		Weapon: p.WeaponSlot,
		State:  state,
		Team:   int(p.Team),
	}
}

func scores(st *game.State) []protocol.PlayerScore {
	out := make([]protocol.PlayerScore, 0, len(st.Players))
	for _, id := range st.SortedIDs() {
		p := st.Players[id]
		out = append(out, protocol.PlayerScore{ID: id, Team: int(p.Team), Kills: p.Kills, Deaths: p.Deaths, Score: p.Score})
	}
	return out
}
