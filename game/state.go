package game

import (
	"encoding/binary"
	"math"
	"sort"

	"lukechampine.com/blake3"
)

// Team 队伍编号（0 / 1）
type Team int

// PlayerState 房间内玩家的权威状态，只在 Sim.Step 中被修改
type PlayerState struct {
	ID       string
	Team     Team
	Position Vec2
	Velocity Vec2
	Yaw      float64
	Pitch    float64

	Health     int
	Alive      bool
	WeaponSlot int
	Ammo       []int // 按武器槽位

	LastProcessedInputSeq uint32

	RespawnTick    uint64
	NextFireTick   uint64
	ReloadDoneTick uint64 // 非 0 表示换弹中

	Kills  int
	Deaths int
	Score  int
}

// Clone 深拷贝（Ammo 切片独立）
func (p *PlayerState) Clone() PlayerState {
	c := *p
	c.Ammo = append([]int(nil), p.Ammo...)
	return c
}

// EventKind 事件类型
type EventKind string

const (
	EventShot          EventKind = "shot"
	EventHit           EventKind = "hit"
	EventKill          EventKind = "kill"
	EventRespawn       EventKind = "respawn"
	EventReload        EventKind = "reload"
	EventBombPlanted   EventKind = "bomb_planted"
	EventBombDefused   EventKind = "bomb_defused"
	EventBombDetonated EventKind = "bomb_detonated"
	EventPlayerJoined  EventKind = "player_joined"
	EventPlayerLeft    EventKind = "player_left"
)

// Event 本 Tick 内发生的事件
type Event struct {
	Tick     uint64
	Kind     EventKind
	Actor    string
	Target   string
	Weapon   string
	Damage   int
	Headshot bool
}

// Bomb 爆破模式下的炸弹状态
type Bomb struct {
	Planted      bool
	Defused      bool
	Detonated    bool
	Position     Vec2
	PlantedBy    string
	DetonateTick uint64
}

// State 房间的权威世界状态
type State struct {
	Tick    uint64
	TickHz  int
	Players map[string]*PlayerState
	Events  []Event // 仅本 Tick 的事件
	Bomb    Bomb
}

func newState(tickHz int) *State {
	return &State{TickHz: tickHz, Players: make(map[string]*PlayerState)}
}

// SortedIDs 按 ID 排序，保证遍历顺序确定
func (s *State) SortedIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ElapsedSeconds 对局已进行的模拟时间
func (s *State) ElapsedSeconds() float64 {
	if s.TickHz <= 0 {
		return 0
	}
	return float64(s.Tick) / float64(s.TickHz)
}

// TeamKills 队伍总击杀
func (s *State) TeamKills(team Team) int {
	n := 0
	for _, p := range s.Players {
		if p.Team == team {
			n += p.Kills
		}
	}
	return n
}

// TeamAlive 队伍存活人数与在场人数
func (s *State) TeamAlive(team Team) (alive, present int) {
	for _, p := range s.Players {
		if p.Team != team {
			continue
		}
		present++
		if p.Alive {
			alive++
		}
	}
	return alive, present
}

// Clone 深拷贝整个状态
func (s *State) Clone() *State {
	c := &State{Tick: s.Tick, TickHz: s.TickHz, Bomb: s.Bomb, Players: make(map[string]*PlayerState, len(s.Players))}
	for id, p := range s.Players {
		cp := p.Clone()
		c.Players[id] = &cp
	}
	c.Events = append([]Event(nil), s.Events...)
	return c
}

// Hash 状态校验和（blake3），用于确定性校验与客户端全量快照核对
func (s *State) Hash() [32]byte {
	h := blake3.New(32, nil)
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	f64 := func(v float64) { u64(math.Float64bits(v)) }
	b := func(v bool) {
		if v {
			u64(1)
		} else {
			u64(0)
		}
	}

	u64(s.Tick)
	for _, id := range s.SortedIDs() {
		p := s.Players[id]
		h.Write([]byte(id))
		u64(uint64(p.Team))
		f64(p.Position.X)
		f64(p.Position.Y)
		f64(p.Velocity.X)
		f64(p.Velocity.Y)
		f64(p.Yaw)
		f64(p.Pitch)
		u64(uint64(p.Health))
		b(p.Alive)
		u64(uint64(p.WeaponSlot))
		for _, a := range p.Ammo {
			u64(uint64(a))
		}
		u64(uint64(p.LastProcessedInputSeq))
		u64(p.RespawnTick)
		u64(p.NextFireTick)
		u64(p.ReloadDoneTick)
		u64(uint64(p.Kills))
		u64(uint64(p.Deaths))
		u64(uint64(p.Score))
	}
	b(s.Bomb.Planted)
	b(s.Bomb.Defused)
	b(s.Bomb.Detonated)
	f64(s.Bomb.Position.X)
	f64(s.Bomb.Position.Y)
	u64(s.Bomb.DetonateTick)

	var out [32]byte
	h.Sum(out[:0])
	return out
}
