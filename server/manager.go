package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crossfire/anticheat"
	"crossfire/config"
	"crossfire/game"
)

// JoinResult 加入房间的结果
type JoinResult string

const (
	JoinAccepted       JoinResult = "accepted"
	JoinFull           JoinResult = "full"
	JoinAlreadyStarted JoinResult = "already_started"
	JoinNotFound       JoinResult = "not_found"
)

// Assignment 匹配服务交来的分房结果
type Assignment struct {
	RoomID  string           `json:"roomId,omitempty"`
	Config  game.MatchConfig `json:"config"`
	Players []AssignedPlayer `json:"players"`
}

type AssignedPlayer struct {
	ID   string    `json:"id"`
	Team game.Team `json:"team"`
}

// RoomInfo 房间列表项
type RoomInfo struct {
	ID         string     `json:"id"`
	Mode       game.Mode  `json:"mode"`
	Map        string     `json:"map"`
	Status     RoomStatus `json:"status"`
	Tick       uint64     `json:"tick"`
	MaxPlayers int        `json:"maxPlayers"`
	Players    []string   `json:"players"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Manager 管理多个房间的生命周期；房间注册表只由它修改，支持并发读取
type Manager struct {
	cfg      config.Config
	rules    game.Rules
	maps     map[string]game.Map
	sessions *SessionRegistry
	sink     SummarySink
	metrics  *Metrics
	monitor  *anticheat.Monitor
	publish  func(*Frame)

	mu      sync.RWMutex
	rooms   map[string]*Room
	players map[string]string // 玩家 → 所在房间
	created int64
}

func NewManager(cfg config.Config, rules game.Rules, maps map[string]game.Map, sessions *SessionRegistry, sink SummarySink, metrics *Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		rules:    rules,
		maps:     maps,
		sessions: sessions,
		sink:     sink,
		metrics:  metrics,
		rooms:    make(map[string]*Room),
		players:  make(map[string]string),
	}
}

// CreateRoom 创建房间；达到 MaxRooms 时返回 ErrCapacityExceeded
func (m *Manager) CreateRoom(mc game.MatchConfig) (string, error) {
	return m.createRoom("", mc)
}

func (m *Manager) createRoom(id string, mc game.MatchConfig) (string, error) {
	if mc.Map == "" {
		mc.Map = m.defaultMap()
	}
	if mc.MaxPlayers == 0 {
		mc.MaxPlayers = 10
	}
	if err := mc.Validate(); err != nil {
		return "", err
	}
	mp, ok := m.maps[mc.Map]
	if !ok {
		return "", fmt.Errorf("match: unknown map %q", mc.Map)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rooms) >= m.cfg.MaxRooms {
		return "", ErrCapacityExceeded
	}
	if id == "" {
		id = "room-" + uuid.NewString()[:8]
	}
	if _, exists := m.rooms[id]; exists {
		return "", fmt.Errorf("room %s already exists", id)
	}
	m.created++
	r := NewRoom(id, mc, RoomOptions{
		TickHz:           m.cfg.TickHz,
		Rules:            m.rules,
		Map:              mp,
		Seed:             m.cfg.Seed + m.created,
		MaxInputsPerTick: m.cfg.MaxInputsPerTick,
		CountdownTicks:   m.cfg.CountdownTicks,
	})
	m.rooms[id] = r
	m.metrics.IncRoomCreated()
	Log.Infow("room created", "room", id, "mode", mc.Mode, "map", mc.Map, "maxPlayers", mc.MaxPlayers)
	return id, nil
}

func (m *Manager) defaultMap() string {
	if _, ok := m.maps["arena"]; ok {
		return "arena"
	}
	names := make([]string, 0, len(m.maps))
	for name := range m.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Room 按 ID 查找
func (m *Manager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// JoinRoom 自动分队加入
func (m *Manager) JoinRoom(roomID, playerID string) JoinResult {
	return m.join(roomID, playerID, AutoTeam)
}

// join 先占住新房间的位置，成功后才离开原房间；失败时不改变任何状态
func (m *Manager) join(roomID, playerID string, team game.Team) JoinResult {
	r, ok := m.Room(roomID)
	if !ok {
		return JoinNotFound
	}
	res := r.join(playerID, team)
	if res != JoinAccepted {
		return res
	}

	m.mu.RLock()
	prev := m.players[playerID]
	m.mu.RUnlock()
	if prev != "" && prev != roomID {
		_ = m.LeaveRoom(prev, playerID)
	}
	m.mu.Lock()
	m.players[playerID] = roomID
	m.mu.Unlock()
	m.sessions.Bind(playerID, roomID)
	Log.Infow("player joined", "room", roomID, "player", playerID)
	return JoinAccepted
}

// Attach 新连接未指定房间时，绑定到玩家已被分配的房间
func (m *Manager) Attach(s *Session) {
	m.mu.RLock()
	roomID := m.players[s.PlayerID]
	m.mu.RUnlock()
	if roomID != "" && s.RoomID() == "" {
		m.sessions.Bind(s.PlayerID, roomID)
	}
}

// LeaveRoom 玩家离开（主动或断线超时）
func (m *Manager) LeaveRoom(roomID, playerID string) error {
	r, ok := m.Room(roomID)
	if !ok {
		return fmt.Errorf("leave %s: %w", roomID, ErrRoomNotFound)
	}
	if !r.leave(playerID) {
		return fmt.Errorf("leave %s: player %s: %w", roomID, playerID, ErrNotInRoom)
	}
	m.mu.Lock()
	if m.players[playerID] == roomID {
		delete(m.players, playerID)
	}
	m.mu.Unlock()
	m.sessions.Detach(playerID, roomID)
	Log.Infow("player left", "room", roomID, "player", playerID)
	return nil
}

func (m *Manager) SetReady(roomID, playerID string, ready bool) error {
	r, ok := m.Room(roomID)
	if !ok {
		return fmt.Errorf("ready %s: %w", roomID, ErrRoomNotFound)
	}
	return r.setReady(playerID, ready)
}

// StartRoom 只能从 waiting 开始，且名单全部准备
func (m *Manager) StartRoom(roomID string) error {
	r, ok := m.Room(roomID)
	if !ok {
		return fmt.Errorf("start %s: %w", roomID, ErrRoomNotFound)
	}
	if err := r.start(m.cfg.MinPlayers); err != nil {
		return err
	}
	Log.Infow("room starting", "room", roomID, "players", r.Players(), "countdownTicks", m.cfg.CountdownTicks)
	return nil
}

// EndRoom 管理员结束房间。进行中的房间在下一次 Step 开始时结束；
// 等待中的房间不会被调度，直接发布终局帧
func (m *Manager) EndRoom(roomID string, reason game.EndReason) error {
	r, ok := m.Room(roomID)
	if !ok {
		return fmt.Errorf("end %s: %w", roomID, ErrRoomNotFound)
	}
	if reason == "" {
		reason = game.ReasonAdmin
	}
	if f := r.abortIfWaiting(reason); f != nil {
		m.publishFrame(f)
		return nil
	}
	r.requestEnd(reason)
	return nil
}

func (m *Manager) publishFrame(f *Frame) {
	if m.publish != nil {
		m.publish(f)
		return
	}
	m.finalize(f)
}

// AcceptAssignment 建房、按指定队伍加入、全部准备并开始
func (m *Manager) AcceptAssignment(a Assignment) (string, error) {
	if a.Config.MaxPlayers == 0 {
		a.Config.MaxPlayers = len(a.Players)
	}
	id, err := m.createRoom(a.RoomID, a.Config)
	if err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		m.remove(id)
		return "", err
	}
	for _, p := range a.Players {
		if res := m.join(id, p.ID, p.Team); res != JoinAccepted {
			return fail(fmt.Errorf("assign %s: player %s: %s", id, p.ID, res))
		}
		if err := m.SetReady(id, p.ID, true); err != nil {
			return fail(err)
		}
	}
	if err := m.StartRoom(id); err != nil {
		return fail(err)
	}
	return id, nil
}

// remove 直接移除一个从未开始的房间
func (m *Manager) remove(id string) {
	m.mu.Lock()
	r, ok := m.rooms[id]
	delete(m.rooms, id)
	var players []string
	if ok {
		players = r.Players()
		for _, pid := range players {
			if m.players[pid] == id {
				delete(m.players, pid)
			}
		}
	}
	m.mu.Unlock()
	for _, pid := range players {
		m.sessions.Detach(pid, id)
	}
}

// ActiveRooms 需要调度的房间（starting / in_progress），按 ID 排序
func (m *Manager) ActiveRooms() []*Room {
	m.mu.RLock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		switch r.Status() {
		case StatusStarting, StatusInProgress:
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) ListRooms() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomInfo{
			ID:         r.ID,
			Mode:       r.Config.Mode,
			Map:        r.Config.Map,
			Status:     r.Status(),
			Tick:       r.Tick(),
			MaxPlayers: r.Config.MaxPlayers,
			Players:    r.Players(),
			CreatedAt:  r.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// finalize 终局帧投递后：移出注册表、解除会话绑定、提交对局摘要
func (m *Manager) finalize(f *Frame) {
	m.mu.Lock()
	delete(m.rooms, f.RoomID)
	var players []string
	for pid, rid := range m.players {
		if rid == f.RoomID {
			players = append(players, pid)
			delete(m.players, pid)
		}
	}
	m.mu.Unlock()

	for _, pid := range players {
		m.sessions.Detach(pid, f.RoomID)
	}
	m.metrics.IncRoomEnded()
	if m.monitor != nil {
		m.monitor.Submit(anticheat.Report{RoomID: f.RoomID, Tick: f.Tick, Ended: true})
	}
	reason := ""
	if f.Ended != nil {
		reason = f.Ended.Reason
	}
	if f.Summary != nil {
		reason = string(f.Summary.Reason)
		if m.sink != nil {
			m.sink.Submit(*f.Summary)
		}
	}
	Log.Infow("room ended", "room", f.RoomID, "tick", f.Tick, "reason", reason)
}

