package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Conn 会话的发送端。Enqueue 不得阻塞：队列满时返回 false
type Conn interface {
	Enqueue(b []byte) bool
	Close()
}

// Session 一个玩家的一条持久连接
type Session struct {
	ID       string
	PlayerID string

	mu        sync.Mutex
	conn      Conn
	roomID    string
	connected bool
	grace     *time.Timer

	limiter   *rate.Limiter
	lastAcked atomic.Uint64 // 客户端已确认的快照 Tick
	needFull  atomic.Bool   // 下一次广播发送全量快照
	lastSeq   atomic.Uint32 // 最近一次被接受的输入序列号
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send 非阻塞发送；断线或队列满时返回 false
func (s *Session) Send(b []byte) bool {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Enqueue(b)
}

// Ack 记录客户端确认的 Tick，只前进不后退
func (s *Session) Ack(tick uint64) {
	for {
		cur := s.lastAcked.Load()
		if tick <= cur || s.lastAcked.CompareAndSwap(cur, tick) {
			return
		}
	}
}

func (s *Session) LastAcked() uint64 { return s.lastAcked.Load() }

// RequestFull 客户端请求重同步
func (s *Session) RequestFull() { s.needFull.Store(true) }

func (s *Session) takeFull() bool { return s.needFull.Swap(false) }

// LastSequence 最近一次被接受的输入序列号
func (s *Session) LastSequence() uint32 { return s.lastSeq.Load() }

// SessionRegistry 按玩家索引的会话表
type SessionRegistry struct {
	mu       sync.Mutex
	byPlayer map[string]*Session

	grace    time.Duration
	rate     rate.Limit
	burst    int
	onExpire func(playerID, roomID string) // 断线宽限期结束，转为离开房间

	timers sync.WaitGroup // 尚未触发或正在执行的宽限期定时器
	closed bool
}

func NewSessionRegistry(grace time.Duration, perSecond float64, burst int) *SessionRegistry {
	return &SessionRegistry{
		byPlayer: make(map[string]*Session),
		grace:    grace,
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Register 为玩家建立会话
//   - 已有在线且绑定房间的会话：DuplicateSessionError
//   - 宽限期内的断线会话：新会话继承房间绑定，并在下一次广播收到全量快照
//   - 在线但未绑定房间的旧会话：关闭旧连接后替换
func (r *SessionRegistry) Register(playerID string, conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		conn:      conn,
		connected: true,
		limiter:   rate.NewLimiter(r.rate, r.burst),
	}
	s.needFull.Store(true)

	if old, ok := r.byPlayer[playerID]; ok {
		old.mu.Lock()
		switch {
		case old.connected && old.roomID != "":
			room := old.roomID
			old.mu.Unlock()
			return nil, &DuplicateSessionError{PlayerID: playerID, RoomID: room}
		case !old.connected:
			r.stopGraceLocked(old)
			s.roomID = old.roomID
			s.lastSeq.Store(old.lastSeq.Load())
			old.mu.Unlock()
			Log.Infow("session resumed", "player", playerID, "room", s.roomID, "session", s.ID)
		default:
			c := old.conn
			old.conn = nil
			old.connected = false
			old.mu.Unlock()
			if c != nil {
				c.Close()
			}
		}
	}
	r.byPlayer[playerID] = s
	return s, nil
}

// Disconnect 标记断线；绑定房间的会话在宽限期后转为离开
func (r *SessionRegistry) Disconnect(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byPlayer[s.PlayerID] != s {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.conn = nil
	if s.roomID == "" || r.closed {
		delete(r.byPlayer, s.PlayerID)
		return
	}
	r.timers.Add(1)
	s.grace = time.AfterFunc(r.grace, func() {
		defer r.timers.Done()
		r.expire(s)
	})
}

// stopGraceLocked 调用方持有 s.mu；定时器尚未触发时由这里归还计数
func (r *SessionRegistry) stopGraceLocked(s *Session) {
	if s.grace == nil {
		return
	}
	if s.grace.Stop() {
		r.timers.Done()
	}
	s.grace = nil
}

// Close 停止所有宽限期定时器并等待正在执行的回调结束；之后的断线直接移除会话
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	for _, s := range r.byPlayer {
		s.mu.Lock()
		r.stopGraceLocked(s)
		s.mu.Unlock()
	}
	r.mu.Unlock()
	r.timers.Wait()
}

func (r *SessionRegistry) expire(s *Session) {
	r.mu.Lock()
	if r.byPlayer[s.PlayerID] != s {
		r.mu.Unlock()
		return
	}
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	room := s.roomID
	s.roomID = ""
	s.grace = nil
	s.mu.Unlock()
	delete(r.byPlayer, s.PlayerID)
	r.mu.Unlock()

	Log.Infow("reconnect grace expired", "player", s.PlayerID, "room", room)
	if r.onExpire != nil && room != "" {
		r.onExpire(s.PlayerID, room)
	}
}

// Get 玩家当前会话
func (r *SessionRegistry) Get(playerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPlayer[playerID]
	return s, ok
}

// Bind 绑定房间；基线清零，下一次广播发送全量快照
func (r *SessionRegistry) Bind(playerID, roomID string) {
	s, ok := r.Get(playerID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
	s.lastAcked.Store(0)
	s.needFull.Store(true)
}

// Detach 解除与房间的绑定（离开或房间结束）。断线中的会话直接移除
func (r *SessionRegistry) Detach(playerID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPlayer[playerID]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID != roomID {
		return
	}
	s.roomID = ""
	if !s.connected {
		r.stopGraceLocked(s)
		delete(r.byPlayer, playerID)
	}
}

// Players 当前有会话的玩家，按 ID 排序
func (r *SessionRegistry) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byPlayer))
	for id := range r.byPlayer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
