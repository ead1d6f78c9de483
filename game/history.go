package game

// History 延迟补偿用的位置历史（环形缓冲，按 Tick 索引）
type History struct {
	frames []historyFrame
}

type historyFrame struct {
	tick  uint64
	valid bool
	pos   map[string]Vec2 // 仅记录存活玩家
}

// NewHistory capacity 为保留的 Tick 数
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{frames: make([]historyFrame, capacity)}
}

// Record 记录 Tick 结束时所有存活玩家的位置
func (h *History) Record(s *State) {
	f := &h.frames[s.Tick%uint64(len(h.frames))]
	f.tick = s.Tick
	f.valid = true
	if f.pos == nil {
		f.pos = make(map[string]Vec2, len(s.Players))
	} else {
		for k := range f.pos {
			delete(f.pos, k)
		}
	}
	for id, p := range s.Players {
		if p.Alive {
			f.pos[id] = p.Position
		}
	}
}

// Positions 返回 tick 时的存活玩家位置表；该 Tick 未记录（过旧或未来）返回 false
func (h *History) Positions(tick uint64) (map[string]Vec2, bool) {
	f := &h.frames[tick%uint64(len(h.frames))]
	if !f.valid || f.tick != tick {
		return nil, false
	}
	return f.pos, true
}

// PositionAt 查询某玩家在 tick 时的位置；未记录或当时已死亡返回 false
func (h *History) PositionAt(id string, tick uint64) (Vec2, bool) {
	pos, ok := h.Positions(tick)
	if !ok {
		return Vec2{}, false
	}
	p, ok := pos[id]
	return p, ok
}

// RewindTick 计算回溯目标 Tick：不超过当前 Tick，且最多回溯 maxRewind
func RewindTick(current, clientTick uint64, maxRewind int) uint64 {
	if clientTick >= current {
		return current
	}
	if maxRewind <= 0 {
		return current
	}
	if current-clientTick > uint64(maxRewind) {
		return current - uint64(maxRewind)
	}
	return clientTick
}
