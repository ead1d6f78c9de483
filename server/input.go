package server

import (
	"sync"

	"crossfire/game"
)

// RejectReason 输入被拒绝的原因
type RejectReason string

const (
	RejectSequenceRegression RejectReason = "sequence_regression"
	RejectRateLimit          RejectReason = "rate_limit_exceeded"
	RejectNotInRoom          RejectReason = "not_in_room"
	RejectRoomInactive       RejectReason = "room_inactive"
	RejectMalformed          RejectReason = "malformed"
)

// SubmitResult Accepted 或带原因的 Rejected
type SubmitResult struct {
	Accepted bool
	Reason   RejectReason
}

func accepted() SubmitResult               { return SubmitResult{Accepted: true} }
func rejected(r RejectReason) SubmitResult { return SubmitResult{Reason: r} }

func (r SubmitResult) String() string {
	if r.Accepted {
		return "accepted"
	}
	return "rejected: " + string(r.Reason)
}

// inputQueue 单个玩家在房间内的待处理输入
// 网络协程 push，调度器在 Step 中 drain；只有这一把锁连接两边
type inputQueue struct {
	mu      sync.Mutex
	pending []game.InputCommand
	lastSeq uint32 // 已接受的最大序列号
	window  int    // 上次 drain 以来接受的条数
	max     int
}

func newInputQueue(maxPerTick int) *inputQueue {
	return &inputQueue{max: maxPerTick}
}

// push 序列号必须严格递增（允许跳号），回退的序列号无论负载如何都按回退拒绝；
// 之后才检查负载（check），同一 Tick 窗口最多 max 条，最后消耗会话令牌桶
func (q *inputQueue) push(cmd game.InputCommand, check func() RejectReason, allow func() bool) RejectReason {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cmd.Sequence <= q.lastSeq {
		return RejectSequenceRegression
	}
	if check != nil {
		if reason := check(); reason != "" {
			return reason
		}
	}
	if q.window >= q.max {
		return RejectRateLimit
	}
	if allow != nil && !allow() {
		return RejectRateLimit
	}
	q.pending = append(q.pending, cmd)
	q.lastSeq = cmd.Sequence
	q.window++
	return ""
}

func (q *inputQueue) drain() []game.InputCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	q.window = 0
	return out
}
