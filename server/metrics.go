package server

import (
	"sync/atomic"
	"time"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	Cycles         int64 // 调度周期数
	SlowCycles     int64 // 超时的周期数
	CatchUpSteps   int64 // 追帧步数
	TotalCycleNs   int64 // 周期累计耗时（纳秒）
	RoomSteps      int64
	RoomFaults     int64 // 房间内部错误
	InputsAccepted int64
	SeqRegressions int64 // 因旧序列被拒绝的输入数
	RateLimited    int64 // 因限流被拒绝的输入数
	InputsRejected int64 // 其他原因被拒绝的输入数
	SnapshotsSent  int64
	SendDropped    int64 // 发送队列满被丢弃的消息数
	FramesDropped  int64 // 广播队列满被丢弃的帧
	RoomsCreated   int64
	RoomsEnded     int64
	Violations     int64
}

func (m *Metrics) IncAccepted()      { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *Metrics) IncRegression()    { atomic.AddInt64(&m.SeqRegressions, 1) }
func (m *Metrics) IncRateLimited()   { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) IncRejected()      { atomic.AddInt64(&m.InputsRejected, 1) }
func (m *Metrics) IncSent()          { atomic.AddInt64(&m.SnapshotsSent, 1) }
func (m *Metrics) IncSendDropped()   { atomic.AddInt64(&m.SendDropped, 1) }
func (m *Metrics) IncFramesDropped() { atomic.AddInt64(&m.FramesDropped, 1) }
func (m *Metrics) IncRoomFault()     { atomic.AddInt64(&m.RoomFaults, 1) }
func (m *Metrics) IncRoomCreated()   { atomic.AddInt64(&m.RoomsCreated, 1) }
func (m *Metrics) IncRoomEnded()     { atomic.AddInt64(&m.RoomsEnded, 1) }
func (m *Metrics) IncRoomStep()      { atomic.AddInt64(&m.RoomSteps, 1) }
func (m *Metrics) IncCatchUp()       { atomic.AddInt64(&m.CatchUpSteps, 1) }
func (m *Metrics) AddViolations(n int) {
	atomic.AddInt64(&m.Violations, int64(n))
}

func (m *Metrics) AddCycle(d time.Duration, slow bool) {
	atomic.AddInt64(&m.Cycles, 1)
	atomic.AddInt64(&m.TotalCycleNs, d.Nanoseconds())
	if slow {
		atomic.AddInt64(&m.SlowCycles, 1)
	}
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	cycles := atomic.LoadInt64(&m.Cycles)
	total := atomic.LoadInt64(&m.TotalCycleNs)
	var avgMs float64
	if cycles > 0 {
		avgMs = float64(total) / float64(cycles) / 1e6
	}
	return map[string]any{
		"cycles":          cycles,
		"slow_cycles":     atomic.LoadInt64(&m.SlowCycles),
		"catch_up_steps":  atomic.LoadInt64(&m.CatchUpSteps),
		"avg_cycle_ms":    avgMs,
		"room_steps":      atomic.LoadInt64(&m.RoomSteps),
		"room_faults":     atomic.LoadInt64(&m.RoomFaults),
		"inputs_accepted": atomic.LoadInt64(&m.InputsAccepted),
		"seq_regressions": atomic.LoadInt64(&m.SeqRegressions),
		"rate_limited":    atomic.LoadInt64(&m.RateLimited),
		"inputs_rejected": atomic.LoadInt64(&m.InputsRejected),
		"snapshots_sent":  atomic.LoadInt64(&m.SnapshotsSent),
		"send_dropped":    atomic.LoadInt64(&m.SendDropped),
		"frames_dropped":  atomic.LoadInt64(&m.FramesDropped),
		"rooms_created":   atomic.LoadInt64(&m.RoomsCreated),
		"rooms_ended":     atomic.LoadInt64(&m.RoomsEnded),
		"violations":      atomic.LoadInt64(&m.Violations),
	}
}
