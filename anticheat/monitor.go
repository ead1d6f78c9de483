package anticheat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"crossfire/game"
)

// Config 评分参数
type Config struct {
	Window        int     // 每个玩家保留最近多少次开火
	MinShots      int     // 样本不足时不做统计判断
	AccuracyLimit float64 // 命中率超过该值视为异常
	HeadshotLimit float64 // 爆头率（占命中）超过该值视为异常
	HardWeight    float64
	SoftWeight    float64
	StatWeight    float64
	Threshold     float64 // 分数达到该值时软标记
	QueueSize     int
}

func DefaultConfig() Config {
	return Config{
		Window:        50,
		MinShots:      20,
		AccuracyLimit: 0.9,
		HeadshotLimit: 0.75,
		HardWeight:    10,
		SoftWeight:    1,
		StatWeight:    2,
		Threshold:     30,
		QueueSize:     1024,
	}
}

// Report 调度器每个 Tick 提交的一份样本
type Report struct {
	RoomID     string
	Tick       uint64
	Shots      []game.ShotSample
	Violations []game.Violation
	Ended      bool // 房间结束，清理该房间的记录
}

// Flag 软标记，只供离线审核，不影响对局
type Flag struct {
	RoomID   string  `json:"roomId"`
	PlayerID string  `json:"playerId"`
	Tick     uint64  `json:"tick"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

type FlagSink interface {
	Flag(Flag)
}

// LogSink 把软标记写入日志
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Flag(f Flag) {
	s.Log.Warnw("cheat soft-flag", "room", f.RoomID, "player", f.PlayerID, "tick", f.Tick, "score", f.Score, "reason", f.Reason)
}

// PlayerScore 当前评分快照
type PlayerScore struct {
	RoomID   string  `json:"roomId"`
	PlayerID string  `json:"playerId"`
	Score    float64 `json:"score"`
	Shots    int     `json:"shots"`
	Accuracy float64 `json:"accuracy"`
	Flagged  bool    `json:"flagged"`
}

type key struct{ room, player string }

type record struct {
	score   float64
	flagged bool
	shots   window
}

// Monitor 异步统计开火与违规，累计作弊分。与房间完全解耦：队列满时丢弃样本
type Monitor struct {
	cfg  Config
	log  *zap.SugaredLogger
	sink FlagSink
	in   chan Report

	mu      sync.Mutex
	records map[key]*record

	dropped atomic.Uint64
}

func NewMonitor(cfg Config, sink FlagSink, log *zap.SugaredLogger) *Monitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Monitor{
		cfg:     cfg,
		log:     log,
		sink:    sink,
		in:      make(chan Report, cfg.QueueSize),
		records: make(map[key]*record),
	}
}

// Submit 非阻塞提交；返回 false 表示队列已满样本被丢弃
func (m *Monitor) Submit(r Report) bool {
	select {
	case m.in <- r:
		return true
	default:
		if m.dropped.Add(1)%100 == 1 {
			m.log.Warnw("anticheat queue full, dropping reports", "dropped", m.dropped.Load())
		}
		return false
	}
}

// Dropped 累计丢弃的样本数
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Run 消费队列直到 ctx 结束
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-m.in:
			m.Process(r)
		}
	}
}

// Process 同步处理一份样本
func (m *Monitor) Process(r Report) {
	m.mu.Lock()
	var flags []Flag
	for _, v := range r.Violations {
		rec := m.record(r.RoomID, v.PlayerID)
		if v.Hard {
			rec.score += m.cfg.HardWeight
		} else {
			rec.score += m.cfg.SoftWeight
		}
		if f, ok := m.check(rec, r.RoomID, v.PlayerID, v.Tick, string(v.Kind)); ok {
			flags = append(flags, f)
		}
	}
	for _, s := range r.Shots {
		rec := m.record(r.RoomID, s.PlayerID)
		rec.shots.push(s.Hit, s.Headshot, m.cfg.Window)
		reason := m.anomaly(&rec.shots)
		if reason == "" {
			continue
		}
		rec.score += m.cfg.StatWeight
		if f, ok := m.check(rec, r.RoomID, s.PlayerID, s.Tick, reason); ok {
			flags = append(flags, f)
		}
	}
	if r.Ended {
		for k := range m.records {
			if k.room == r.RoomID {
				delete(m.records, k)
			}
		}
	}
	m.mu.Unlock()

	for _, f := range flags {
		m.sink.Flag(f)
	}
}

func (m *Monitor) record(room, player string) *record {
	k := key{room, player}
	rec, ok := m.records[k]
	if !ok {
		rec = &record{}
		m.records[k] = rec
	}
	return rec
}

func (m *Monitor) anomaly(w *window) string {
	if w.n < m.cfg.MinShots {
		return ""
	}
	acc := w.accuracy()
	if acc > m.cfg.AccuracyLimit {
		return "accuracy"
	}
	if w.hits > 0 && float64(w.heads)/float64(w.hits) > m.cfg.HeadshotLimit {
		return "headshot_ratio"
	}
	return ""
}

// check 每个玩家每局只标记一次
func (m *Monitor) check(rec *record, room, player string, tick uint64, reason string) (Flag, bool) {
	if rec.flagged || rec.score < m.cfg.Threshold {
		return Flag{}, false
	}
	rec.flagged = true
	return Flag{RoomID: room, PlayerID: player, Tick: tick, Score: rec.score, Reason: reason}, true
}

// Score 查询单个玩家的分数
func (m *Monitor) Score(room, player string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key{room, player}]; ok {
		return rec.score
	}
	return 0
}

// Scores 全部玩家的评分，按房间、玩家排序
func (m *Monitor) Scores() []PlayerScore {
	m.mu.Lock()
	out := make([]PlayerScore, 0, len(m.records))
	for k, rec := range m.records {
		out = append(out, PlayerScore{
			RoomID:   k.room,
			PlayerID: k.player,
			Score:    rec.score,
			Shots:    rec.shots.n,
			Accuracy: rec.shots.accuracy(),
			Flagged:  rec.flagged,
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}
