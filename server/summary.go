package server

import (
	"time"

	"go.uber.org/zap"

	"crossfire/game"
)

type PlayerSummary struct {
	ID     string    `json:"id"`
	Team   game.Team `json:"team"`
	Kills  int       `json:"kills"`
	Deaths int       `json:"deaths"`
	Score  int       `json:"score"`
}

// MatchSummary 对局结束后交给外部存储的摘要，本服务不落库
type MatchSummary struct {
	RoomID      string          `json:"roomId"`
	Mode        game.Mode       `json:"mode"`
	Map         string          `json:"map"`
	Reason      game.EndReason  `json:"reason"`
	WinningTeam game.Team       `json:"winningTeam"`
	Draw        bool            `json:"draw"`
	Ticks       uint64          `json:"ticks"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     time.Time       `json:"endedAt"`
	Players     []PlayerSummary `json:"players"`
}

type SummarySink interface {
	Submit(MatchSummary)
}

// LogSummarySink 默认实现：只写日志
type LogSummarySink struct {
	Log *zap.SugaredLogger
}

func (s LogSummarySink) Submit(m MatchSummary) {
	log := s.Log
	if log == nil {
		log = Log
	}
	log.Infow("match summary",
		"room", m.RoomID,
		"mode", m.Mode,
		"reason", m.Reason,
		"winningTeam", m.WinningTeam,
		"draw", m.Draw,
		"ticks", m.Ticks,
		"players", len(m.Players),
	)
}
