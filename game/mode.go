package game

import "fmt"

// Mode 游戏模式
type Mode string

const (
	ModeTDM              Mode = "tdm"
	ModeSearchAndDestroy Mode = "snd"
	ModeElimination      Mode = "elimination"
)

// 爆破模式中 0 队为进攻方，1 队为防守方
const (
	TeamAttackers Team = 0
	TeamDefenders Team = 1
)

// MatchConfig 房间配置
type MatchConfig struct {
	Mode        Mode   `json:"mode"`
	Map         string `json:"map"`
	MaxPlayers  int    `json:"maxPlayers"`
	KillLimit   int    `json:"killLimit"`
	TimeLimit   int    `json:"timeLimitSec"` // 0 表示不限时
	BombSeconds int    `json:"bombSec"`      // 爆破模式引信时长
}

func (c MatchConfig) Validate() error {
	switch c.Mode {
	case ModeTDM:
		if c.KillLimit <= 0 && c.TimeLimit <= 0 {
			return fmt.Errorf("match: tdm needs a kill limit or a time limit")
		}
	case ModeSearchAndDestroy:
		if c.BombSeconds <= 0 {
			return fmt.Errorf("match: snd needs bombSec > 0")
		}
	case ModeElimination:
	default:
		return fmt.Errorf("match: unknown mode %q", c.Mode)
	}
	if c.MaxPlayers < 2 {
		return fmt.Errorf("match: maxPlayers must be >= 2, got %d", c.MaxPlayers)
	}
	if c.TimeLimit < 0 || c.KillLimit < 0 {
		return fmt.Errorf("match: limits must not be negative")
	}
	return nil
}

// Respawns 该模式是否复活
func (m Mode) Respawns() bool {
	return m == ModeTDM
}

// EndReason 结束原因
type EndReason string

const (
	ReasonKillLimit     EndReason = "kill_limit"
	ReasonTimeLimit     EndReason = "time_limit"
	ReasonEliminated    EndReason = "eliminated"
	ReasonBombDetonated EndReason = "bomb_detonated"
	ReasonBombDefused   EndReason = "bomb_defused"
	ReasonAbandoned     EndReason = "abandoned"
	ReasonAdmin         EndReason = "admin_ended"
	ReasonInternalError EndReason = "internal_error"
)

// Outcome 胜负判定结果：Ended=false 即对局继续
type Outcome struct {
	Ended       bool
	Reason      EndReason
	WinningTeam Team
	Draw        bool
}

// Ongoing 对局继续
var Ongoing = Outcome{}

func winner(team Team, reason EndReason) Outcome {
	return Outcome{Ended: true, Reason: reason, WinningTeam: team}
}

func draw(reason EndReason) Outcome {
	return Outcome{Ended: true, Reason: reason, Draw: true}
}

// WinCondition 纯函数：根据状态与配置判断胜负
type WinCondition func(s *State, cfg MatchConfig) Outcome

// WinConditionFor 建房时按模式选择一次
func WinConditionFor(mode Mode) WinCondition {
	switch mode {
	case ModeSearchAndDestroy:
		return searchAndDestroy
	case ModeElimination:
		return elimination
	default:
		return teamDeathmatch
	}
}

// EvaluateWinCondition 按配置中的模式判定
func EvaluateWinCondition(s *State, cfg MatchConfig) Outcome {
	return WinConditionFor(cfg.Mode)(s, cfg)
}

func timeUp(s *State, cfg MatchConfig) bool {
	return cfg.TimeLimit > 0 && s.ElapsedSeconds() >= float64(cfg.TimeLimit)
}

func teamDeathmatch(s *State, cfg MatchConfig) Outcome {
	if len(s.Players) == 0 {
		return draw(ReasonAbandoned)
	}
	a, b := s.TeamKills(0), s.TeamKills(1)
	if cfg.KillLimit > 0 {
		switch {
		case a >= cfg.KillLimit && a >= b:
			return winner(0, ReasonKillLimit)
		case b >= cfg.KillLimit:
			return winner(1, ReasonKillLimit)
		}
	}
	if timeUp(s, cfg) {
		return leader(a, b, ReasonTimeLimit)
	}
	return Ongoing
}

func elimination(s *State, cfg MatchConfig) Outcome {
	a, _ := s.TeamAlive(0)
	b, _ := s.TeamAlive(1)
	switch {
	case a == 0 && b == 0:
		return draw(ReasonEliminated)
	case b == 0:
		return winner(0, ReasonEliminated)
	case a == 0:
		return winner(1, ReasonEliminated)
	}
	if timeUp(s, cfg) {
		return leader(a, b, ReasonTimeLimit)
	}
	return Ongoing
}

func searchAndDestroy(s *State, cfg MatchConfig) Outcome {
	switch {
	case s.Bomb.Detonated:
		return winner(TeamAttackers, ReasonBombDetonated)
	case s.Bomb.Defused:
		return winner(TeamDefenders, ReasonBombDefused)
	}
	att, _ := s.TeamAlive(TeamAttackers)
	def, _ := s.TeamAlive(TeamDefenders)
	switch {
	case def == 0 && att == 0 && !s.Bomb.Planted:
		return draw(ReasonEliminated)
	case def == 0:
		return winner(TeamAttackers, ReasonEliminated)
	case att == 0 && !s.Bomb.Planted:
		return winner(TeamDefenders, ReasonEliminated)
	}
	if !s.Bomb.Planted && timeUp(s, cfg) {
		return winner(TeamDefenders, ReasonTimeLimit)
	}
	return Ongoing
}

func leader(a, b int, reason EndReason) Outcome {
	switch {
	case a > b:
		return winner(0, reason)
	case b > a:
		return winner(1, reason)
	}
	return draw(reason)
}
