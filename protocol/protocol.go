package protocol

import (
	"encoding/json"
)

// 消息类型
const (
	MsgInput  = "input"
	MsgAck    = "ack"
	MsgResync = "resync"
	MsgReady  = "ready"

	MsgWelcome     = "welcome"
	MsgGameState   = "game_state"
	MsgPlayerDeath = "player_death"
	MsgGameEnded   = "game_ended"
	MsgError       = "error"
)

// Envelope 统一外层：{"t": 类型, "p": 负载}
// P 保存按当前编解码器编码的原始负载
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"`
}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rot struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Input 客户端输入
type Input struct {
	Seq        uint32   `json:"seq" jsonschema:"required"`
	ClientTick uint64   `json:"clientTick"`
	Movement   Vec      `json:"movement"`
	Look       Rot      `json:"look"`
	Actions    []string `json:"actions,omitempty"`
	WeaponSlot int      `json:"weaponSlot"`
	SentAt     int64    `json:"sentAt,omitempty"`
	Target     string   `json:"target,omitempty"`
}

// Ack 客户端确认已应用的快照 Tick
type Ack struct {
	Tick uint64 `json:"tick" jsonschema:"required"`
}

// Ready 准备状态
type Ready struct {
	Ready bool `json:"ready"`
}

type Welcome struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	RoomID    string `json:"roomId,omitempty"`
	Tick      uint64 `json:"tick"`
}

// PlayerDelta 只包含发生变化的字段
type PlayerDelta struct {
	ID     string  `json:"id" jsonschema:"required"`
	Pos    *Vec    `json:"pos,omitempty"`
	Rot    *Rot    `json:"rot,omitempty"`
	Vel    *Vec    `json:"vel,omitempty"`
	Health *int    `json:"health,omitempty"`
	Weapon *int    `json:"weapon,omitempty"`
	State  *string `json:"state,omitempty"`
	Team   *int    `json:"team,omitempty"`
}

type Event struct {
	Kind     string `json:"kind"`
	Tick     uint64 `json:"tick"`
	Actor    string `json:"actor,omitempty"`
	Target   string `json:"target,omitempty"`
	Weapon   string `json:"weapon,omitempty"`
	Damage   int    `json:"damage,omitempty"`
	Headshot bool   `json:"headshot,omitempty"`
}

// GameState 增量快照。Full=true 时 Players 为完整状态，客户端应丢弃本地状态
type GameState struct {
	Tick               uint64            `json:"tick" jsonschema:"required"`
	Baseline           uint64            `json:"baseline,omitempty"`
	Full               bool              `json:"full,omitempty"`
	LastProcessedInput map[string]uint32 `json:"lastProcessedInput"`
	Players            []PlayerDelta     `json:"players"`
	Removed            []string          `json:"removed,omitempty"`
	Events             []Event           `json:"events,omitempty"`
	Checksum           string            `json:"checksum,omitempty"`
}

type PlayerDeath struct {
	Tick     uint64 `json:"tick"`
	Victim   string `json:"victim"`
	Killer   string `json:"killer"`
	Weapon   string `json:"weapon,omitempty"`
	Headshot bool   `json:"headshot,omitempty"`
}

type PlayerScore struct {
	ID     string `json:"id"`
	Team   int    `json:"team"`
	Kills  int    `json:"kills"`
	Deaths int    `json:"deaths"`
	Score  int    `json:"score"`
}

// GameEnded 对局结束通知；内部错误时 Reason 统一为 "match_ended"
type GameEnded struct {
	Tick        uint64        `json:"tick"`
	Reason      string        `json:"reason"`
	WinningTeam int           `json:"winningTeam"`
	Draw        bool          `json:"draw,omitempty"`
	Scores      []PlayerScore `json:"scores,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
