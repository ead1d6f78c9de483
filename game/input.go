package game

// Action 客户端动作意图
type Action string

const (
	ActionShoot  Action = "shoot"
	ActionReload Action = "reload"
	ActionPlant  Action = "plant"
	ActionDefuse Action = "defuse"
)

// Look 视角
type Look struct {
	Yaw   float64
	Pitch float64
}

// InputCommand 一条客户端输入（不可变，按序列号严格递增地被消费一次）
type InputCommand struct {
	SessionID  string
	PlayerID   string
	ClientTick uint64 // 客户端发送时正在渲染的服务端 Tick，用于延迟补偿
	Sequence   uint32
	Movement   Vec2 // 期望移动方向，长度 <= 1
	Look       Look
	Actions    []Action
	WeaponSlot int

	ClientSendTimestamp int64  // 毫秒，仅作记录，不参与模拟
	TargetClaim         string // 客户端声称命中的目标（可空）
}

// Finite 数值字段均为有限值
func (c InputCommand) Finite() bool {
	return c.Movement.Finite() && finite(c.Look.Yaw) && finite(c.Look.Pitch)
}

func (c InputCommand) has(a Action) bool {
	for _, x := range c.Actions {
		if x == a {
			return true
		}
	}
	return false
}
