package game

import "fmt"

// ViolationKind 违规类型
type ViolationKind string

const (
	ViolationSpeed         ViolationKind = "speed_hack"
	ViolationFireRate      ViolationKind = "fire_rate"
	ViolationNoAmmo        ViolationKind = "no_ammo"
	ViolationWallHack      ViolationKind = "wall_hack"
	ViolationInvalidWeapon ViolationKind = "invalid_weapon"
	ViolationNonFinite     ViolationKind = "non_finite"
)

// Violation 一次公平性违规记录。Hard 表示明确不可能的输入
type Violation struct {
	PlayerID string
	Tick     uint64
	Sequence uint32
	Kind     ViolationKind
	Hard     bool
	Detail   string
}

// Verdict 校验结果
//
// Command 为清洗后的输入：越界移动被裁剪、不合法的动作被剔除。
// Projected 为接受这些动作后射击相关字段（冷却、弹药、换弹）的预期状态，
// 同一 Tick 内的后续输入需基于它继续校验。
type Verdict struct {
	Command    InputCommand
	Rejected   bool
	Violations []Violation
	Projected  PlayerState
}

// Validate 纯函数：不修改 ps，也不依赖任何外部状态
func Validate(ps PlayerState, cmd InputCommand, rules Rules, tick uint64) Verdict {
	v := Verdict{Command: cmd, Projected: ps.Clone()}
	v.Command.Actions = nil
	flag := func(kind ViolationKind, hard bool, format string, args ...any) {
		v.Violations = append(v.Violations, Violation{
			PlayerID: ps.ID,
			Tick:     tick,
			Sequence: cmd.Sequence,
			Kind:     kind,
			Hard:     hard,
			Detail:   fmt.Sprintf(format, args...),
		})
	}

	if !cmd.Finite() {
		flag(ViolationNonFinite, true, "non-finite movement or look")
		v.Rejected = true
		v.Command.Movement = Vec2{}
		return v
	}

	if !ps.Alive {
		v.Command.Movement = Vec2{}
		return v
	}

	// 移动向量长度即速度比例；超出容差判定为加速，但只裁剪不丢弃
	if mag := cmd.Movement.Len(); mag > 1 {
		if mag > rules.SpeedTolerance {
			flag(ViolationSpeed, true, "movement magnitude %.3f exceeds %.3f", mag, rules.SpeedTolerance)
		}
		v.Command.Movement = cmd.Movement.ClampLen(1)
	}

	p := &v.Projected
	if cmd.WeaponSlot != p.WeaponSlot {
		if _, ok := rules.Weapon(cmd.WeaponSlot); ok {
			p.WeaponSlot = cmd.WeaponSlot
			p.ReloadDoneTick = 0
		} else {
			flag(ViolationInvalidWeapon, false, "weapon slot %d", cmd.WeaponSlot)
			v.Command.WeaponSlot = p.WeaponSlot
		}
	}
	w, _ := rules.Weapon(p.WeaponSlot)
	if p.ReloadDoneTick != 0 && tick >= p.ReloadDoneTick {
		p.Ammo[p.WeaponSlot] = w.MagazineSize
		p.ReloadDoneTick = 0
	}

	for _, a := range cmd.Actions {
		switch a {
		case ActionShoot:
			switch {
			case tick < p.NextFireTick:
				flag(ViolationFireRate, true, "fired at tick %d, cooldown until %d", tick, p.NextFireTick)
				continue
			case p.ReloadDoneTick != 0:
				continue
			case p.Ammo[p.WeaponSlot] <= 0:
				flag(ViolationNoAmmo, false, "empty magazine")
				continue
			}
			p.Ammo[p.WeaponSlot]--
			p.NextFireTick = tick + uint64(w.CooldownTicks)
		case ActionReload:
			if p.ReloadDoneTick != 0 || p.Ammo[p.WeaponSlot] == w.MagazineSize {
				continue
			}
			p.ReloadDoneTick = tick + uint64(w.ReloadTicks)
		case ActionPlant, ActionDefuse:
		default:
			continue
		}
		v.Command.Actions = append(v.Command.Actions, a)
	}
	return v
}

// CheckLineOfSight 命中声明的视线校验：目标与射手之间有墙即判定透视
func CheckLineOfSight(m *Map, shooter *PlayerState, target string, targetPos Vec2, tick uint64, seq uint32) *Violation {
	if m.LineOfSight(shooter.Position, targetPos) {
		return nil
	}
	return &Violation{
		PlayerID: shooter.ID,
		Tick:     tick,
		Sequence: seq,
		Kind:     ViolationWallHack,
		Hard:     true,
		Detail:   fmt.Sprintf("claimed hit on %s through wall", target),
	}
}
