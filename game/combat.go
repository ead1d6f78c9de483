package game

import "math"

// ShotSample 每次开火的结果，供异步统计分析
type ShotSample struct {
	PlayerID string
	Tick     uint64
	Hit      bool
	Headshot bool
}

// rayCircle 射线与圆的交点：返回命中距离与圆心到射线的垂直距离
func rayCircle(origin, dir, center Vec2, r float64) (dist, perp float64, ok bool) {
	oc := center.Sub(origin)
	t := oc.Dot(dir)
	if t < 0 {
		return 0, 0, false
	}
	perp = center.Dist(origin.Add(dir.Scale(t)))
	if perp > r {
		return 0, 0, false
	}
	dist = t - math.Sqrt(r*r-perp*perp)
	if dist < 0 {
		dist = 0
	}
	return dist, perp, true
}

// fire 服务端射线判定。只回溯目标位置（射手保持当前权威位置），
// 回溯到射手发送输入时看到的 Tick，最多 MaxRewindTicks
func (s *Sim) fire(p *PlayerState, w Weapon, cmd InputCommand, tick uint64, ids []string, res *StepResult) {
	p.Ammo[p.WeaponSlot]--
	p.NextFireTick = tick + uint64(w.CooldownTicks)

	rewind := RewindTick(s.State.Tick, cmd.ClientTick, s.Rules.MaxRewindTicks)
	past, rewound := s.history.Positions(rewind)
	targetPos := func(t *PlayerState) (Vec2, bool) {
		if !rewound {
			return t.Position, true
		}
		pos, ok := past[t.ID]
		return pos, ok
	}

	origin := p.Position
	dir := FromYaw(cmd.Look.Yaw)
	best, _ := s.Map.firstWall(origin, dir, w.Range)

	var hit *PlayerState
	headshot := false
	for _, id := range ids {
		t := s.State.Players[id]
		if t.ID == p.ID || t.Team == p.Team || !t.Alive {
			continue
		}
		pos, ok := targetPos(t)
		if !ok {
			continue
		}
		d, perp, ok := rayCircle(origin, dir, pos, s.Rules.PlayerRadius)
		if !ok || d >= best {
			continue
		}
		hit, best, headshot = t, d, perp <= s.Rules.HeadRadius
	}

	if cmd.TargetClaim != "" {
		if t, ok := s.State.Players[cmd.TargetClaim]; ok {
			if pos, ok := targetPos(t); ok {
				if v := CheckLineOfSight(&s.Map, p, t.ID, pos, tick, cmd.Sequence); v != nil {
					res.Violations = append(res.Violations, *v)
				}
			}
		}
	}

	res.Shots = append(res.Shots, ShotSample{PlayerID: p.ID, Tick: tick, Hit: hit != nil, Headshot: hit != nil && headshot})
	s.emit(Event{Tick: tick, Kind: EventShot, Actor: p.ID, Weapon: w.Name})
	if hit == nil {
		return
	}
	dmg := w.Damage
	if headshot {
		dmg = int(math.Round(float64(dmg) * w.HeadshotMultiplier))
	}
	s.damage(p, hit, dmg, w.Name, headshot, tick)
}

// damage 扣血；生命值不低于 0，死亡只翻转一次，死亡后不再受伤
func (s *Sim) damage(attacker, target *PlayerState, dmg int, weapon string, headshot bool, tick uint64) {
	if !target.Alive || dmg <= 0 {
		return
	}
	target.Health -= dmg
	if target.Health < 0 {
		target.Health = 0
	}
	s.emit(Event{Tick: tick, Kind: EventHit, Actor: attacker.ID, Target: target.ID, Weapon: weapon, Damage: dmg, Headshot: headshot})
	if target.Health > 0 {
		return
	}
	target.Alive = false
	target.Velocity = Vec2{}
	target.Deaths++
	if s.Config.Mode.Respawns() {
		target.RespawnTick = tick + uint64(s.Rules.RespawnTicks)
	}
	attacker.Kills++
	attacker.Score += s.Rules.KillScore
	s.emit(Event{Tick: tick, Kind: EventKill, Actor: attacker.ID, Target: target.ID, Weapon: weapon, Headshot: headshot})
}

func (s *Sim) plant(p *PlayerState, tick uint64) {
	b := &s.State.Bomb
	if s.Config.Mode != ModeSearchAndDestroy || p.Team != TeamAttackers || b.Planted {
		return
	}
	if p.Position.Dist(s.Map.BombSite) > s.Rules.BombSiteRadius {
		return
	}
	b.Planted = true
	b.Position = p.Position
	b.PlantedBy = p.ID
	b.DetonateTick = tick + uint64(s.Config.BombSeconds*s.State.TickHz)
	p.Score += s.Rules.ObjectiveScore
	s.emit(Event{Tick: tick, Kind: EventBombPlanted, Actor: p.ID})
}

func (s *Sim) defuse(p *PlayerState, tick uint64) {
	b := &s.State.Bomb
	if s.Config.Mode != ModeSearchAndDestroy || p.Team != TeamDefenders {
		return
	}
	if !b.Planted || b.Defused || b.Detonated || p.Position.Dist(b.Position) > s.Rules.DefuseRadius {
		return
	}
	b.Defused = true
	p.Score += s.Rules.ObjectiveScore
	s.emit(Event{Tick: tick, Kind: EventBombDefused, Actor: p.ID})
}
