package protocol

import "sort"

// 玩家存活状态
const (
	StateAlive = "alive"
	StateDead  = "dead"
)

// PlayerView 客户端可见的玩家状态
type PlayerView struct {
	Pos    Vec
	Rot    Rot
	Vel    Vec
	Health int
	Weapon int
	State  string
	Team   int
}

// View 某个 Tick 上客户端可见的完整世界
type View map[string]PlayerView

func (v View) Clone() View {
	c := make(View, len(v))
	for k, p := range v {
		c[k] = p
	}
	return c
}

// Equal 逐字段比较
func (v View) Equal(o View) bool {
	if len(v) != len(o) {
		return false
	}
	for k, p := range v {
		q, ok := o[k]
		if !ok || p != q {
			return false
		}
	}
	return true
}

func (v View) sortedIDs() []string {
	ids := make([]string, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Full 生成全量玩家列表
func Full(cur View) []PlayerDelta {
	out := make([]PlayerDelta, 0, len(cur))
	for _, id := range cur.sortedIDs() {
		out = append(out, fullDelta(id, cur[id]))
	}
	return out
}

func fullDelta(id string, p PlayerView) PlayerDelta {
	pos, rot, vel := p.Pos, p.Rot, p.Vel
	health, weapon, state, team := p.Health, p.Weapon, p.State, p.Team
	return PlayerDelta{ID: id, Pos: &pos, Rot: &rot, Vel: &vel, Health: &health, Weapon: &weapon, State: &state, Team: &team}
}

// Diff 计算 base → cur 的增量：只带变化字段；新出现的玩家带全部字段
func Diff(base, cur View) (players []PlayerDelta, removed []string) {
	for _, id := range cur.sortedIDs() {
		p := cur[id]
		old, ok := base[id]
		if !ok {
			players = append(players, fullDelta(id, p))
			continue
		}
		if old == p {
			continue
		}
		d := PlayerDelta{ID: id}
		if old.Pos != p.Pos {
			v := p.Pos
			d.Pos = &v
		}
		if old.Rot != p.Rot {
			v := p.Rot
			d.Rot = &v
		}
		if old.Vel != p.Vel {
			v := p.Vel
			d.Vel = &v
		}
		if old.Health != p.Health {
			v := p.Health
			d.Health = &v
		}
		if old.Weapon != p.Weapon {
			v := p.Weapon
			d.Weapon = &v
		}
		if old.State != p.State {
			v := p.State
			d.State = &v
		}
		if old.Team != p.Team {
			v := p.Team
			d.Team = &v
		}
		players = append(players, d)
	}
	for _, id := range base.sortedIDs() {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	return players, removed
}

// Apply 客户端侧：把快照应用到本地视图，返回新视图（不修改 v）
func (v View) Apply(gs GameState) View {
	var out View
	if gs.Full {
		out = make(View, len(gs.Players))
	} else {
		out = v.Clone()
	}
	for _, id := range gs.Removed {
		delete(out, id)
	}
	for _, d := range gs.Players {
		p := out[d.ID]
		if d.Pos != nil {
			p.Pos = *d.Pos
		}
		if d.Rot != nil {
			p.Rot = *d.Rot
		}
		if d.Vel != nil {
			p.Vel = *d.Vel
		}
		if d.Health != nil {
			p.Health = *d.Health
		}
		if d.Weapon != nil {
			p.Weapon = *d.Weapon
		}
		if d.State != nil {
			p.State = *d.State
		}
		if d.Team != nil {
			p.Team = *d.Team
		}
		out[d.ID] = p
	}
	return out
}
