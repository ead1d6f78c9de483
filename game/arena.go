package game

import "math"

// Rect 轴对齐的墙体
type Rect struct {
	Min Vec2 `json:"min"`
	Max Vec2 `json:"max"`
}

func (r Rect) Contains(p Vec2) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// expand 按半径外扩，用于圆形角色与墙的碰撞
func (r Rect) expand(d float64) Rect {
	return Rect{Min: Vec2{r.Min.X - d, r.Min.Y - d}, Max: Vec2{r.Max.X + d, r.Max.Y + d}}
}

// rayHit slab 法求射线与矩形的最近交点距离
func (r Rect) rayHit(origin, dir Vec2, maxDist float64) (float64, bool) {
	tMin, tMax := 0.0, maxDist
	if !slab(origin.X, dir.X, r.Min.X, r.Max.X, &tMin, &tMax) {
		return 0, false
	}
	if !slab(origin.Y, dir.Y, r.Min.Y, r.Max.Y, &tMin, &tMax) {
		return 0, false
	}
	return tMin, true
}

func slab(o, d, lo, hi float64, tMin, tMax *float64) bool {
	if math.Abs(d) < 1e-12 {
		return o >= lo && o <= hi
	}
	t1, t2 := (lo-o)/d, (hi-o)/d
	if t1 > t2 {
		t1, t2 = t2, t1
	}
	*tMin = math.Max(*tMin, t1)
	*tMax = math.Min(*tMax, t2)
	return *tMin <= *tMax
}

// Spawn 出生点
type Spawn struct {
	Team Team `json:"team"`
	Pos  Vec2 `json:"pos"`
}

// Map 地图：边界、墙体、出生点与爆破点
type Map struct {
	Name     string  `json:"name"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Walls    []Rect  `json:"walls"`
	Spawns   []Spawn `json:"spawns"`
	BombSite Vec2    `json:"bombSite"`
}

// DefaultMaps 内置地图
func DefaultMaps() map[string]Map {
	arena := Map{
		Name:   "arena",
		Width:  100,
		Height: 100,
		Walls: []Rect{
			{Min: Vec2{45, 20}, Max: Vec2{55, 30}},
			{Min: Vec2{45, 70}, Max: Vec2{55, 80}},
			{Min: Vec2{20, 45}, Max: Vec2{25, 55}},
			{Min: Vec2{75, 45}, Max: Vec2{80, 55}},
		},
		Spawns: []Spawn{
			{Team: 0, Pos: Vec2{10, 10}}, {Team: 0, Pos: Vec2{10, 50}}, {Team: 0, Pos: Vec2{10, 90}},
			{Team: 1, Pos: Vec2{90, 10}}, {Team: 1, Pos: Vec2{90, 50}}, {Team: 1, Pos: Vec2{90, 90}},
		},
		BombSite: Vec2{70, 50},
	}
	return map[string]Map{arena.Name: arena}
}

// LineOfSight a、b 之间没有墙体遮挡
func (m *Map) LineOfSight(a, b Vec2) bool {
	d := b.Sub(a)
	dist := d.Len()
	if dist == 0 {
		return true
	}
	_, blocked := m.firstWall(a, d.Scale(1/dist), dist)
	return !blocked
}

func (m *Map) firstWall(origin, dir Vec2, maxDist float64) (float64, bool) {
	best, hit := maxDist, false
	for _, w := range m.Walls {
		if t, ok := w.rayHit(origin, dir, maxDist); ok && t < best {
			best, hit = t, true
		}
	}
	return best, hit
}

func (m *Map) clamp(p Vec2) Vec2 {
	p.X = math.Min(math.Max(p.X, 0), m.Width)
	p.Y = math.Min(math.Max(p.Y, 0), m.Height)
	return p
}

func (m *Map) blocked(p Vec2, radius float64) bool {
	for _, w := range m.Walls {
		if w.expand(radius).Contains(p) {
			return true
		}
	}
	return false
}

// move 逐轴推进并处理边界与墙体碰撞
func (m *Map) move(from, delta Vec2, radius float64) Vec2 {
	next := m.clamp(Vec2{from.X + delta.X, from.Y})
	if m.blocked(next, radius) {
		next.X = from.X
	}
	cand := m.clamp(Vec2{next.X, from.Y + delta.Y})
	if !m.blocked(cand, radius) {
		next.Y = cand.Y
	}
	return next
}

func (m *Map) spawnsFor(team Team) []Vec2 {
	var out []Vec2
	for _, s := range m.Spawns {
		if s.Team == team {
			out = append(out, s.Pos)
		}
	}
	if len(out) == 0 {
		out = append(out, Vec2{m.Width / 2, m.Height / 2})
	}
	return out
}
