package game

import "math"

// Vec2 二维向量（世界坐标，单位：米）
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64  { return v.Sub(o).Len() }
func (v Vec2) Finite() bool         { return finite(v.X) && finite(v.Y) }
func (v Vec2) Equal(o Vec2) bool    { return v.X == o.X && v.Y == o.Y }

// ClampLen 将向量长度裁剪到 max 以内
func (v Vec2) ClampLen(max float64) Vec2 {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// FromYaw 朝向角（弧度）对应的单位向量
func FromYaw(yaw float64) Vec2 {
	return Vec2{math.Cos(yaw), math.Sin(yaw)}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
