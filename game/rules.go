package game

import (
	"encoding/json"
	"fmt"
	"os"
)

// Weapon 武器参数（数值平衡属于配置数据，服务端只负责执行）
type Weapon struct {
	Name               string  `json:"name"`
	Damage             int     `json:"damage"`
	HeadshotMultiplier float64 `json:"headshotMultiplier"`
	CooldownTicks      int     `json:"cooldownTicks"`
	MagazineSize       int     `json:"magazineSize"`
	ReloadTicks        int     `json:"reloadTicks"`
	Range              float64 `json:"range"`
}

// Rules 全局玩法参数
type Rules struct {
	MaxHealth      int      `json:"maxHealth"`
	MaxSpeed       float64  `json:"maxSpeed"`       // 米/秒
	SpeedTolerance float64  `json:"speedTolerance"` // 移动向量长度容差，超出即判定加速
	PlayerRadius   float64  `json:"playerRadius"`
	HeadRadius     float64  `json:"headRadius"` // 射线与目标中心的垂直距离小于该值视为爆头
	RespawnTicks   int      `json:"respawnTicks"`
	MaxRewindTicks int      `json:"maxRewindTicks"`
	BombSiteRadius float64  `json:"bombSiteRadius"`
	DefuseRadius   float64  `json:"defuseRadius"`
	KillScore      int      `json:"killScore"`
	ObjectiveScore int      `json:"objectiveScore"`
	Weapons        []Weapon `json:"weapons"`
}

// DefaultRules 默认参数（20Hz 下回溯 4 个 Tick = 200ms）
func DefaultRules() Rules {
	return Rules{
		MaxHealth:      100,
		MaxSpeed:       6,
		SpeedTolerance: 1.05,
		PlayerRadius:   0.5,
		HeadRadius:     0.12,
		RespawnTicks:   60,
		MaxRewindTicks: 4,
		BombSiteRadius: 3,
		DefuseRadius:   1.5,
		KillScore:      100,
		ObjectiveScore: 50,
		Weapons: []Weapon{
			{Name: "rifle", Damage: 25, HeadshotMultiplier: 2, CooldownTicks: 2, MagazineSize: 30, ReloadTicks: 40, Range: 80},
			{Name: "pistol", Damage: 20, HeadshotMultiplier: 2.5, CooldownTicks: 4, MagazineSize: 12, ReloadTicks: 30, Range: 40},
		},
	}
}

// LoadRules 从 JSON 文件读取规则，缺省字段沿用默认值
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return Rules{}, fmt.Errorf("decode rules %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func (r Rules) Validate() error {
	if r.MaxHealth <= 0 {
		return fmt.Errorf("rules: maxHealth must be positive")
	}
	if r.MaxSpeed <= 0 || r.SpeedTolerance < 1 {
		return fmt.Errorf("rules: maxSpeed must be positive and speedTolerance >= 1")
	}
	if len(r.Weapons) == 0 {
		return fmt.Errorf("rules: at least one weapon is required")
	}
	for i, w := range r.Weapons {
		if w.Damage <= 0 || w.MagazineSize <= 0 || w.Range <= 0 || w.CooldownTicks < 0 {
			return fmt.Errorf("rules: weapon %d (%s) has invalid parameters", i, w.Name)
		}
	}
	return nil
}

// Weapon 按槽位取武器
func (r Rules) Weapon(slot int) (Weapon, bool) {
	if slot < 0 || slot >= len(r.Weapons) {
		return Weapon{}, false
	}
	return r.Weapons[slot], true
}

// MaxDisplacement 单 Tick 内允许的最大位移
func (r Rules) MaxDisplacement(dt float64) float64 {
	return r.MaxSpeed * dt * r.SpeedTolerance
}
