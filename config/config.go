package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务端运行配置（来自 .env 与环境变量）
type Config struct {
	Addr     string
	LogFile  string
	LogLevel string

	TickHz         int // 模拟频率，20~30
	BroadcastEvery int // 每 N 个 Tick 广播一次
	MaxRooms       int
	MinPlayers     int
	CountdownTicks int

	MaxInputsPerTick int     // 单个玩家同一 Tick 窗口内最多接受的输入数
	InputRate        float64 // 每秒令牌数（会话级限流）
	InputBurst       int

	ReconnectGrace   time.Duration
	HeartbeatTimeout time.Duration
	PingInterval     time.Duration

	SnapshotHistory int           // 基线环形缓冲容量（Tick 数）
	LagCompMax      time.Duration // 延迟补偿最大回溯

	Codec     string // json | msgpack
	Compress  bool   // lz4
	RulesFile string
	Seed      int64
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Addr:             ":8080",
		LogFile:          "app.log",
		LogLevel:         "info",
		TickHz:           20,
		BroadcastEvery:   1,
		MaxRooms:         256,
		MinPlayers:       2,
		CountdownTicks:   60,
		MaxInputsPerTick: 4,
		InputRate:        120,
		InputBurst:       16,
		ReconnectGrace:   10 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		PingInterval:     25 * time.Second,
		SnapshotHistory:  64,
		LagCompMax:       200 * time.Millisecond,
		Codec:            "json",
		Seed:             1,
	}
}

// Load 读取可选的 .env 文件后，用环境变量覆盖默认值
// 未传文件时尝试当前目录下的 .env；文件不存在不算错误
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	c := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Addr)
	str("LOG_FILE", &c.LogFile)
	str("LOG_LEVEL", &c.LogLevel)
	num("TICK_HZ", &c.TickHz)
	num("BROADCAST_EVERY", &c.BroadcastEvery)
	num("MAX_ROOMS", &c.MaxRooms)
	num("MIN_PLAYERS", &c.MinPlayers)
	num("COUNTDOWN_TICKS", &c.CountdownTicks)
	num("MAX_INPUTS_PER_TICK", &c.MaxInputsPerTick)
	num("INPUT_BURST", &c.InputBurst)
	num("SNAPSHOT_HISTORY", &c.SnapshotHistory)
	dur("RECONNECT_GRACE", &c.ReconnectGrace)
	dur("HEARTBEAT_TIMEOUT", &c.HeartbeatTimeout)
	dur("PING_INTERVAL", &c.PingInterval)
	dur("LAG_COMP_MAX", &c.LagCompMax)
	str("CODEC", &c.Codec)
	str("RULES_FILE", &c.RulesFile)

	if v, ok := lookup("INPUT_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("INPUT_RATE: %w", err))
		} else {
			c.InputRate = f
		}
	}
	if v, ok := lookup("COMPRESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMPRESS: %w", err))
		} else {
			c.Compress = b
		}
	}
	if v, ok := lookup("SIM_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SIM_SEED: %w", err))
		} else {
			c.Seed = n
		}
	}

	c.Codec = strings.ToLower(c.Codec)

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	switch {
	case c.TickHz < 20 || c.TickHz > 30:
		return fmt.Errorf("config: TICK_HZ must be within [20,30], got %d", c.TickHz)
	case c.BroadcastEvery < 1:
		return fmt.Errorf("config: BROADCAST_EVERY must be >= 1, got %d", c.BroadcastEvery)
	case c.MaxRooms < 1:
		return fmt.Errorf("config: MAX_ROOMS must be >= 1, got %d", c.MaxRooms)
	case c.MinPlayers < 1:
		return fmt.Errorf("config: MIN_PLAYERS must be >= 1, got %d", c.MinPlayers)
	case c.MaxInputsPerTick < 1:
		return fmt.Errorf("config: MAX_INPUTS_PER_TICK must be >= 1, got %d", c.MaxInputsPerTick)
	case c.InputBurst < c.MaxInputsPerTick:
		return fmt.Errorf("config: INPUT_BURST (%d) must be >= MAX_INPUTS_PER_TICK (%d)", c.InputBurst, c.MaxInputsPerTick)
	case c.SnapshotHistory < 2:
		return fmt.Errorf("config: SNAPSHOT_HISTORY must be >= 2, got %d", c.SnapshotHistory)
	case c.LagCompMax < 0:
		return fmt.Errorf("config: LAG_COMP_MAX must not be negative")
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("config: unknown CODEC %q", c.Codec)
	}
	return nil
}

// TickInterval 每个 Tick 的时长
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickHz)
}

// LagCompTicks 延迟补偿最多回溯的 Tick 数
func (c Config) LagCompTicks() int {
	return int(c.LagCompMax / c.TickInterval())
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
