package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"crossfire/anticheat"
	"crossfire/config"
	"crossfire/game"
	"crossfire/protocol"
)

// Options 可替换的外部协作者；零值使用默认实现
type Options struct {
	Rules     *game.Rules
	Maps      map[string]game.Map
	Summaries SummarySink
	Flags     anticheat.FlagSink
	Anticheat *anticheat.Config
	Now       func() time.Time
}

// Server 把会话、房间管理、调度、广播和反作弊串起来
type Server struct {
	cfg   config.Config
	codec protocol.Codec

	Sessions   *SessionRegistry
	Manager    *Manager
	Scheduler  *Scheduler
	Dispatcher *Dispatcher
	Monitor    *anticheat.Monitor
	Metrics    *Metrics
}

func New(cfg config.Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.NewCodec(cfg.Codec, cfg.Compress)
	if err != nil {
		return nil, err
	}

	rules := game.DefaultRules()
	switch {
	case opts.Rules != nil:
		rules = *opts.Rules
	case cfg.RulesFile != "":
		if rules, err = game.LoadRules(cfg.RulesFile); err != nil {
			return nil, err
		}
	}
	rules.MaxRewindTicks = cfg.LagCompTicks()
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	maps := opts.Maps
	if len(maps) == 0 {
		maps = game.DefaultMaps()
	}

	acCfg := anticheat.DefaultConfig()
	if opts.Anticheat != nil {
		acCfg = *opts.Anticheat
	}
	sink := opts.Summaries
	if sink == nil {
		sink = LogSummarySink{}
	}

	metrics := &Metrics{}
	sessions := NewSessionRegistry(cfg.ReconnectGrace, cfg.InputRate, cfg.InputBurst)
	monitor := anticheat.NewMonitor(acCfg, opts.Flags, Log.Named("anticheat"))
	manager := NewManager(cfg, rules, maps, sessions, sink, metrics)
	dispatcher := NewDispatcher(codec, sessions, metrics, cfg.SnapshotHistory)
	scheduler := NewScheduler(manager, dispatcher, monitor, metrics, cfg.TickInterval(), cfg.BroadcastEvery)
	if opts.Now != nil {
		scheduler.now = opts.Now
	}

	manager.monitor = monitor
	manager.publish = dispatcher.Publish
	dispatcher.onEnded = manager.finalize
	sessions.onExpire = func(playerID, roomID string) {
		if err := manager.LeaveRoom(roomID, playerID); err != nil {
			Log.Debugw("leave after grace", "player", playerID, "room", roomID, "err", err)
		}
	}

	return &Server{
		cfg:        cfg,
		codec:      codec,
		Sessions:   sessions,
		Manager:    manager,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Metrics:    metrics,
	}, nil
}

// Run 启动反作弊、广播与调度协程，阻塞到 ctx 结束
func (s *Server) Run(ctx context.Context) {
	go s.Monitor.Run(ctx)
	go s.Dispatcher.Run(ctx)
	Log.Infow("scheduler started", "tickHz", s.cfg.TickHz, "codec", s.codec.Name())
	s.Scheduler.Run(ctx)
	s.Sessions.Close()
}

// Handler 路由：WebSocket、管理与监控接口
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/rooms", s.HandleRooms)
	mux.HandleFunc("/admin/rooms/start", s.HandleStartRoom)
	mux.HandleFunc("/admin/rooms/end", s.HandleEndRoom)
	mux.HandleFunc("/admin/assign", s.HandleAssign)
	mux.HandleFunc("/admin/cheat", s.HandleCheat)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// RegisterSession 见 SessionRegistry.Register
func (s *Server) RegisterSession(playerID string, conn Conn) (*Session, error) {
	sess, err := s.Sessions.Register(playerID, conn)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SubmitInput 校验基本合法性后非阻塞地放入房间队列，从不修改模拟状态
func (s *Server) SubmitInput(sess *Session, cmd game.InputCommand) SubmitResult {
	return s.submit(sess, cmd, true)
}

// submit 序列号回退优先于负载错误：wellFormed 为 false 或数值非有限时，
// 只有序列号前进的输入才报告 malformed
func (s *Server) submit(sess *Session, cmd game.InputCommand, wellFormed bool) SubmitResult {
	room, ok := s.Manager.Room(sess.RoomID())
	if !ok {
		s.Metrics.IncRejected()
		return rejected(RejectNotInRoom)
	}
	cmd.SessionID = sess.ID
	cmd.PlayerID = sess.PlayerID
	check := func() RejectReason {
		if !wellFormed || !cmd.Finite() {
			return RejectMalformed
		}
		return ""
	}

	switch reason := room.Enqueue(cmd, check, sess.limiter.Allow); reason {
	case "":
		sess.lastSeq.Store(cmd.Sequence)
		s.Metrics.IncAccepted()
		return accepted()
	case RejectSequenceRegression:
		s.Metrics.IncRegression()
		return rejected(reason)
	case RejectRateLimit:
		s.Metrics.IncRateLimited()
		return rejected(reason)
	default:
		s.Metrics.IncRejected()
		return rejected(reason)
	}
}

// handleMessage 处理一条入站消息
func (s *Server) handleMessage(sess *Session, b []byte) {
	t, raw, err := s.codec.Decode(b)
	if err != nil {
		s.sendError(sess, string(RejectMalformed), err.Error())
		return
	}
	switch t {
	case protocol.MsgInput:
		in, err := protocol.Read[protocol.Input](s.codec, t, raw)
		if err != nil {
			s.sendError(sess, string(RejectMalformed), err.Error())
			return
		}
		cmd, ok := toCommand(in)
		if res := s.submit(sess, cmd, ok); !res.Accepted {
			msg := ""
			if !ok && res.Reason == RejectMalformed {
				msg = "unknown action"
			}
			s.sendError(sess, string(res.Reason), msg)
		}
	case protocol.MsgAck:
		ack, err := protocol.Read[protocol.Ack](s.codec, t, raw)
		if err != nil {
			s.sendError(sess, string(RejectMalformed), err.Error())
			return
		}
		sess.Ack(ack.Tick)
	case protocol.MsgResync:
		sess.RequestFull()
	case protocol.MsgReady:
		rd, err := protocol.Read[protocol.Ready](s.codec, t, raw)
		if err != nil {
			s.sendError(sess, string(RejectMalformed), err.Error())
			return
		}
		if err := s.Manager.SetReady(sess.RoomID(), sess.PlayerID, rd.Ready); err != nil {
			s.sendError(sess, "ready_failed", err.Error())
		}
	default:
		s.sendError(sess, "unknown_type", t)
	}
}

func toCommand(in protocol.Input) (game.InputCommand, bool) {
	cmd := game.InputCommand{
		ClientTick:          in.ClientTick,
		Sequence:            in.Seq,
		Movement:            game.Vec2{X: in.Movement.X, Y: in.Movement.Y},
		Look:                game.Look{Yaw: in.Look.Yaw, Pitch: in.Look.Pitch},
		WeaponSlot:          in.WeaponSlot,
		ClientSendTimestamp: in.SentAt,
		TargetClaim:         in.Target,
	}
	for _, a := range in.Actions {
		switch act := game.Action(a); act {
		case game.ActionShoot, game.ActionReload, game.ActionPlant, game.ActionDefuse:
			cmd.Actions = append(cmd.Actions, act)
		default:
			return cmd, false
		}
	}
	return cmd, true
}

func (s *Server) send(sess *Session, t string, payload any) {
	b, err := s.codec.Encode(t, payload)
	if err != nil {
		Log.Errorw("encode failed", "type", t, "err", err)
		return
	}
	if !sess.Send(b) {
		s.Metrics.IncSendDropped()
	}
}

func (s *Server) sendError(sess *Session, code, msg string) {
	s.send(sess, protocol.MsgError, protocol.Error{Code: code, Message: msg})
}
