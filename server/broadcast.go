package server

import (
	"context"
	"sync"

	"crossfire/protocol"
)

const fullKey = ^uint64(0)

// Dispatcher 把房间帧编码为每个客户端的增量快照并非阻塞地投递
//
// 每个房间保留最近 history 个 Tick 的视图；客户端确认的基线仍在环中时发增量，
// 否则（加入、重同步、基线过旧）发全量。基线相同的客户端共享同一份编码结果。
type Dispatcher struct {
	codec    protocol.Codec
	sessions *SessionRegistry
	metrics  *Metrics
	history  int
	queue    chan *Frame
	onEnded  func(*Frame) // 终局帧投递完成后回调（房间清理）

	mu    sync.Mutex
	rooms map[string]*protocol.Ring[protocol.View]
}

func NewDispatcher(codec protocol.Codec, sessions *SessionRegistry, metrics *Metrics, history int) *Dispatcher {
	return &Dispatcher{
		codec:    codec,
		sessions: sessions,
		metrics:  metrics,
		history:  history,
		queue:    make(chan *Frame, 1024),
		rooms:    make(map[string]*protocol.Ring[protocol.View]),
	}
}

// Publish 非阻塞入队。普通帧在队列满时丢弃（下一帧的增量仍然有效），
// 终局帧不能丢，队列满时直接在调用方协程投递
func (d *Dispatcher) Publish(f *Frame) {
	select {
	case d.queue <- f:
	default:
		if f.Ended != nil {
			d.Dispatch(f)
			return
		}
		d.metrics.IncFramesDropped()
	}
}

// Run 消费队列直到 ctx 结束
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-d.queue:
			d.Dispatch(f)
		}
	}
}

// Flush 在当前协程投递队列中剩余的帧
func (d *Dispatcher) Flush() {
	for {
		select {
		case f := <-d.queue:
			d.Dispatch(f)
		default:
			return
		}
	}
}

// Dispatch 同步投递一帧
func (d *Dispatcher) Dispatch(f *Frame) {
	d.mu.Lock()
	ring := d.rooms[f.RoomID]
	if ring == nil {
		ring = protocol.NewRing[protocol.View](d.history)
		d.rooms[f.RoomID] = ring
	}
	ring.Put(f.Tick, f.View)

	cache := make(map[uint64][]byte)
	deaths := d.encodeAll(protocol.MsgPlayerDeath, f.Deaths)
	var ended []byte
	if f.Ended != nil {
		ended = d.encode(protocol.MsgGameEnded, f.Ended)
	}

	for _, pid := range f.Recipients {
		s, ok := d.sessions.Get(pid)
		if !ok || !s.Connected() || s.RoomID() != f.RoomID {
			continue
		}
		full := s.takeFull() || f.Full
		base := s.LastAcked()
		var baseView protocol.View
		if !full {
			v, ok := ring.Get(base)
			if !ok || base > f.Tick {
				full = true
			} else {
				baseView = v
			}
		}
		key := base
		if full {
			key = fullKey
		}
		b, ok := cache[key]
		if !ok {
			b = d.encodeState(f, full, base, baseView)
			cache[key] = b
		}
		if b != nil {
			if s.Send(b) {
				d.metrics.IncSent()
			} else {
				d.metrics.IncSendDropped()
				if full {
					s.RequestFull()
				}
			}
		}
		for _, m := range deaths {
			d.send(s, m)
		}
		if ended != nil {
			d.send(s, ended)
		}
	}

	if f.Ended != nil {
		delete(d.rooms, f.RoomID)
	}
	d.mu.Unlock()

	if f.Ended != nil && d.onEnded != nil {
		d.onEnded(f)
	}
}

func (d *Dispatcher) send(s *Session, b []byte) {
	if !s.Send(b) {
		d.metrics.IncSendDropped()
	}
}

func (d *Dispatcher) encodeState(f *Frame, full bool, base uint64, baseView protocol.View) []byte {
	gs := protocol.GameState{
		Tick:               f.Tick,
		Full:               full,
		LastProcessedInput: f.LastProcessed,
		Events:             f.Events,
	}
	if full {
		gs.Players = protocol.Full(f.View)
		gs.Checksum = f.Checksum
	} else {
		gs.Baseline = base
		gs.Players, gs.Removed = protocol.Diff(baseView, f.View)
	}
	if gs.Players == nil {
		gs.Players = []protocol.PlayerDelta{}
	}
	if gs.LastProcessedInput == nil {
		gs.LastProcessedInput = map[string]uint32{}
	}
	return d.encode(protocol.MsgGameState, gs)
}

func (d *Dispatcher) encodeAll(t string, deaths []protocol.PlayerDeath) [][]byte {
	out := make([][]byte, 0, len(deaths))
	for _, m := range deaths {
		if b := d.encode(t, m); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (d *Dispatcher) encode(t string, payload any) []byte {
	b, err := d.codec.Encode(t, payload)
	if err != nil {
		Log.Errorw("encode failed", "type", t, "err", err)
		return nil
	}
	return b
}
