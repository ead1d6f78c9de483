package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crossfire/protocol"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 64 << 10
	sendQueue    = 64
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	msgType int

	pingInterval time.Duration
	readTimeout  time.Duration
}

func NewClientConn(ws *websocket.Conn, binary bool, ping, timeout time.Duration) *ClientConn {
	mt := websocket.TextMessage
	if binary {
		mt = websocket.BinaryMessage
	}
	return &ClientConn{
		ws:           ws,
		send:         make(chan []byte, sendQueue),
		done:         make(chan struct{}),
		msgType:      mt,
		pingInterval: ping,
		readTimeout:  timeout,
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃，防止阻塞 Tick）
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 可重复调用；通过 done 通知写协程退出，不关闭 send 以免并发写入 panic
func (c *ClientConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定时发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(c.msgType, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息交给 handle；超过 readTimeout 没有任何消息或 pong 即断开
func (c *ClientConn) readPump(handle func([]byte)) {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		handle(payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWS WebSocket 接入：/ws?player=alice[&room=room-1]
// 不带 room 时绑定到匹配服务已分配的房间（若有）
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		http.Error(w, "missing player query", http.StatusBadRequest)
		return
	}
	roomID := r.URL.Query().Get("room")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "player", playerID, "err", err)
		return
	}
	client := NewClientConn(ws, s.codec.Binary(), s.cfg.PingInterval, s.cfg.HeartbeatTimeout)

	sess, err := s.RegisterSession(playerID, client)
	if err != nil {
		if b, encErr := s.codec.Encode(protocol.MsgError, protocol.Error{Code: "duplicate_session", Message: err.Error()}); encErr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(client.msgType, b)
		}
		client.Close()
		Log.Warnw("session rejected", "player", playerID, "err", err)
		return
	}
	go client.writePump()

	if roomID != "" {
		if res := s.Manager.JoinRoom(roomID, playerID); res != JoinAccepted {
			s.sendError(sess, string(res), "room "+roomID)
		}
	} else {
		s.Manager.Attach(sess)
	}

	welcome := protocol.Welcome{SessionID: sess.ID, PlayerID: playerID, RoomID: sess.RoomID()}
	if rm, ok := s.Manager.Room(welcome.RoomID); ok {
		welcome.Tick = rm.Tick()
	}
	s.send(sess, protocol.MsgWelcome, welcome)
	Log.Infow("client connected", "player", playerID, "room", welcome.RoomID, "session", sess.ID)

	go func() {
		client.readPump(func(b []byte) { s.handleMessage(sess, b) })
		s.Sessions.Disconnect(sess)
		Log.Infow("client disconnected", "player", playerID, "session", sess.ID)
	}()
}
