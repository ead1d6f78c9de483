package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"crossfire/game"
)

// HandleRooms 房间列表与创建
// GET  /admin/rooms  返回所有房间
// POST /admin/rooms  以 MatchConfig 载荷创建房间
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Manager.ListRooms())
	case http.MethodPost:
		var mc game.MatchConfig
		if err := json.NewDecoder(r.Body).Decode(&mc); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		id, err := s.Manager.CreateRoom(mc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"roomId": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAssign 接收匹配服务的分房结果
// POST /admin/assign
func (s *Server) HandleAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var a Assignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id, err := s.Manager.AcceptAssignment(a)
	if err != nil {
		writeError(w, err)
		return
	}
	Log.Infow("assignment accepted", "room", id, "players", len(a.Players))
	writeJSON(w, http.StatusCreated, map[string]any{"roomId": id})
}

// HandleStartRoom POST /admin/rooms/start?room=xxx
func (s *Server) HandleStartRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Manager.StartRoom(r.URL.Query().Get("room")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleEndRoom POST /admin/rooms/end?room=xxx
func (s *Server) HandleEndRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID := r.URL.Query().Get("room")
	if err := s.Manager.EndRoom(roomID, game.ReasonAdmin); err != nil {
		writeError(w, err)
		return
	}
	Log.Infow("room end requested", "room", roomID)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// HandleCheat 反作弊评分（离线审核用）
// GET /admin/cheat
func (s *Server) HandleCheat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scores":  s.Monitor.Scores(),
		"dropped": s.Monitor.Dropped(),
	})
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":    len(s.Manager.ListRooms()),
		"active":   len(s.Manager.ActiveRooms()),
		"sessions": len(s.Sessions.Players()),
		"metrics":  s.Metrics.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotWaiting), errors.Is(err, ErrRosterNotReady):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
