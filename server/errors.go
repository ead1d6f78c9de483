package server

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("room capacity exceeded")
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotWaiting       = errors.New("room is not waiting")
	ErrRosterNotReady   = errors.New("roster not ready")
	ErrNotInRoom        = errors.New("player not in room")
)

// DuplicateSessionError 玩家已有绑定房间的在线会话
type DuplicateSessionError struct {
	PlayerID string
	RoomID   string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("player %s already has a live session in room %s", e.PlayerID, e.RoomID)
}
