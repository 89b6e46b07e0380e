// Package gameserver wires the combat engine to sessions, NPCs, scripting,
// and persistence: the command-facing layer of the Waystone backend.
package gameserver

import (
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/session"
)

// RoomBroadcaster delivers combat text to every connected player in a room.
// Delivery is fire-and-forget: a slow or dead connection drops the message
// with a log line and never blocks the combat core.
type RoomBroadcaster struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewRoomBroadcaster creates a RoomBroadcaster.
//
// Precondition: sessions and logger must be non-nil.
func NewRoomBroadcaster(sessions *session.Manager, logger *zap.Logger) *RoomBroadcaster {
	return &RoomBroadcaster{sessions: sessions, logger: logger}
}

// BroadcastToRoom pushes message to every occupant of roomID except
// excludeID (no exclusion when excludeID is "").
func (b *RoomBroadcaster) BroadcastToRoom(roomID, message, excludeID string) {
	payload := []byte(message + "\r\n")
	for _, uid := range b.sessions.PlayerUIDsInRoom(roomID) {
		if uid == excludeID {
			continue
		}
		sess, ok := b.sessions.GetPlayer(uid)
		if !ok {
			continue
		}
		if err := sess.Entity.Push(payload); err != nil {
			b.logger.Debug("combat broadcast dropped",
				zap.String("room_id", roomID),
				zap.String("uid", uid),
				zap.Error(err),
			)
		}
	}
}
