package session

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/observability"
)

// transition moves p from its current room to roomID at (x, y) as one
// uninterrupted step against the registry:
//
//  1. if p hosts the old room, a successor is elected from the rest;
//  2. the remaining members of the old room receive a Leave notice;
//  3. p is recorded in the new room;
//  4. if the new room has no host, p becomes host and is told so;
//  5. the other members of the new room receive a Join notice.
//
// Caller must hold m.mu for writing.
func (m *Manager) transition(p *playerState, x, y float64, roomID string) {
	from := p.roomID

	m.exit(p)
	p.x, p.y = x, y
	m.enter(p, roomID)

	m.emit(Event{Kind: EventMoved, PlayerID: p.id, RoomID: roomID, FromRoomID: from})
	m.logger.Debug("player changed room",
		observability.PlayerID(p.id),
		zap.String("from_room_id", from),
		observability.RoomID(roomID),
	)
}
