package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/game/authority"
	"github.com/cory-johannsen/roomsync/internal/observability"
	"github.com/cory-johannsen/roomsync/internal/protocol"
)

var (
	// ErrPlayerNotFound is returned for an id with no live connection.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrAlreadyConnected is returned when an id is registered twice.
	ErrAlreadyConnected = errors.New("player already connected")
	// ErrRoomMismatch is returned when a message names a room other than the
	// one the sender is recorded in.
	ErrRoomMismatch = errors.New("room mismatch")
)

// Position is a snapshot of a connected player's recorded position.
type Position struct {
	ID     string
	X, Y   float64
	RoomID string
}

// playerState is the registry's record of one live connection.
type playerState struct {
	id      string
	x, y    float64
	roomID  string
	entered uint64
	entity  *Entity
}

func (p *playerState) position() Position {
	return Position{ID: p.id, X: p.x, Y: p.y, RoomID: p.roomID}
}

// Options configures a Manager.
type Options struct {
	// Policy elects a successor host. Defaults to authority.Seniority.
	Policy authority.Policy
	// SendRoster makes an entrant receive a Join notice for every existing
	// occupant of the room it enters.
	SendRoster bool
	// Observer receives presence and authority events. May be nil.
	Observer Observer
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is the connection registry. It owns every player's position, the
// room membership sets and the host table, and enqueues all notices produced
// by an operation while holding its lock, so recipients observe the notices
// of one operation contiguously.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	players  map[string]*playerState            // id → state
	roomSets map[string]map[string]*playerState // roomID → members
	elector  *authority.Elector
	seq      uint64

	sendRoster bool
	observer   Observer
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates an empty registry.
//
// Postcondition: Returns a Manager with no players and no hosted rooms.
func NewManager(opts Options) *Manager {
	if opts.Policy == nil {
		opts.Policy = authority.Seniority{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		players:    make(map[string]*playerState),
		roomSets:   make(map[string]map[string]*playerState),
		elector:    authority.NewElector(opts.Policy),
		sendRoster: opts.SendRoster,
		observer:   opts.Observer,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Policy returns the election policy in use.
func (m *Manager) Policy() authority.Policy {
	return m.elector.Policy()
}

// AddConnection registers a joined connection at (x, y) in roomID. If the room
// has no host the player becomes host and receives HostAssigned; the other
// members receive a Join notice.
//
// Precondition: id and roomID must be non-empty; entity must be open.
// Postcondition: The player is recorded in roomID, or ErrAlreadyConnected is
// returned and nothing changes.
func (m *Manager) AddConnection(id string, x, y float64, roomID string, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[id]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyConnected, id)
	}

	p := &playerState{id: id, x: x, y: y, entity: entity}
	m.players[id] = p
	m.enter(p, roomID)
	m.emit(Event{Kind: EventJoined, PlayerID: id, RoomID: roomID})

	m.logger.Debug("player joined",
		observability.PlayerID(id),
		observability.RoomID(roomID),
	)
	return nil
}

// RemoveConnection tears down a connection. If the player hosted its room a
// successor is elected before its state is removed; the remaining members
// receive a Leave notice. The entity is closed.
//
// Postcondition: No state for id remains, or ErrPlayerNotFound is returned.
func (m *Manager) RemoveConnection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.players[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrPlayerNotFound, id)
	}

	roomID := p.roomID
	m.exit(p)
	delete(m.players, id)
	_ = p.entity.Close()
	m.emit(Event{Kind: EventLeft, PlayerID: id, RoomID: roomID})

	m.logger.Debug("player left",
		observability.PlayerID(id),
		observability.RoomID(roomID),
	)
	return nil
}

// UpdatePosition records a new position. A different roomID runs the room
// transition; otherwise the position is updated in place and a Move notice is
// broadcast to the rest of the room.
//
// Postcondition: The player's recorded room equals roomID, or
// ErrPlayerNotFound is returned.
func (m *Manager) UpdatePosition(id string, x, y float64, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.players[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrPlayerNotFound, id)
	}

	if p.roomID != roomID {
		m.transition(p, x, y, roomID)
		return nil
	}

	p.x, p.y = x, y
	m.broadcast(roomID, id, protocol.Move{ID: id, X: x, Y: y, RoomID: roomID})
	return nil
}

// RelayChat broadcasts a chat line from id to the rest of its room.
//
// Postcondition: Returns ErrPlayerNotFound or ErrRoomMismatch without relaying.
func (m *Manager) RelayChat(id, roomID, message string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.member(id, roomID); err != nil {
		return err
	}
	m.broadcast(roomID, id, protocol.Chat{ID: id, Message: message, RoomID: roomID})
	return nil
}

// RelayEntityUpdate broadcasts an entity update only if id is the current
// host of the room. A non-host update is dropped and false is returned.
//
// Postcondition: Returns true iff the update was relayed.
func (m *Manager) RelayEntityUpdate(id string, update protocol.EntityUpdate) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.member(id, update.RoomID); err != nil {
		return false, err
	}
	if !m.elector.IsHost(update.RoomID, id) {
		return false, nil
	}
	update.ID = id
	m.broadcast(update.RoomID, id, update)
	return true, nil
}

// RelayEntityDamage broadcasts a damage report from any member of the room.
// PlayerID is stamped with the sender.
func (m *Manager) RelayEntityDamage(id string, damage protocol.EntityDamage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.member(id, damage.RoomID); err != nil {
		return err
	}
	damage.PlayerID = id
	m.broadcast(damage.RoomID, id, damage)
	return nil
}

// RelayEntityDeath broadcasts a death report from any member of the room.
// PlayerID is stamped with the sender.
func (m *Manager) RelayEntityDeath(id string, death protocol.EntityDeath) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.member(id, death.RoomID); err != nil {
		return err
	}
	death.PlayerID = id
	m.broadcast(death.RoomID, id, death)
	return nil
}

// GetPlayer returns a snapshot of the player's position.
func (m *Manager) GetPlayer(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return Position{}, false
	}
	return p.position(), true
}

// IsConnected reports whether id has a live registered connection.
func (m *Manager) IsConnected(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[id]
	return ok
}

// PlayerIDsInRoom returns the ids recorded in roomID, sorted.
//
// Postcondition: Returns a slice of ids (may be empty).
func (m *Manager) PlayerIDsInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.roomSets[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Host returns the current host of roomID.
func (m *Manager) Host(roomID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elector.Host(roomID)
}

// PlayerCount returns the number of connected players.
func (m *Manager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// RoomCount returns the number of occupied rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roomSets)
}

// RoomStats summarises one occupied room.
type RoomStats struct {
	RoomID  string   `json:"roomId"`
	HostID  string   `json:"hostId"`
	Players []string `json:"players"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Players int         `json:"players"`
	Policy  string      `json:"policy"`
	Rooms   []RoomStats `json:"rooms"`
}

// Stats returns a consistent snapshot of all rooms, sorted by room id.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Stats{
		Players: len(m.players),
		Policy:  m.elector.Policy().Name(),
		Rooms:   make([]RoomStats, 0, len(m.roomSets)),
	}
	for roomID, members := range m.roomSets {
		host, _ := m.elector.Host(roomID)
		rs := RoomStats{RoomID: roomID, HostID: host, Players: make([]string, 0, len(members))}
		for id := range members {
			rs.Players = append(rs.Players, id)
		}
		sort.Strings(rs.Players)
		out.Rooms = append(out.Rooms, rs)
	}
	sort.Slice(out.Rooms, func(i, j int) bool { return out.Rooms[i].RoomID < out.Rooms[j].RoomID })
	return out
}

// member returns id's state if it is recorded in roomID.
// Caller must hold m.mu.
func (m *Manager) member(id, roomID string) (*playerState, error) {
	p, ok := m.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlayerNotFound, id)
	}
	if p.roomID != roomID {
		return nil, fmt.Errorf("%w: %q is in %q, message names %q", ErrRoomMismatch, id, p.roomID, roomID)
	}
	return p, nil
}

// enter records p in roomID, claims the room if it has no host, notifies the
// other members and sends the roster to p.
// Caller must hold m.mu for writing.
func (m *Manager) enter(p *playerState, roomID string) {
	m.seq++
	p.roomID = roomID
	p.entered = m.seq

	members := m.roomSets[roomID]
	if members == nil {
		members = make(map[string]*playerState)
		m.roomSets[roomID] = members
	}
	members[p.id] = p

	if m.elector.Claim(roomID, p.id) {
		m.announceHost(roomID, p.id)
	}

	m.broadcast(roomID, p.id, protocol.Join{ID: p.id, X: p.x, Y: p.y, RoomID: roomID})

	if m.sendRoster {
		for _, other := range m.occupants(roomID) {
			if other.id == p.id {
				continue
			}
			m.send(p, protocol.Join{ID: other.id, X: other.x, Y: other.y, RoomID: roomID})
		}
	}
}

// exit removes p from its room, electing a successor first if p was host,
// then notifies the remaining members with a Leave notice.
// Caller must hold m.mu for writing.
func (m *Manager) exit(p *playerState) {
	roomID := p.roomID
	members := m.roomSets[roomID]
	delete(members, p.id)
	if len(members) == 0 {
		delete(m.roomSets, roomID)
	}

	if m.elector.IsHost(roomID, p.id) {
		next, elected := m.elector.Vacate(roomID, p.id, m.candidates(roomID))
		m.emit(Event{Kind: EventHostVacated, PlayerID: p.id, RoomID: roomID})
		if elected {
			m.announceHost(roomID, next)
		}
	}

	m.broadcast(roomID, p.id, protocol.Leave{ID: p.id})
}

// announceHost sends HostAssigned to every member of roomID, host included.
// Caller must hold m.mu for writing.
func (m *Manager) announceHost(roomID, hostID string) {
	notice := protocol.HostAssigned{HostID: hostID, RoomID: roomID}
	for _, member := range m.roomSets[roomID] {
		m.send(member, notice)
	}
	m.emit(Event{Kind: EventHostAssigned, PlayerID: hostID, RoomID: roomID})
	m.logger.Info("host assigned",
		observability.RoomID(roomID),
		zap.String("host_id", hostID),
		zap.String("policy", m.elector.Policy().Name()),
	)
}

// candidates lists the members of roomID in map iteration order.
// Caller must hold m.mu.
func (m *Manager) candidates(roomID string) []authority.Candidate {
	members := m.roomSets[roomID]
	out := make([]authority.Candidate, 0, len(members))
	for _, p := range members {
		out = append(out, authority.Candidate{PlayerID: p.id, Entered: p.entered})
	}
	return out
}

// occupants lists the members of roomID in entry order.
// Caller must hold m.mu.
func (m *Manager) occupants(roomID string) []*playerState {
	members := m.roomSets[roomID]
	out := make([]*playerState, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entered < out[j].entered })
	return out
}

// broadcast sends msg to every member of roomID except excludeID.
// Caller must hold m.mu.
func (m *Manager) broadcast(roomID, excludeID string, msg protocol.Message) {
	for id, member := range m.roomSets[roomID] {
		if id == excludeID {
			continue
		}
		m.send(member, msg)
	}
}

// send enqueues msg for p. A peer whose queue is full is treated as
// unresponsive: its entity is closed, which makes the transport tear the
// connection down.
func (m *Manager) send(p *playerState, msg protocol.Message) {
	err := p.entity.Push(msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		m.logger.Warn("send queue full, disconnecting",
			observability.PlayerID(p.id),
			zap.String("kind", string(msg.Kind())),
		)
		_ = p.entity.Close()
	default:
		m.logger.Debug("dropping notice for closed entity",
			observability.PlayerID(p.id),
			zap.String("kind", string(msg.Kind())),
		)
	}
}

// emit stamps evt and hands it to the observer.
// Caller must hold m.mu.
func (m *Manager) emit(evt Event) {
	evt.At = m.now()
	m.observer.Observe(evt)
}
