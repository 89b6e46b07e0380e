package session

import (
	"fmt"
	"sync"

	"github.com/waystonemud/waystone/internal/game/character"
)

// PlayerSession tracks a connected player's state.
type PlayerSession struct {
	// UID is the unique player identifier (character ID as string).
	UID string
	// Username is the account username (for logging).
	Username string
	// RoomID is the current room the player occupies.
	RoomID string
	// Role is the account privilege level (player, admin).
	Role string
	// Character is the live character record; combat participants hold a
	// reference to it for attribute reads and damage.
	Character *character.Character
	// Entity is the bridge entity for pushing output to the player.
	Entity *BridgeEntity
}

// CharName returns the character's display name.
func (s *PlayerSession) CharName() string {
	if s.Character == nil {
		return s.Username
	}
	return s.Character.Name
}

// Manager tracks all active player sessions and room occupancy.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	players  map[string]*PlayerSession  // uid → session
	roomSets map[string]map[string]bool // roomID → set of UIDs
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		players:  make(map[string]*PlayerSession),
		roomSets: make(map[string]map[string]bool),
	}
}

// AddPlayer registers a new player session in the given room.
//
// Precondition: uid, username, and roomID must be non-empty; ch must not
// be nil.
// Postcondition: Returns the created PlayerSession, or an error if the UID
// is already registered.
func (m *Manager) AddPlayer(uid, username, roomID, role string, ch *character.Character) (*PlayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[uid]; exists {
		return nil, fmt.Errorf("player %q already connected", uid)
	}

	sess := &PlayerSession{
		UID:       uid,
		Username:  username,
		RoomID:    roomID,
		Role:      role,
		Character: ch,
		Entity:    NewBridgeEntity(uid, 64),
	}

	m.players[uid] = sess
	if m.roomSets[roomID] == nil {
		m.roomSets[roomID] = make(map[string]bool)
	}
	m.roomSets[roomID][uid] = true

	return sess, nil
}

// RemovePlayer removes a player session and cleans up room occupancy.
//
// Postcondition: The player is removed from all tracking and their entity
// is closed. Returns an error if not found.
func (m *Manager) RemovePlayer(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.players[uid]
	if !exists {
		return fmt.Errorf("player %q not found", uid)
	}

	if rs, ok := m.roomSets[sess.RoomID]; ok {
		delete(rs, uid)
		if len(rs) == 0 {
			delete(m.roomSets, sess.RoomID)
		}
	}

	_ = sess.Entity.Close()

	delete(m.players, uid)
	return nil
}

// MovePlayer moves a player from their current room to a new room.
//
// Postcondition: Returns the old room ID, or an error if the player is not
// found.
func (m *Manager) MovePlayer(uid, newRoomID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.players[uid]
	if !exists {
		return "", fmt.Errorf("player %q not found", uid)
	}

	oldRoomID := sess.RoomID

	if rs, ok := m.roomSets[oldRoomID]; ok {
		delete(rs, uid)
		if len(rs) == 0 {
			delete(m.roomSets, oldRoomID)
		}
	}

	sess.RoomID = newRoomID
	if m.roomSets[newRoomID] == nil {
		m.roomSets[newRoomID] = make(map[string]bool)
	}
	m.roomSets[newRoomID][uid] = true

	return oldRoomID, nil
}

// PlayersInRoom returns the character display names of all players in the
// given room.
func (m *Manager) PlayersInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uids, ok := m.roomSets[roomID]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(uids))
	for uid := range uids {
		if sess, ok := m.players[uid]; ok {
			names = append(names, sess.CharName())
		}
	}
	return names
}

// PlayerUIDsInRoom returns the UIDs of all players in the given room.
func (m *Manager) PlayerUIDsInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uids, ok := m.roomSets[roomID]
	if !ok {
		return nil
	}

	result := make([]string, 0, len(uids))
	for uid := range uids {
		result = append(result, uid)
	}
	return result
}

// GetPlayer returns the session for the given UID.
func (m *Manager) GetPlayer(uid string) (*PlayerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.players[uid]
	return sess, ok
}

// GetPlayerByCharName returns the session for the player with the given
// character name.
func (m *Manager) GetPlayerByCharName(charName string) (*PlayerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.players {
		if sess.CharName() == charName {
			return sess, true
		}
	}
	return nil, false
}

// PlayerCount returns the total number of connected players.
func (m *Manager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}
