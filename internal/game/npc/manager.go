package npc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager tracks all live NPC instances by ID and by room.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]*Template
	instances map[string]*Instance       // instanceID → Instance
	roomSets  map[string]map[string]bool // roomID → set of instanceIDs
	counter   atomic.Uint64
}

// NewManager creates an empty NPC Manager.
func NewManager() *Manager {
	return &Manager{
		templates: make(map[string]*Template),
		instances: make(map[string]*Instance),
		roomSets:  make(map[string]map[string]bool),
	}
}

// RegisterTemplate adds a template so Spawn can look it up by ID.
//
// Precondition: tmpl must be validated.
func (m *Manager) RegisterTemplate(tmpl *Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.ID] = tmpl
}

// Template returns the registered template with the given ID.
func (m *Manager) Template(id string) (*Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	return t, ok
}

// Spawn creates a new Instance from tmpl and places it in roomID.
//
// Precondition: tmpl must be non-nil; roomID must be non-empty.
// Postcondition: Returns a new Instance with a unique ID registered in
// roomID.
func (m *Manager) Spawn(tmpl *Template, roomID string) (*Instance, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("npc.Manager.Spawn: tmpl must not be nil")
	}
	if roomID == "" {
		return nil, fmt.Errorf("npc.Manager.Spawn: roomID must not be empty")
	}

	n := m.counter.Add(1)
	id := fmt.Sprintf("%s-%s-%d", tmpl.ID, roomID, n)
	inst := NewInstance(id, tmpl, roomID)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.instances[id] = inst
	if m.roomSets[roomID] == nil {
		m.roomSets[roomID] = make(map[string]bool)
	}
	m.roomSets[roomID][id] = true

	return inst, nil
}

// SpawnByTemplateID spawns from a previously registered template.
func (m *Manager) SpawnByTemplateID(templateID, roomID string) (*Instance, error) {
	tmpl, ok := m.Template(templateID)
	if !ok {
		return nil, fmt.Errorf("npc template %q not registered", templateID)
	}
	return m.Spawn(tmpl, roomID)
}

// Remove deletes an instance by ID.
//
// Postcondition: Returns an error if the instance is not found.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("npc instance %q not found", id)
	}

	if rs, ok := m.roomSets[inst.RoomID]; ok {
		delete(rs, id)
		if len(rs) == 0 {
			delete(m.roomSets, inst.RoomID)
		}
	}
	delete(m.instances, id)
	return nil
}

// Get returns the instance with the given ID.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// InstancesInRoom returns a snapshot of all live instances in roomID.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (m *Manager) InstancesInRoom(roomID string) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.roomSets[roomID]))
	for id := range m.roomSets[roomID] {
		if inst, ok := m.instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// FindInRoomByKeyword returns the first instance in roomID answering to the
// given keyword, or nil.
func (m *Manager) FindInRoomByKeyword(roomID, keyword string) *Instance {
	for _, inst := range m.InstancesInRoom(roomID) {
		if inst.MatchesKeyword(keyword) {
			return inst
		}
	}
	return nil
}

// Count returns the number of live instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
