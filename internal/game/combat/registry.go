package combat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCombatActive is returned by CreateCombat when the room already has a
// fight that has not ended.
var ErrCombatActive = errors.New("combat already active in room")

// ErrEntityInCombat is returned when an entity is added to a fight while
// already active in another one.
var ErrEntityInCombat = errors.New("entity already in another combat")

// Registry is the process-wide index of active fights, at most one per
// room. It is a service owned by the game server, not a package singleton;
// construct one per server instance.
//
// The registry also enforces the one-combat-per-entity invariant and tracks
// the post-combat recall cooldown for recently fighting entities.
type Registry struct {
	deps Deps

	mu             sync.Mutex
	byRoom         map[string]*Combat
	byEntity       map[string]*Combat
	recentFighters map[string]time.Time

	now func() time.Time
	// RecallCooldown is how long after a fight ends an entity counts as
	// "recently in combat" (blocks recall and similar escapes).
	recallCooldown time.Duration
}

// NewRegistry creates an empty Registry whose Combats share the given deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		deps:           deps,
		byRoom:         make(map[string]*Combat),
		byEntity:       make(map[string]*Combat),
		recentFighters: make(map[string]time.Time),
		now:            deps.Now,
		recallCooldown: 30 * time.Second,
	}
}

// SetRecallCooldown overrides the post-combat recall window.
func (r *Registry) SetRecallCooldown(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recallCooldown = d
}

// CreateCombat atomically creates and indexes a new SETUP-state Combat for
// the room. The existence check and the insert happen under one lock, so
// two concurrent callers for the same room cannot both create a fight.
//
// Returns ErrCombatActive if the room already has a non-ended Combat.
func (r *Registry) CreateCombat(roomID string, mode Mode) (*Combat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byRoom[roomID]; ok && !existing.Ended() {
		return nil, fmt.Errorf("room %q: %w", roomID, ErrCombatActive)
	}

	c := NewCombat(roomID, mode, r.deps)
	c.claim = r.claimEntity
	c.release = r.releaseEntity
	c.onEnded = r.combatEnded
	r.byRoom[roomID] = c
	return c, nil
}

// GetCombatForRoom returns the room's Combat, or nil if there is none or it
// has ended. Ended entries are treated as absent; CleanupEndedCombats
// removes them.
func (r *Registry) GetCombatForRoom(roomID string) *Combat {
	r.mu.Lock()
	c, ok := r.byRoom[roomID]
	r.mu.Unlock()
	if !ok || c.Ended() {
		return nil
	}
	return c
}

// GetCombatForEntity returns the fight the entity is currently active in,
// or nil.
func (r *Registry) GetCombatForEntity(entityID string) *Combat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEntity[entityID]
}

// CleanupEndedCombats removes all ended fights from the index and returns
// how many were removed. Run it on a periodic server tick.
func (r *Registry) CleanupEndedCombats() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for roomID, c := range r.byRoom {
		if c.Ended() {
			delete(r.byRoom, roomID)
			removed++
		}
	}
	if removed > 0 {
		r.deps.Logger.Debug("cleaned up ended combats", zap.Int("removed", removed))
	}
	return removed
}

// ActiveCombatCount returns how many non-ended fights are indexed.
func (r *Registry) ActiveCombatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.byRoom {
		if !c.Ended() {
			count++
		}
	}
	return count
}

// WasRecentlyInCombat reports whether the entity ended a fight within the
// recall cooldown window. Used to block recall-style escapes right after
// a fight.
func (r *Registry) WasRecentlyInCombat(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	endedAt, ok := r.recentFighters[entityID]
	if !ok {
		return false
	}
	if r.now().Sub(endedAt) >= r.recallCooldown {
		delete(r.recentFighters, entityID)
		return false
	}
	return true
}

// claimEntity records that an entity joined a fight, enforcing the
// one-combat-per-entity invariant. Called with the joining Combat's lock
// held, from AddParticipant.
func (r *Registry) claimEntity(entityID string, c *Combat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byEntity[entityID]; ok {
		return fmt.Errorf("entity %q active in room %q: %w",
			entityID, other.RoomID, ErrEntityInCombat)
	}
	r.byEntity[entityID] = c
	return nil
}

// releaseEntity drops the entity's claim and starts its recall cooldown.
func (r *Registry) releaseEntity(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEntity[entityID]; ok {
		delete(r.byEntity, entityID)
		r.recentFighters[entityID] = r.now()
	}
}

// combatEnded is the Combat's end notification.
func (r *Registry) combatEnded(c *Combat) {
	r.deps.Logger.Debug("registry notified of combat end",
		zap.String("room_id", c.RoomID),
		zap.String("combat_id", c.ID),
	)
}
