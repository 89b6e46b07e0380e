// Package combat implements the round-based combat engine for Waystone:
// per-room combat coordinators driven by autonomous round loops, dice-based
// attack and skill resolution, and a registry of active fights.
package combat

import (
	"time"
)

// Entity is the capability interface a Participant holds on its persistent
// record. Player characters and NPC instances provide their own
// implementations; the combat core never owns the record's lifecycle.
type Entity interface {
	// Attribute returns the named attribute score, defaulting to 10 when
	// the entity does not define it.
	Attribute(name string) int
	// HitPoints returns the entity's current and maximum hit points.
	HitPoints() (current, max int)
	// ApplyDamage reduces current hit points by amount, clamped at zero,
	// and returns the new current value.
	ApplyDamage(amount int) int
}

// Profile describes an NPC's combat instincts.
type Profile struct {
	// Passive entities flee rather than fight.
	Passive bool
	// Inert entities never act on their turn (training dummies).
	Inert bool
	// WimpyThreshold is the HP fraction below which the entity tries to
	// flee. Zero disables wimpy behavior.
	WimpyThreshold float64
}

// Profiled is an optional capability for entities with combat instincts.
// Entities that do not implement it fight with the default profile.
type Profiled interface {
	CombatProfile() Profile
}

// Grudged is an optional capability for entities that remember who last
// hit them, used for NPC target selection.
type Grudged interface {
	// LastAttacker returns the entity ID of the most recent attacker,
	// or "" when the entity has not been hit.
	LastAttacker() string
	// NoteAttacker records that attackerID just dealt damage.
	NoteAttacker(attackerID string)
}

// Participant is one combatant inside exactly one Combat instance.
//
// Identity fields are immutable after creation. All mutable state is
// serialized by the owning Combat's lock; callers outside the combat
// package must mutate participants only through Combat methods.
type Participant struct {
	// EntityID is the character UUID or NPC instance ID.
	EntityID string
	// Name is the display name used in combat messages.
	Name string
	// IsNPC is true for NPCs, false for player characters.
	IsNPC bool
	// Initiative is d20 + DEX modifier, rolled once when joining.
	Initiative int
	// TargetID is the current target's entity ID, or "" for none.
	TargetID string
	// IsDefending is true until the end of the current round.
	IsDefending bool
	// Fled is true once the participant has permanently left active
	// rotation. Fled participants are never removed from the list.
	Fled bool
	// WaitUntil is the instant until which the participant's turn is
	// skipped. The zero value means no wait state.
	WaitUntil time.Time
	// DamageDealt tallies total damage dealt, used for XP sharing.
	DamageDealt int
	// Cooldowns maps skill name to the instant the skill becomes usable.
	Cooldowns map[string]time.Time
	// Effects maps effect name to its value (e.g. prone carries -2).
	Effects map[string]int

	// Entity is the non-owning reference to the persistent record.
	Entity Entity
}

func newParticipant(entityID, name string, isNPC bool, targetID string, ent Entity) *Participant {
	return &Participant{
		EntityID:  entityID,
		Name:      name,
		IsNPC:     isNPC,
		TargetID:  targetID,
		Cooldowns: make(map[string]time.Time),
		Effects:   make(map[string]int),
		Entity:    ent,
	}
}

// attribute reads an attribute through the entity reference, defaulting to
// 10 when no entity is attached.
func (p *Participant) attribute(name string) int {
	if p.Entity == nil {
		return 10
	}
	return p.Entity.Attribute(name)
}

// hitPoints reads HP through the entity reference, defaulting to full
// health when no entity is attached.
func (p *Participant) hitPoints() (current, max int) {
	if p.Entity == nil {
		return 100, 100
	}
	return p.Entity.HitPoints()
}

// IsSkillOnCooldown reports whether the named skill is unusable at now.
func (p *Participant) IsSkillOnCooldown(name string, now time.Time) bool {
	expires, ok := p.Cooldowns[name]
	return ok && now.Before(expires)
}

// SetSkillCooldown makes the named skill unusable for d from now.
func (p *Participant) SetSkillCooldown(name string, d time.Duration, now time.Time) {
	p.Cooldowns[name] = now.Add(d)
}

// InWaitState reports whether the participant is still recovering at now.
func (p *Participant) InWaitState(now time.Time) bool {
	return !p.WaitUntil.IsZero() && now.Before(p.WaitUntil)
}

// profile returns the entity's combat instincts, or the zero Profile when
// the entity has none.
func (p *Participant) profile() Profile {
	if prof, ok := p.Entity.(Profiled); ok {
		return prof.CombatProfile()
	}
	return Profile{}
}
