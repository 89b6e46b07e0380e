package npc

import (
	"strings"
	"sync"

	"github.com/waystonemud/waystone/internal/game/combat"
)

// Instance is a live NPC entity occupying a room. It implements the combat
// entity capabilities, so a Participant can hold it directly.
type Instance struct {
	// ID uniquely identifies this runtime instance.
	ID string
	// TemplateID is the source template's ID.
	TemplateID string
	// Name is copied from the template for display.
	Name string
	// Description is copied from the template.
	Description string
	// RoomID is the room this instance currently occupies.
	RoomID string
	// Level is the instance's level.
	Level int
	// XPValue is the experience awarded for killing this instance.
	XPValue int
	// Behavior is the combat disposition copied from the template.
	Behavior Behavior
	// WimpyThreshold is the flee fraction copied from the template.
	WimpyThreshold float64
	// Keywords are the targetable words copied from the template.
	Keywords []string

	abilities Abilities

	mu           sync.Mutex
	currentHP    int
	maxHP        int
	lastAttacker string
}

// NewInstance creates a live NPC instance from a template, placed in roomID.
//
// Precondition: id must be non-empty; tmpl must be non-nil; roomID must be
// non-empty.
// Postcondition: the instance starts at tmpl.MaxHP.
func NewInstance(id string, tmpl *Template, roomID string) *Instance {
	return &Instance{
		ID:             id,
		TemplateID:     tmpl.ID,
		Name:           tmpl.Name,
		Description:    tmpl.Description,
		RoomID:         roomID,
		Level:          tmpl.Level,
		XPValue:        tmpl.ExperienceValue(),
		Behavior:       tmpl.Behavior,
		WimpyThreshold: tmpl.WimpyThreshold,
		Keywords:       tmpl.Keywords,
		abilities:      tmpl.Abilities,
		currentHP:      tmpl.MaxHP,
		maxHP:          tmpl.MaxHP,
	}
}

// Attribute returns the named ability score, defaulting to 10 for unknown
// names or unset scores.
func (i *Instance) Attribute(name string) int {
	var v int
	switch strings.ToLower(name) {
	case "strength", "str":
		v = i.abilities.Strength
	case "dexterity", "dex":
		v = i.abilities.Dexterity
	case "constitution", "con":
		v = i.abilities.Constitution
	case "intelligence", "int":
		v = i.abilities.Intelligence
	case "wisdom", "wis":
		v = i.abilities.Wisdom
	case "charisma", "cha":
		v = i.abilities.Charisma
	}
	if v == 0 {
		return 10
	}
	return v
}

// HitPoints returns current and maximum hit points.
func (i *Instance) HitPoints() (current, max int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentHP, i.maxHP
}

// ApplyDamage reduces current hit points by amount, clamped at zero, and
// returns the new current value.
func (i *Instance) ApplyDamage(amount int) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.currentHP -= amount
	if i.currentHP < 0 {
		i.currentHP = 0
	}
	return i.currentHP
}

// IsDead reports whether the instance has zero hit points.
func (i *Instance) IsDead() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentHP <= 0
}

// CombatProfile maps the template behavior onto combat instincts.
func (i *Instance) CombatProfile() combat.Profile {
	switch i.Behavior {
	case BehaviorPassive:
		return combat.Profile{Passive: true}
	case BehaviorTrainingDummy:
		return combat.Profile{Inert: true}
	default:
		return combat.Profile{WimpyThreshold: i.WimpyThreshold}
	}
}

// LastAttacker returns the entity ID of the most recent attacker.
func (i *Instance) LastAttacker() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastAttacker
}

// NoteAttacker records that attackerID just dealt damage.
func (i *Instance) NoteAttacker(attackerID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastAttacker = attackerID
}

// MatchesKeyword reports whether the instance answers to the given word:
// a case-insensitive substring of its name or any template keyword.
func (i *Instance) MatchesKeyword(word string) bool {
	word = strings.ToLower(word)
	if strings.Contains(strings.ToLower(i.Name), word) {
		return true
	}
	for _, k := range i.Keywords {
		if strings.ToLower(k) == word {
			return true
		}
	}
	return false
}

// HealthDescription returns a visible health state string suitable for
// examine output.
func (i *Instance) HealthDescription() string {
	cur, max := i.HitPoints()
	if cur <= 0 {
		return "dead"
	}
	pct := float64(cur) / float64(max)
	switch {
	case pct >= 1.0:
		return "unharmed"
	case pct >= 0.85:
		return "barely scratched"
	case pct >= 0.60:
		return "lightly wounded"
	case pct >= 0.40:
		return "moderately wounded"
	case pct >= 0.20:
		return "heavily wounded"
	default:
		return "critically wounded"
	}
}
