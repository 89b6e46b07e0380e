// Package character defines the player character domain model.
package character

import (
	"strings"
	"sync"
	"time"
)

// AbilityScores holds the six core ability score values for a character.
type AbilityScores struct {
	Strength     int
	Dexterity    int
	Constitution int
	Intelligence int
	Wisdom       int
	Charisma     int
}

// Score returns the named ability score. Unknown names read as 10, the
// neutral value.
func (a AbilityScores) Score(name string) int {
	switch strings.ToLower(name) {
	case "strength", "str":
		return a.Strength
	case "dexterity", "dex":
		return a.Dexterity
	case "constitution", "con":
		return a.Constitution
	case "intelligence", "int":
		return a.Intelligence
	case "wisdom", "wis":
		return a.Wisdom
	case "charisma", "cha":
		return a.Charisma
	default:
		return 10
	}
}

// Character represents a player character's persistent state.
//
// ID and AccountID are set by the persistence layer; zero values indicate an
// unsaved character. Combat state lives in the combat package; the Character
// only carries what survives across fights.
type Character struct {
	ID        int64
	AccountID int64

	Name       string
	Class      string
	Level      int
	Experience int

	Location  string // current room ID
	Abilities AbilityScores

	CreatedAt time.Time
	UpdatedAt time.Time

	mu        sync.Mutex
	maxHP     int
	currentHP int
}

// New creates a level-1 character with full hit points derived from
// constitution: 20 base plus 5 per constitution modifier point, floor 10.
func New(name, class string, abilities AbilityScores) *Character {
	maxHP := 20 + 5*((abilities.Constitution-10)/2)
	if maxHP < 10 {
		maxHP = 10
	}
	return &Character{
		Name:      name,
		Class:     class,
		Level:     1,
		Abilities: abilities,
		maxHP:     maxHP,
		currentHP: maxHP,
	}
}

// SetHitPoints initializes HP from persisted values.
func (c *Character) SetHitPoints(current, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxHP = max
	c.currentHP = current
}

// Attribute returns the named ability score. Implements the combat entity
// capability.
func (c *Character) Attribute(name string) int {
	return c.Abilities.Score(name)
}

// HitPoints returns current and maximum hit points.
func (c *Character) HitPoints() (current, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentHP, c.maxHP
}

// ApplyDamage reduces current hit points by amount, clamped at zero, and
// returns the new current value.
func (c *Character) ApplyDamage(amount int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentHP -= amount
	if c.currentHP < 0 {
		c.currentHP = 0
	}
	return c.currentHP
}

// Heal restores hit points up to the maximum and returns the new current
// value.
func (c *Character) Heal(amount int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentHP += amount
	if c.currentHP > c.maxHP {
		c.currentHP = c.maxHP
	}
	return c.currentHP
}

// RestoreToFull sets current hit points to the maximum. Used on respawn.
func (c *Character) RestoreToFull() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentHP = c.maxHP
}

// IsDead reports whether the character has zero hit points.
func (c *Character) IsDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentHP <= 0
}

// AddExperience adds earned XP and returns the new total.
func (c *Character) AddExperience(amount int) int {
	if amount > 0 {
		c.Experience += amount
	}
	return c.Experience
}
