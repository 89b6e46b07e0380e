package character_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/waystonemud/waystone/internal/game/character"
)

func TestNewDerivesHitPointsFromConstitution(t *testing.T) {
	c := character.New("Alice", "fighter", character.AbilityScores{
		Strength: 16, Dexterity: 12, Constitution: 14,
		Intelligence: 10, Wisdom: 10, Charisma: 8,
	})

	cur, max := c.HitPoints()
	assert.Equal(t, 30, max, "20 base + 5 per CON modifier point")
	assert.Equal(t, max, cur, "new characters start at full health")
	assert.Equal(t, 1, c.Level)
}

func TestNewClampsMinimumHitPoints(t *testing.T) {
	c := character.New("Frail", "scholar", character.AbilityScores{Constitution: 3})
	_, max := c.HitPoints()
	assert.Equal(t, 10, max, "even a CON 3 character gets the floor")
}

func TestAbilityScoreLookup(t *testing.T) {
	c := character.New("Alice", "fighter", character.AbilityScores{
		Strength: 16, Dexterity: 12, Constitution: 14,
		Intelligence: 13, Wisdom: 11, Charisma: 8,
	})

	assert.Equal(t, 16, c.Attribute("strength"))
	assert.Equal(t, 16, c.Attribute("STR"))
	assert.Equal(t, 12, c.Attribute("dexterity"))
	assert.Equal(t, 8, c.Attribute("cha"))
	assert.Equal(t, 10, c.Attribute("luck"), "unknown attributes read as neutral 10")
}

func TestApplyDamageClampsAtZero(t *testing.T) {
	c := character.New("Alice", "fighter", character.AbilityScores{Constitution: 10})

	assert.Equal(t, 15, c.ApplyDamage(5))
	assert.Equal(t, 0, c.ApplyDamage(100), "damage never drives HP negative")
	assert.True(t, c.IsDead())

	c.RestoreToFull()
	cur, max := c.HitPoints()
	assert.Equal(t, max, cur)
	assert.False(t, c.IsDead())
}

func TestHealCapsAtMax(t *testing.T) {
	c := character.New("Alice", "fighter", character.AbilityScores{Constitution: 10})
	c.ApplyDamage(5)
	assert.Equal(t, 20, c.Heal(50), "healing never exceeds max HP")
}

func TestAddExperience(t *testing.T) {
	c := character.New("Alice", "fighter", character.AbilityScores{})
	assert.Equal(t, 30, c.AddExperience(30))
	assert.Equal(t, 30, c.AddExperience(-5), "negative awards are ignored")
	assert.Equal(t, 40, c.AddExperience(10))
}
