package combat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waystonemud/waystone/internal/game/combat"
	"github.com/waystonemud/waystone/internal/game/effect"
)

// countingSrc wraps a fakeSrc and counts how many rolls were requested,
// letting tests prove that a rejected skill performs no roll at all.
type countingSrc struct {
	*fakeSrc
	calls int
}

func (c *countingSrc) Intn(n int) int {
	c.calls++
	return c.fakeSrc.Intn(n)
}

// newSkillFight builds an ACTIVE two-party fight that performs no automatic
// actions (manual mode with an hour-long action window), so skill tests
// control every roll.
func newSkillFight(t *testing.T, src *countingSrc) (*combat.Combat, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(src, rec))

	_, err := c.AddParticipant("alice", "Alice", false, "goblin",
		newStubEntity(50, map[string]int{"strength": 16, "dexterity": 14}))
	require.NoError(t, err)
	_, err = c.AddParticipant("goblin", "a goblin", true, "alice",
		newStubNPC(30, map[string]int{"dexterity": 8}, combat.Profile{}))
	require.NoError(t, err)
	require.NoError(t, c.Start())
	return c, rec
}

func TestUseSkillUnknownName(t *testing.T) {
	c, _ := newSkillFight(t, &countingSrc{fakeSrc: maxSrc()})
	ok, msg := c.UseSkill("alice", "uppercut", "goblin")
	assert.False(t, ok)
	assert.Contains(t, msg, "don't know how")
}

func TestUseSkillTargetValidation(t *testing.T) {
	c, _ := newSkillFight(t, &countingSrc{fakeSrc: maxSrc()})

	ok, _ := c.UseSkill("alice", combat.SkillQuickStrike, "alice")
	assert.False(t, ok, "self-targeting is rejected")

	ok, _ = c.UseSkill("alice", combat.SkillQuickStrike, "nobody")
	assert.False(t, ok, "unknown target is rejected")

	ok, msg := c.UseSkill("ghost", combat.SkillQuickStrike, "goblin")
	assert.False(t, ok)
	assert.Contains(t, msg, "not in this fight")
}

func TestSkillCooldownConsumedOnAttempt(t *testing.T) {
	// Every roll is a nat 1: the strike misses, yet the cooldown is spent.
	src := &countingSrc{fakeSrc: minSrc()}
	c, _ := newSkillFight(t, src)

	ok, msg := c.UseSkill("alice", combat.SkillHeavyStrike, "goblin")
	assert.False(t, ok)
	assert.Contains(t, msg, "misses")

	alice := c.GetParticipant("alice")
	assert.True(t, alice.IsSkillOnCooldown(combat.SkillHeavyStrike, time.Now()),
		"a missed skill still goes on cooldown")

	// The miss consumed Alice's turn; a goblin defend hands it back.
	defOK, _ := c.PerformDefend("goblin")
	require.True(t, defOK)

	rollsAfterMiss := src.calls
	ok, msg = c.UseSkill("alice", combat.SkillHeavyStrike, "goblin")
	assert.False(t, ok)
	assert.Contains(t, msg, "still recovering")
	assert.Equal(t, rollsAfterMiss, src.calls,
		"a skill on cooldown performs no roll")
}

func TestHeavyStrikeHitKnocksDownAndSetsWaitState(t *testing.T) {
	src := &countingSrc{fakeSrc: maxSrc()}
	c, rec := newSkillFight(t, src)

	before := time.Now()
	ok, msg := c.UseSkill("alice", combat.SkillHeavyStrike, "goblin")
	require.True(t, ok, "a natural 20 always hits")
	assert.Contains(t, msg, "heavy strike hits")

	goblin := c.GetParticipant("goblin")
	assert.Contains(t, goblin.Effects, "knocked_down")

	// Being knocked down costs the goblin its next action.
	require.False(t, goblin.WaitUntil.IsZero(),
		"a knocked-down target must be left in a wait state")
	assert.GreaterOrEqual(t, goblin.WaitUntil.Sub(before), 10*time.Millisecond,
		"getting back up takes one round interval")

	alice := c.GetParticipant("alice")
	require.False(t, alice.WaitUntil.IsZero())
	wait := alice.WaitUntil.Sub(before)
	assert.GreaterOrEqual(t, wait, 20*time.Millisecond,
		"heavy strike costs two round intervals of recovery")

	hp, _ := goblin.Entity.HitPoints()
	assert.Less(t, hp, 30, "a landed heavy strike deals damage")
	assert.True(t, rec.contains("knocking them down"))
}

func TestQuickStrikeDealsDamageAndShortWait(t *testing.T) {
	src := &countingSrc{fakeSrc: maxSrc()}
	c, _ := newSkillFight(t, src)

	before := time.Now()
	ok, _ := c.UseSkill("alice", combat.SkillQuickStrike, "goblin")
	require.True(t, ok)

	goblin := c.GetParticipant("goblin")
	hp, _ := goblin.Entity.HitPoints()
	// Max d6 plus DEX 14 (+2): 8 damage.
	assert.Equal(t, 22, hp)

	alice := c.GetParticipant("alice")
	wait := alice.WaitUntil.Sub(before)
	assert.GreaterOrEqual(t, wait, 10*time.Millisecond)
	assert.Less(t, wait, 20*time.Millisecond+5*time.Millisecond,
		"quick strike recovery is a single round interval")
}

func TestSkillRejectedWhileRecovering(t *testing.T) {
	src := &countingSrc{fakeSrc: maxSrc()}
	c, _ := newSkillFight(t, src)

	ok, _ := c.UseSkill("alice", combat.SkillHeavyStrike, "goblin")
	require.True(t, ok)

	defOK, _ := c.PerformDefend("goblin")
	require.True(t, defOK)

	ok, msg := c.UseSkill("alice", combat.SkillQuickStrike, "goblin")
	assert.False(t, ok, "wait state blocks all skills, not just the one used")
	assert.Contains(t, msg, "recovering")
}

func TestDisarmContest(t *testing.T) {
	t.Run("success applies disarmed", func(t *testing.T) {
		src := &countingSrc{fakeSrc: maxSrc()}
		c, rec := newSkillFight(t, src)

		ok, msg := c.UseSkill("alice", combat.SkillDisarm, "goblin")
		require.True(t, ok)
		assert.Contains(t, msg, "disarm")
		assert.Contains(t, c.GetParticipant("goblin").Effects, "disarmed")
		assert.True(t, rec.contains("weapon flying"))

		alice := c.GetParticipant("alice")
		assert.True(t, alice.WaitUntil.IsZero(), "disarm has no recovery cost")
	})

	t.Run("failure leaves target untouched", func(t *testing.T) {
		// Roll 1 + DEX 14 (+2) = 3 against 10 + goblin DEX 8 (-1) = 9.
		src := &countingSrc{fakeSrc: minSrc()}
		c, _ := newSkillFight(t, src)

		ok, msg := c.UseSkill("alice", combat.SkillDisarm, "goblin")
		assert.False(t, ok)
		assert.Contains(t, msg, "fail to disarm")
		assert.NotContains(t, c.GetParticipant("goblin").Effects, "disarmed")
		assert.True(t, c.GetParticipant("alice").IsSkillOnCooldown(combat.SkillDisarm, time.Now()),
			"the failed attempt still consumed the cooldown")
	})
}

func TestTripAppliesProne(t *testing.T) {
	src := &countingSrc{fakeSrc: maxSrc()}
	c, rec := newSkillFight(t, src)

	ok, msg := c.UseSkill("alice", combat.SkillTrip, "goblin")
	require.True(t, ok)
	assert.Contains(t, msg, "trip")

	goblin := c.GetParticipant("goblin")
	assert.Equal(t, -2, goblin.Effects["prone"], "prone carries its to-hit penalty as the value")
	assert.True(t, rec.contains("sprawling"))
}

func TestManualModeSkillObeysTurnOrder(t *testing.T) {
	src := &countingSrc{fakeSrc: maxSrc()}
	c, _ := newSkillFight(t, src)

	// Alice won initiative; the goblin cannot jump the queue.
	ok, msg := c.UseSkill("goblin", combat.SkillQuickStrike, "alice")
	assert.False(t, ok)
	assert.Contains(t, msg, "not your turn")

	// A rejected skill leaves the turn open...
	ok, _ = c.UseSkill("alice", combat.SkillTrip, "alice")
	require.False(t, ok, "self-targeting is rejected")

	// ...while an actual attempt, hit or miss, consumes it.
	ok, _ = c.UseSkill("alice", combat.SkillTrip, "goblin")
	require.True(t, ok)

	ok, msg = c.UseSkill("alice", combat.SkillDisarm, "goblin")
	assert.False(t, ok, "the trip attempt consumed Alice's turn")
	assert.Contains(t, msg, "not your turn")
}

func TestSkillEffectValuesComeFromRegistry(t *testing.T) {
	// Register a knocked_down definition with a non-default value; the
	// skill must store that value, not a hard-coded one.
	reg := effect.Builtin()
	reg.Register(&effect.Definition{
		ID:              effect.KnockedDown,
		Name:            "Knocked Down",
		Value:           3,
		ClearAtRoundEnd: true,
	})
	deps := testDeps(&countingSrc{fakeSrc: maxSrc()}, &recorder{})
	deps.Effects = reg

	c := combat.NewCombat("arena", combat.ModeManual, deps)
	_, err := c.AddParticipant("alice", "Alice", false, "goblin",
		newStubEntity(50, map[string]int{"strength": 16, "dexterity": 14}))
	require.NoError(t, err)
	_, err = c.AddParticipant("goblin", "a goblin", true, "alice",
		newStubNPC(30, map[string]int{"dexterity": 8}, combat.Profile{}))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	ok, _ := c.UseSkill("alice", combat.SkillHeavyStrike, "goblin")
	require.True(t, ok)
	assert.Equal(t, 3, c.GetParticipant("goblin").Effects["knocked_down"])
}

func TestSkillKillTriggersDeathHandling(t *testing.T) {
	deaths := &deathRecorder{}
	rec := &recorder{}
	deps := testDeps(&countingSrc{fakeSrc: maxSrc()}, rec)
	deps.Deaths = deaths

	c := combat.NewCombat("arena", combat.ModeManual, deps)
	_, err := c.AddParticipant("alice", "Alice", false, "goblin",
		newStubEntity(50, map[string]int{"dexterity": 14}))
	require.NoError(t, err)
	_, err = c.AddParticipant("goblin", "a goblin", true, "alice",
		newStubNPC(1, nil, combat.Profile{}))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	ok, _ := c.UseSkill("alice", combat.SkillQuickStrike, "goblin")
	require.True(t, ok)

	assert.Equal(t, []string{"goblin<-alice"}, deaths.snapshot())
	assert.True(t, rec.contains("SLAIN"))
	assert.Equal(t, combat.StateEnded, c.State(),
		"removing the last NPC ends the fight")
}

func TestUseSkillOutsideActiveFight(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	_, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	require.NoError(t, err)

	ok, msg := c.UseSkill("alice", combat.SkillTrip, "goblin")
	assert.False(t, ok, "skills require an active fight")
	assert.Contains(t, msg, "no fight")
}
