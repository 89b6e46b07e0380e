package combat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/dice"
	"github.com/waystonemud/waystone/internal/game/effect"
)

type stepSrc struct{ v int }

func (s *stepSrc) Intn(n int) int {
	if s.v >= n {
		return n - 1
	}
	return s.v
}

func newTestCombat(src dice.Source) *Combat {
	logger := zap.NewNop()
	return NewCombat("test-room", ModeAuto, Deps{
		Roller:  dice.NewLoggedRoller(src, logger),
		Effects: effect.Builtin(),
		Logger:  logger,
		Config: Config{
			RoundInterval:       10 * time.Millisecond,
			TurnTimeout:         time.Hour,
			FleeThreshold:       10,
			ManualFleeThreshold: 12,
		},
	})
}

func TestSortByInitiativeDescIsStable(t *testing.T) {
	ps := []*Participant{
		{EntityID: "a", Initiative: 5},
		{EntityID: "b", Initiative: 12},
		{EntityID: "c", Initiative: 12},
		{EntityID: "d", Initiative: 3},
	}
	sortByInitiativeDesc(ps)

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.EntityID
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids,
		"ties between b and c must keep their insertion order")
}

func TestContinuesLocked(t *testing.T) {
	cases := []struct {
		name     string
		setup    []*Participant
		expected bool
	}{
		{
			name: "player vs npc continues",
			setup: []*Participant{
				{EntityID: "p", IsNPC: false},
				{EntityID: "n", IsNPC: true},
			},
			expected: true,
		},
		{
			name: "single active participant ends",
			setup: []*Participant{
				{EntityID: "p", IsNPC: false},
				{EntityID: "n", IsNPC: true, Fled: true},
			},
			expected: false,
		},
		{
			name: "all npcs ends",
			setup: []*Participant{
				{EntityID: "n1", IsNPC: true},
				{EntityID: "n2", IsNPC: true},
			},
			expected: false,
		},
		{
			name: "all players ends",
			setup: []*Participant{
				{EntityID: "p1", IsNPC: false},
				{EntityID: "p2", IsNPC: false},
			},
			expected: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCombat(&stepSrc{v: 10})
			c.participants = tc.setup
			assert.Equal(t, tc.expected, c.continuesLocked())
		})
	}
}

func TestExecuteRoundSkipsRecoveringAndResetsRoundState(t *testing.T) {
	c := newTestCombat(&stepSrc{v: 0}) // nat 1s: every swing misses
	c.state = StateActive

	recovering := &Participant{
		EntityID:  "slow",
		Name:      "Slowpoke",
		TargetID:  "other",
		WaitUntil: time.Now().Add(time.Hour),
		Effects:   map[string]int{},
		Cooldowns: map[string]time.Time{},
	}
	defender := &Participant{
		EntityID:    "other",
		Name:        "Other",
		IsNPC:       true,
		IsDefending: true,
		Effects:     map[string]int{effect.Prone: -2, effect.Disarmed: 1},
		Cooldowns:   map[string]time.Time{},
	}
	c.participants = []*Participant{recovering, defender}

	c.executeRound()

	assert.Equal(t, 1, c.roundNumber)
	assert.False(t, defender.IsDefending, "defending resets at round end")
	assert.NotContains(t, defender.Effects, effect.Prone, "prone clears at round end")
	assert.Contains(t, defender.Effects, effect.Disarmed, "disarmed persists across rounds")
	assert.True(t, recovering.WaitUntil.After(time.Now()),
		"an unexpired wait state is left in place")
}

func TestExecuteRoundClearsExpiredWaitState(t *testing.T) {
	c := newTestCombat(&stepSrc{v: 0})
	c.state = StateActive

	p := &Participant{
		EntityID:  "p",
		Name:      "P",
		WaitUntil: time.Now().Add(-time.Second),
		Effects:   map[string]int{},
		Cooldowns: map[string]time.Time{},
	}
	c.participants = []*Participant{p}

	c.executeRound()
	assert.True(t, p.WaitUntil.IsZero(), "an expired wait state is cleared on the next round")
}

func TestNPCTargetsLastAttackerFirst(t *testing.T) {
	c := newTestCombat(&stepSrc{v: 10})

	grudge := &grudgeEntity{last: "bob"}
	npc := &Participant{EntityID: "n", Name: "N", IsNPC: true, Entity: grudge,
		Effects: map[string]int{}, Cooldowns: map[string]time.Time{}}
	alice := &Participant{EntityID: "alice", Name: "Alice",
		Effects: map[string]int{}, Cooldowns: map[string]time.Time{}}
	bob := &Participant{EntityID: "bob", Name: "Bob",
		Effects: map[string]int{}, Cooldowns: map[string]time.Time{}}
	c.participants = []*Participant{npc, alice, bob}

	c.pickNPCTargetLocked(npc)
	assert.Equal(t, "bob", npc.TargetID, "the grudge target wins over random selection")

	// A fled grudge target falls back to a random player.
	bob.Fled = true
	npc.TargetID = ""
	c.pickNPCTargetLocked(npc)
	assert.Equal(t, "alice", npc.TargetID)
}

type grudgeEntity struct{ last string }

func (g *grudgeEntity) Attribute(string) int   { return 10 }
func (g *grudgeEntity) HitPoints() (int, int)  { return 50, 50 }
func (g *grudgeEntity) ApplyDamage(int) int    { return 50 }
func (g *grudgeEntity) LastAttacker() string   { return g.last }
func (g *grudgeEntity) NoteAttacker(id string) { g.last = id }

func TestProneEffectPenalizesAttackRoll(t *testing.T) {
	// Raw roll 12 with prone's -2 totals exactly 10: meets base defense,
	// misses once the defender's stance raises it to 15.
	c := newTestCombat(&stepSrc{v: 11})
	c.state = StateActive

	attacker := &Participant{EntityID: "a", Name: "A",
		Effects: map[string]int{effect.Prone: -2}, Cooldowns: map[string]time.Time{}}
	defTarget := &Participant{EntityID: "d", Name: "D", IsNPC: true,
		Entity:  &grudgeEntity{},
		Effects: map[string]int{}, Cooldowns: map[string]time.Time{}}
	c.participants = []*Participant{attacker, defTarget}

	rec := &countingBroadcaster{}
	c.broadcaster = rec

	// defense 10, attack total 12-2 = 10: still a hit (meets threshold).
	c.executeAttackLocked(attacker, defTarget)
	require.Equal(t, 0, rec.misses, "total meeting the threshold hits")

	// While defending, defense is 15 and the prone attacker misses.
	defTarget.IsDefending = true
	c.executeAttackLocked(attacker, defTarget)
	assert.Equal(t, 1, rec.misses)
}

type countingBroadcaster struct{ misses int }

func (b *countingBroadcaster) BroadcastToRoom(_, message, _ string) {
	if strings.Contains(message, "misses") {
		b.misses++
	}
}
