package combat_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/combat"
	"github.com/waystonemud/waystone/internal/game/dice"
)

// fakeSrc is a scriptable randomness source. It pops queued values first,
// then falls back to def. Values are clamped to the requested range, so a
// queued 19 yields a d20 roll of 20 and a d6 roll of 6.
type fakeSrc struct {
	mu   sync.Mutex
	vals []int
	def  int
}

func (f *fakeSrc) Intn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.def
	if len(f.vals) > 0 {
		v = f.vals[0]
		f.vals = f.vals[1:]
	}
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// maxSrc always rolls the highest face (nat 20s, 6s on d6).
func maxSrc() *fakeSrc { return &fakeSrc{def: 1 << 20} }

// minSrc always rolls the lowest face (nat 1s).
func minSrc() *fakeSrc { return &fakeSrc{def: 0} }

// recorder is a thread-safe Broadcaster capturing every room message.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) BroadcastToRoom(_, message, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
}

func (r *recorder) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func (r *recorder) contains(substr string) bool { return r.count(substr) > 0 }

// stubEntity implements combat.Entity with fixed attributes and mutable HP.
type stubEntity struct {
	mu    sync.Mutex
	attrs map[string]int
	hp    int
	maxHP int
}

func newStubEntity(hp int, attrs map[string]int) *stubEntity {
	return &stubEntity{attrs: attrs, hp: hp, maxHP: hp}
}

func (e *stubEntity) Attribute(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.attrs[name]; ok {
		return v
	}
	return 10
}

func (e *stubEntity) HitPoints() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hp, e.maxHP
}

func (e *stubEntity) ApplyDamage(amount int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hp -= amount
	if e.hp < 0 {
		e.hp = 0
	}
	return e.hp
}

// stubNPC adds combat instincts and grudge memory to a stubEntity.
type stubNPC struct {
	*stubEntity
	profile combat.Profile

	grudgeMu     sync.Mutex
	lastAttacker string
}

func newStubNPC(hp int, attrs map[string]int, profile combat.Profile) *stubNPC {
	return &stubNPC{stubEntity: newStubEntity(hp, attrs), profile: profile}
}

func (n *stubNPC) CombatProfile() combat.Profile { return n.profile }

func (n *stubNPC) LastAttacker() string {
	n.grudgeMu.Lock()
	defer n.grudgeMu.Unlock()
	return n.lastAttacker
}

func (n *stubNPC) NoteAttacker(id string) {
	n.grudgeMu.Lock()
	defer n.grudgeMu.Unlock()
	n.lastAttacker = id
}

func testDeps(src dice.Source, b combat.Broadcaster) combat.Deps {
	logger := zap.NewNop()
	return combat.Deps{
		Roller:      dice.NewLoggedRoller(src, logger),
		Broadcaster: b,
		Logger:      logger,
		Config: combat.Config{
			RoundInterval:       10 * time.Millisecond,
			TurnTimeout:         time.Hour,
			FleeThreshold:       10,
			ManualFleeThreshold: 12,
		},
	}
}

func TestAddParticipantRollsInitiative(t *testing.T) {
	rec := &recorder{}
	// d20 roll of 15, DEX 12 gives +1: initiative 16.
	c := combat.NewCombat("arena", combat.ModeAuto, testDeps(&fakeSrc{vals: []int{14}}, rec))

	p, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, map[string]int{"dexterity": 12}))
	require.NoError(t, err, "adding a fresh participant should succeed")
	assert.Equal(t, 16, p.Initiative, "initiative should be d20 roll plus DEX modifier")
}

func TestAddParticipantRejectsDuplicate(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeAuto, testDeps(maxSrc(), &recorder{}))

	_, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	require.NoError(t, err)

	_, err = c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	assert.ErrorIs(t, err, combat.ErrDuplicateParticipant,
		"adding the same entity twice should be rejected")
}

func TestStartOrdersByInitiativeDescending(t *testing.T) {
	// Alice rolls 15 with DEX 12 (+1) = 16; the goblin rolls 10 with
	// DEX 8 (-1) = 9. Alice acts first despite joining first or last.
	src := &fakeSrc{vals: []int{14, 9}}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(src, &recorder{}))
	_, err := c.AddParticipant("alice", "Alice", false, "goblin-1",
		newStubEntity(50, map[string]int{"strength": 16, "dexterity": 12}))
	require.NoError(t, err)
	_, err = c.AddParticipant("goblin-1", "a goblin", true, "alice",
		newStubEntity(20, map[string]int{"dexterity": 8}))
	require.NoError(t, err)

	require.NoError(t, c.Start())

	order := c.Participants()
	require.Len(t, order, 2)
	assert.Equal(t, "Alice", order[0].Name, "higher initiative acts first")
	assert.Equal(t, 16, order[0].Initiative)
	assert.Equal(t, "a goblin", order[1].Name)
	assert.Equal(t, 9, order[1].Initiative)
}

func TestStartTieKeepsJoinOrder(t *testing.T) {
	// Both participants roll the same die and have the same DEX.
	src := &fakeSrc{vals: []int{9, 9}}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(src, &recorder{}))

	_, err := c.AddParticipant("first", "First", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("second", "Second", true, "", newStubEntity(50, nil))
	require.NoError(t, err)

	require.NoError(t, c.Start())

	order := c.Participants()
	assert.Equal(t, "First", order[0].Name, "initiative ties keep join order")
	assert.Equal(t, "Second", order[1].Name)
}

func TestStartTwiceFails(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	_, err := c.AddParticipant("a", "A", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("b", "B", true, "", newStubEntity(50, nil))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), combat.ErrAlreadyStarted,
		"a second start call should report a caller defect")
}

func TestEndCombatIsIdempotent(t *testing.T) {
	rec := &recorder{}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), rec))

	c.EndCombat("test")
	c.EndCombat("test again")

	assert.Equal(t, combat.StateEnded, c.State())
	assert.Equal(t, "test", c.EndReason(), "first reason wins")
	assert.Equal(t, 1, rec.count("Combat has ended"),
		"end broadcast should fire exactly once")
}

func TestSwitchTargetValidation(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	_, err := c.AddParticipant("a", "A", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("b", "B", true, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("c", "C", true, "", newStubEntity(50, nil))
	require.NoError(t, err)

	assert.False(t, c.SwitchTarget("a", "a"), "self-targeting must fail")
	assert.False(t, c.SwitchTarget("a", "nobody"), "unknown target must fail")

	ok, _ := c.AttemptFlee("c")
	require.True(t, ok, "max roll always beats the flee threshold")
	assert.False(t, c.SwitchTarget("a", "c"), "fled target must fail")

	assert.True(t, c.SwitchTarget("a", "b"))
	assert.Equal(t, "b", c.GetParticipant("a").TargetID)
}

func TestAttemptFleeSuccessAndFailure(t *testing.T) {
	t.Run("roll of 20 succeeds", func(t *testing.T) {
		rec := &recorder{}
		src := maxSrc()
		c := combat.NewCombat("arena", combat.ModeAuto, testDeps(src, rec))
		_, err := c.AddParticipant("a", "A", false, "", newStubEntity(50, nil))
		require.NoError(t, err)

		ok, _ := c.AttemptFlee("a")
		assert.True(t, ok)
		assert.True(t, c.GetParticipant("a").Fled)
		assert.True(t, rec.contains("flees from combat"))
	})

	t.Run("roll of 1 fails and sets wait state", func(t *testing.T) {
		rec := &recorder{}
		c := combat.NewCombat("arena", combat.ModeAuto, testDeps(minSrc(), rec))
		_, err := c.AddParticipant("a", "A", false, "", newStubEntity(50, nil))
		require.NoError(t, err)

		before := time.Now()
		ok, _ := c.AttemptFlee("a")
		assert.False(t, ok)

		p := c.GetParticipant("a")
		assert.False(t, p.Fled)
		require.False(t, p.WaitUntil.IsZero(), "failed flee must set a wait state")
		wait := p.WaitUntil.Sub(before)
		assert.GreaterOrEqual(t, wait, 10*time.Millisecond,
			"wait state should be at least one round interval")
		assert.Less(t, wait, time.Second)
		assert.True(t, rec.contains("fails to flee"))
	})

	t.Run("unknown entity", func(t *testing.T) {
		c := combat.NewCombat("arena", combat.ModeAuto, testDeps(maxSrc(), &recorder{}))
		ok, msg := c.AttemptFlee("ghost")
		assert.False(t, ok)
		assert.Contains(t, msg, "not in this fight")
	})
}

func TestFindParticipantByKeyword(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	_, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("rat-1", "a sewer rat", true, "", newStubEntity(10, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("rat-2", "a sewer rat", true, "", newStubEntity(10, nil))
	require.NoError(t, err)

	p := c.FindParticipantByKeyword("rat", "alice")
	require.NotNil(t, p)
	assert.Equal(t, "rat-1", p.EntityID, "first match wins without an index prefix")

	p = c.FindParticipantByKeyword("2.rat", "alice")
	require.NotNil(t, p)
	assert.Equal(t, "rat-2", p.EntityID, "N.keyword selects the Nth match")

	assert.Nil(t, c.FindParticipantByKeyword("dragon", "alice"))
	assert.Nil(t, c.FindParticipantByKeyword("alice", "alice"), "searcher is excluded")
}

type deathRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (d *deathRecorder) HandleDeath(c *combat.Combat, victimID, killerID string) {
	d.mu.Lock()
	d.calls = append(d.calls, victimID+"<-"+killerID)
	d.mu.Unlock()
	c.RemoveParticipant(victimID)
}

func (d *deathRecorder) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func TestAutoRoundLoopKillsAndEnds(t *testing.T) {
	rec := &recorder{}
	deaths := &deathRecorder{}
	deps := testDeps(maxSrc(), rec)
	deps.Deaths = deaths

	c := combat.NewCombat("arena", combat.ModeAuto, deps)
	_, err := c.AddParticipant("alice", "Alice", false, "goblin-1",
		newStubEntity(500, map[string]int{"strength": 16}))
	require.NoError(t, err)
	_, err = c.AddParticipant("goblin-1", "a goblin", true, "alice",
		newStubNPC(1, nil, combat.Profile{}))
	require.NoError(t, err)

	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return c.State() == combat.StateEnded },
		2*time.Second, 5*time.Millisecond, "the fight should resolve after the goblin dies")

	assert.Equal(t, []string{"goblin-1<-alice"}, deaths.snapshot())
	assert.True(t, rec.contains("SLAIN"), "death should be announced to the room")
	assert.Equal(t, "no remaining valid participants", c.EndReason())

	// EndCombat after the loop has exited joins immediately.
	c.EndCombat("late")
	assert.Equal(t, "no remaining valid participants", c.EndReason())
}

func TestFightWithoutPlayersEndsImmediately(t *testing.T) {
	rec := &recorder{}
	// Misses only, so neither goblin dies; the fight still ends because
	// the player side is empty.
	c := combat.NewCombat("arena", combat.ModeAuto, testDeps(minSrc(), rec))
	_, err := c.AddParticipant("g1", "goblin one", true, "g2", newStubEntity(20, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("g2", "goblin two", true, "g1", newStubEntity(20, nil))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.State() == combat.StateEnded },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "resolved", c.EndReason())
}

func TestFleeEndsTwoPartyFight(t *testing.T) {
	rec := &recorder{}
	// Alice rolls 20 for initiative, the goblin 1, and the queued 20
	// covers Alice's flee roll (DC 12 in manual mode).
	src := &fakeSrc{vals: []int{19, 0, 19}}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(src, rec))
	_, err := c.AddParticipant("alice", "Alice", false, "g1", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("g1", "a goblin", true, "alice", newStubEntity(20, nil))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	cur := c.CurrentTurn()
	require.NotNil(t, cur)
	require.Equal(t, "alice", cur.EntityID)

	ok, _ := c.PerformFlee("alice")
	require.True(t, ok, "a natural 20 always escapes")

	assert.Equal(t, combat.StateEnded, c.State(),
		"one active participant left fails the continuation check")
	assert.Equal(t, "no remaining valid participants", c.EndReason())
}

func TestRemoveParticipantEndsFight(t *testing.T) {
	rec := &recorder{}
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(minSrc(), rec))
	_, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("g1", "a goblin", true, "", newStubEntity(20, nil))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	c.RemoveParticipant("g1")

	assert.Equal(t, combat.StateEnded, c.State())
	assert.Equal(t, "no remaining valid participants", c.EndReason())
	assert.Nil(t, c.GetParticipant("g1"))
	assert.True(t, c.IsCharacterInCombat("alice"), "survivors stay on the record")
}

func TestStatusSnapshot(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	assert.Contains(t, c.Status(), "set up")

	_, err := c.AddParticipant("alice", "Alice", false, "", newStubEntity(50, nil))
	require.NoError(t, err)
	_, err = c.AddParticipant("g1", "a goblin", true, "", newStubEntity(20, nil))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	status := c.Status()
	assert.Contains(t, status, "Alice")
	assert.Contains(t, status, "a goblin")
	assert.Contains(t, status, "Round 1")

	c.EndCombat("test")
	assert.Contains(t, c.Status(), "ended")
}

func TestDamageShares(t *testing.T) {
	deaths := &deathRecorder{}
	deps := testDeps(maxSrc(), &recorder{})
	deps.Deaths = deaths

	c := combat.NewCombat("arena", combat.ModeAuto, deps)
	_, err := c.AddParticipant("alice", "Alice", false, "g1",
		newStubEntity(500, map[string]int{"strength": 16}))
	require.NoError(t, err)
	_, err = c.AddParticipant("g1", "a goblin", true, "alice", newStubNPC(1, nil, combat.Profile{}))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return c.State() == combat.StateEnded },
		2*time.Second, 5*time.Millisecond)

	shares := c.DamageShares()
	require.Contains(t, shares, "alice")
	assert.Greater(t, shares["alice"], 0, "the killer carries a damage share")
}

func TestWimpyNPCFleesWhenHurt(t *testing.T) {
	rec := &recorder{}
	// All max rolls: the goblin's flee roll always succeeds once wimpy
	// kicks in, and Alice always hits.
	c := combat.NewCombat("arena", combat.ModeAuto, testDeps(maxSrc(), rec))
	_, err := c.AddParticipant("alice", "Alice", false, "g1",
		newStubEntity(500, map[string]int{"strength": 16}))
	require.NoError(t, err)
	// 1000 HP so crits never kill it before wimpy triggers at 20%.
	goblin := newStubNPC(1000, nil, combat.Profile{WimpyThreshold: 0.2})
	goblin.stubEntity.hp = 100 // hurt enough that one hit drops it below 20% of max
	_, err = c.AddParticipant("g1", "a goblin", true, "alice", goblin)
	require.NoError(t, err)

	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return c.State() == combat.StateEnded },
		2*time.Second, 5*time.Millisecond)
	assert.True(t, rec.contains("flees from combat"), "a badly hurt wimpy NPC runs away")
	p := c.GetParticipant("g1")
	require.NotNil(t, p)
	assert.True(t, p.Fled)
}

func TestErrCombatEndedOnLateAdd(t *testing.T) {
	c := combat.NewCombat("arena", combat.ModeManual, testDeps(maxSrc(), &recorder{}))
	c.EndCombat("done")

	_, err := c.AddParticipant("late", "Latecomer", false, "", newStubEntity(50, nil))
	require.Error(t, err)
	assert.False(t, errors.Is(err, combat.ErrDuplicateParticipant))
}
