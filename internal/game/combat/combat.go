package combat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/dice"
	"github.com/waystonemud/waystone/internal/game/effect"
)

// State is a combat lifecycle state.
type State int

const (
	// StateSetup is the initial state: participants may join freely.
	StateSetup State = iota
	// StateActive means the round loop is running and turn order is frozen.
	StateActive
	// StateEnded is terminal; no further mutation is permitted.
	StateEnded
)

// String returns a human-readable state label.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Mode selects how a fight advances.
type Mode int

const (
	// ModeAuto runs the autonomous fixed-interval round loop.
	ModeAuto Mode = iota
	// ModeManual advances turn by turn on explicit player actions, with a
	// per-turn timeout that defaults to a defensive stance.
	ModeManual
)

// Broadcaster delivers combat messages to everyone in a room. Implementations
// must be fire-and-forget: never block the caller and never surface delivery
// failures to the combat core.
type Broadcaster interface {
	// BroadcastToRoom sends message to every occupant of roomID except
	// excludeID (no exclusion when excludeID is "").
	BroadcastToRoom(roomID, message, excludeID string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToRoom(string, string, string) {}

// DeathHandler resolves a participant whose hit points reached zero. It is
// invoked outside the combat lock and must either remove the entity from
// future rounds (via RemoveParticipant) or restore it to a playable state
// before the next round begins.
type DeathHandler interface {
	HandleDeath(c *Combat, victimID, killerID string)
}

// Hooks receive combat lifecycle notifications. Any field may be nil.
// Hooks are called outside the combat lock; they must not retain the
// participant slice.
type Hooks struct {
	OnStart func(roomID string, order []string)
	OnEnd   func(roomID, reason string, rounds int)
	OnDeath func(roomID, victimID, killerID string)
}

// Config holds the tunable combat timings.
type Config struct {
	// RoundInterval is the fixed delay between automatic rounds.
	RoundInterval time.Duration
	// TurnTimeout is the manual-mode action window before the default
	// defend action fires.
	TurnTimeout time.Duration
	// FleeThreshold is the d20+DEX total required to flee in auto mode.
	FleeThreshold int
	// ManualFleeThreshold is the flee DC in manual mode.
	ManualFleeThreshold int
}

// DefaultConfig returns the stock combat timings: 3-second rounds (the ROM
// violence pulse), 30-second manual turns, flee DC 10 auto / 12 manual.
func DefaultConfig() Config {
	return Config{
		RoundInterval:       3 * time.Second,
		TurnTimeout:         30 * time.Second,
		FleeThreshold:       10,
		ManualFleeThreshold: 12,
	}
}

// Deps bundles the collaborators a Combat needs. Zero-value fields are
// replaced with safe defaults by NewCombat.
type Deps struct {
	Roller      *dice.Roller
	Effects     *effect.Registry
	Broadcaster Broadcaster
	Deaths      DeathHandler
	Hooks       Hooks
	Logger      *zap.Logger
	Now         func() time.Time
	Config      Config
}

// ErrDuplicateParticipant is returned when an entity is added to a fight it
// is already part of.
var ErrDuplicateParticipant = errors.New("participant already in combat")

// ErrAlreadyStarted is returned when Start is called outside SETUP.
var ErrAlreadyStarted = errors.New("combat already started")

// death records a pending death resolution produced while the combat lock
// was held.
type death struct {
	victimID string
	killerID string
}

// Combat coordinates one fight: its participant list, initiative order, and
// round-advancement state machine. All exported methods are safe for
// concurrent use; the round loop and command-layer calls serialize on a
// per-Combat mutex.
type Combat struct {
	// ID uniquely identifies this fight in logs.
	ID string
	// RoomID is the fight's location.
	RoomID string

	mode        Mode
	roller      *dice.Roller
	effects     *effect.Registry
	broadcaster Broadcaster
	deaths      DeathHandler
	hooks       Hooks
	logger      *zap.Logger
	now         func() time.Time
	cfg         Config

	// claim and release enforce the one-combat-per-entity invariant; wired
	// by the Registry, nil for standalone fights.
	claim   func(entityID string, c *Combat) error
	release func(entityID string)
	// onEnded notifies the Registry when the fight ends.
	onEnded func(c *Combat)

	// ended mirrors state == StateEnded; readable without mu so the
	// Registry can inspect fights while holding its own lock.
	ended atomic.Bool

	mu           sync.Mutex
	state        State
	participants []*Participant
	roundNumber  int
	createdAt    time.Time
	endReason    string
	pending      []death

	cancel context.CancelFunc
	done   chan struct{}

	// manual-mode turn tracking
	turnIndex int
	turnTimer *TurnTimer
}

// NewCombat creates a fight for roomID in SETUP state. It does not start
// the round loop; call Start after adding participants.
func NewCombat(roomID string, mode Mode, deps Deps) *Combat {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Roller == nil {
		deps.Roller = dice.NewLoggedRoller(dice.NewCryptoSource(), deps.Logger)
	}
	if deps.Effects == nil {
		deps.Effects = effect.Builtin()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = nopBroadcaster{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config == (Config{}) {
		deps.Config = DefaultConfig()
	}

	c := &Combat{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		mode:        mode,
		roller:      deps.Roller,
		effects:     deps.Effects,
		broadcaster: deps.Broadcaster,
		deaths:      deps.Deaths,
		hooks:       deps.Hooks,
		logger:      deps.Logger.With(zap.String("room_id", roomID)),
		now:         deps.Now,
		cfg:         deps.Config,
		createdAt:   deps.Now(),
	}
	c.logger.Info("combat created", zap.String("combat_id", c.ID))
	return c
}

// State returns the current lifecycle state.
func (c *Combat) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ended reports whether the fight has reached ENDED. Unlike State it never
// takes the combat lock, so it is safe to call from Registry internals.
func (c *Combat) Ended() bool {
	return c.ended.Load()
}

// RoundNumber returns the current round count.
func (c *Combat) RoundNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundNumber
}

// EndReason returns the recorded end reason, or "" while the fight runs.
func (c *Combat) EndReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

// AddParticipant adds an entity to the fight, rolling its initiative from
// its current dexterity modifier. Callable in SETUP and, for late joiners,
// during ACTIVE; late joiners are appended without re-sorting.
//
// Returns ErrDuplicateParticipant if the entity is already in this fight,
// or the Registry's error if it is active in another fight.
func (c *Combat) AddParticipant(entityID, name string, isNPC bool, targetID string, ent Entity) (*Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnded {
		return nil, fmt.Errorf("combat in room %q has ended", c.RoomID)
	}
	if c.findLocked(entityID) != nil {
		return nil, fmt.Errorf("entity %q: %w", entityID, ErrDuplicateParticipant)
	}
	if c.claim != nil {
		if err := c.claim(entityID, c); err != nil {
			return nil, err
		}
	}

	p := newParticipant(entityID, name, isNPC, targetID, ent)
	dexMod := dice.AttributeModifier(p.attribute("dexterity"))
	p.Initiative = dice.RollInitiative(c.roller.Source(), dexMod)
	c.participants = append(c.participants, p)

	c.logger.Info("participant added",
		zap.String("entity_id", entityID),
		zap.String("entity_name", name),
		zap.Bool("is_npc", isNPC),
		zap.Int("initiative", p.Initiative),
	)
	return p, nil
}

// RemoveParticipant removes an entity by identity. If the removal causes the
// continuation check to fail, the fight ends with reason "no remaining valid
// participants". Removing an unknown entity is a logged no-op.
func (c *Combat) RemoveParticipant(entityID string) {
	c.mu.Lock()
	p := c.findLocked(entityID)
	if p == nil {
		c.mu.Unlock()
		c.logger.Warn("participant not found for removal", zap.String("entity_id", entityID))
		return
	}
	kept := c.participants[:0]
	for _, q := range c.participants {
		if q.EntityID != entityID {
			kept = append(kept, q)
		}
	}
	c.participants = kept
	if c.release != nil {
		c.release(entityID)
	}
	ended := c.state == StateActive && !c.continuesLocked()
	if ended {
		c.markEndedLocked("no remaining valid participants")
	}
	c.mu.Unlock()

	c.logger.Info("participant removed",
		zap.String("entity_id", entityID),
		zap.String("entity_name", p.Name),
	)
	if ended {
		c.announceEnd()
	}
}

// GetParticipant returns the participant with the given entity ID, or nil.
func (c *Combat) GetParticipant(entityID string) *Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(entityID)
}

// IsCharacterInCombat reports whether the entity is part of this fight.
func (c *Combat) IsCharacterInCombat(entityID string) bool {
	return c.GetParticipant(entityID) != nil
}

// FindParticipantByKeyword resolves a player-typed keyword to a non-fled
// participant. Keywords match case-insensitive name substrings; the
// "N.keyword" prefix selects the Nth match ("2.rat" is the second rat).
// excludeID (usually the searcher) is skipped.
func (c *Combat) FindParticipantByKeyword(keyword, excludeID string) *Participant {
	targetIndex := 1
	search := strings.ToLower(keyword)
	if dot := strings.Index(keyword, "."); dot > 0 {
		if n, err := strconv.Atoi(keyword[:dot]); err == nil {
			targetIndex = n
			if targetIndex < 1 {
				targetIndex = 1
			}
			search = strings.ToLower(keyword[dot+1:])
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	matches := 0
	for _, p := range c.participants {
		if p.Fled || p.EntityID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), search) {
			matches++
			if matches == targetIndex {
				return p
			}
		}
	}
	return nil
}

// Participants returns a snapshot of the participant list in turn order.
func (c *Combat) Participants() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// DamageShares returns each non-fled player participant's damage tally,
// used by death handlers to split XP.
func (c *Combat) DamageShares() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	shares := make(map[string]int)
	for _, p := range c.participants {
		if !p.IsNPC && !p.Fled && p.DamageDealt > 0 {
			shares[p.EntityID] = p.DamageDealt
		}
	}
	return shares
}

// Start freezes turn order (initiative descending, ties by join order) and
// transitions SETUP → ACTIVE. In auto mode it spawns the round loop; in
// manual mode it notifies the first turn and arms the turn timer.
//
// Returns ErrAlreadyStarted (after logging a warning) when not in SETUP.
func (c *Combat) Start() error {
	c.mu.Lock()
	if c.state != StateSetup {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("start called on non-setup combat", zap.Stringer("state", state))
		return ErrAlreadyStarted
	}

	sortByInitiativeDesc(c.participants)
	c.state = StateActive
	c.roundNumber = 0
	c.turnIndex = 0
	if c.mode == ModeManual {
		c.roundNumber = 1
	}

	order := make([]string, len(c.participants))
	lines := []string{"Initiative order:"}
	for i, p := range c.participants {
		order[i] = p.Name
		label := "Player"
		if p.IsNPC {
			label = "NPC"
		}
		lines = append(lines, fmt.Sprintf("  %s (%s): %d", p.Name, label, p.Initiative))
	}

	var ctx context.Context
	if c.mode == ModeAuto {
		ctx, c.cancel = context.WithCancel(context.Background())
		c.done = make(chan struct{})
	}
	c.mu.Unlock()

	c.broadcaster.BroadcastToRoom(c.RoomID, "\n=== Combat begins! ===", "")
	c.broadcaster.BroadcastToRoom(c.RoomID, strings.Join(lines, "\n"), "")
	c.logger.Info("combat started",
		zap.Int("participant_count", len(order)),
		zap.Strings("turn_order", order),
	)
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(c.RoomID, order)
	}

	if c.mode == ModeAuto {
		go c.run(ctx)
	} else {
		c.notifyTurn()
		c.armTurnTimer()
	}
	return nil
}

// EndCombat ends the fight, cancels the round loop, and waits for it to
// fully stop before returning, so no round executes after ENDED is set.
// Idempotent: the second and later calls only wait for shutdown.
func (c *Combat) EndCombat(reason string) {
	c.mu.Lock()
	transitioned := c.markEndedLocked(reason)
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transitioned {
		c.announceEnd()
	}
	if done != nil {
		<-done
	}
}

// markEndedLocked transitions to ENDED if not already there. Caller holds mu.
func (c *Combat) markEndedLocked(reason string) bool {
	if c.state == StateEnded {
		return false
	}
	c.state = StateEnded
	c.ended.Store(true)
	c.endReason = reason
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}
	return true
}

// requestEnd ends the fight without joining the round loop. Safe to call
// from within loop-invoked code paths; the loop observes ENDED and exits.
func (c *Combat) requestEnd(reason string) {
	c.mu.Lock()
	transitioned := c.markEndedLocked(reason)
	cancel := c.cancel
	c.mu.Unlock()

	if !transitioned {
		return
	}
	if cancel != nil {
		cancel()
	}
	c.announceEnd()
}

// announceEnd broadcasts and logs the fight's end. Called exactly once per
// fight, by whichever path won the ENDED transition.
func (c *Combat) announceEnd() {
	c.mu.Lock()
	reason := c.endReason
	rounds := c.roundNumber
	duration := c.now().Sub(c.createdAt)
	for _, p := range c.participants {
		if c.release != nil {
			c.release(p.EntityID)
		}
	}
	c.mu.Unlock()

	c.broadcaster.BroadcastToRoom(c.RoomID, "\n=== Combat has ended ===\n", "")
	c.logger.Info("combat ended",
		zap.String("reason", reason),
		zap.Int("rounds", rounds),
		zap.Duration("duration", duration),
	)
	if c.onEnded != nil {
		c.onEnded(c)
	}
	if c.hooks.OnEnd != nil {
		c.hooks.OnEnd(c.RoomID, reason, rounds)
	}
}

// run is the autonomous round loop. It executes a round, resolves any
// deaths it produced, checks continuation, then sleeps for the round
// interval. A panic mid-round is logged and treated as EndCombat("error").
func (c *Combat) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("combat round loop panicked",
				zap.Any("panic", r),
				zap.Int("round", c.RoundNumber()),
			)
			c.requestEnd("error")
		}
	}()

	for {
		c.executeRound()
		c.resolvePendingDeaths()

		c.mu.Lock()
		ended := c.state != StateActive
		shouldEnd := !ended && !c.continuesLocked()
		if shouldEnd {
			c.markEndedLocked("resolved")
		}
		c.mu.Unlock()

		if ended {
			return
		}
		if shouldEnd {
			c.announceEnd()
			return
		}

		select {
		case <-ctx.Done():
			c.logger.Info("combat round loop cancelled", zap.Int("round", c.RoundNumber()))
			return
		case <-time.After(c.cfg.RoundInterval):
		}
	}
}

// executeRound runs one full round: increments the round counter, gives each
// eligible participant its turn in fixed order, then resets defending flags
// and clears round-scoped effects.
func (c *Combat) executeRound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}

	c.roundNumber++
	c.broadcaster.BroadcastToRoom(c.RoomID, fmt.Sprintf("\n--- Round %d ---", c.roundNumber), "")
	c.logger.Debug("round executing",
		zap.Int("round", c.roundNumber),
		zap.Int("participant_count", len(c.participants)),
	)

	for _, p := range c.participants {
		if p.Fled {
			continue
		}
		if !p.WaitUntil.IsZero() {
			if c.now().Before(p.WaitUntil) {
				c.broadcaster.BroadcastToRoom(c.RoomID, p.Name+" is recovering...", "")
				continue
			}
			p.WaitUntil = time.Time{}
		}
		c.autoActionLocked(p)
	}

	for _, p := range c.participants {
		p.IsDefending = false
		c.effects.ClearRoundScoped(p.Effects)
	}
}

// autoActionLocked performs the default per-round action for p: NPCs follow
// their instincts, players swing at their current target.
func (c *Combat) autoActionLocked(p *Participant) {
	if p.IsNPC {
		c.npcActionLocked(p)
		return
	}
	if p.TargetID == "" {
		return
	}
	target := c.findLocked(p.TargetID)
	if target == nil || target.Fled {
		return
	}
	c.executeAttackLocked(p, target)
}

// npcActionLocked drives an NPC's turn: dead NPCs do nothing, badly hurt or
// passive ones try to flee, inert ones stand there, the rest pick a target
// and attack.
func (c *Combat) npcActionLocked(p *Participant) {
	hp, maxHP := p.hitPoints()
	if hp <= 0 {
		return
	}

	prof := p.profile()
	if prof.Inert {
		return
	}
	if prof.Passive {
		c.attemptFleeLocked(p)
		return
	}
	if prof.WimpyThreshold > 0 && maxHP > 0 &&
		float64(hp)/float64(maxHP) < prof.WimpyThreshold {
		c.attemptFleeLocked(p)
		return
	}

	if p.TargetID == "" {
		c.pickNPCTargetLocked(p)
	}
	if p.TargetID == "" {
		return
	}
	target := c.findLocked(p.TargetID)
	if target == nil || target.Fled {
		p.TargetID = ""
		return
	}
	c.executeAttackLocked(p, target)
}

// pickNPCTargetLocked selects a target: whoever last hit the NPC if still
// fighting, otherwise a random non-fled player.
func (c *Combat) pickNPCTargetLocked(p *Participant) {
	if g, ok := p.Entity.(Grudged); ok {
		if last := g.LastAttacker(); last != "" {
			if t := c.findLocked(last); t != nil && !t.Fled {
				p.TargetID = last
				return
			}
		}
	}
	var players []*Participant
	for _, q := range c.participants {
		if !q.IsNPC && !q.Fled {
			players = append(players, q)
		}
	}
	if len(players) > 0 {
		p.TargetID = players[c.roller.Source().Intn(len(players))].EntityID
	}
}

// executeAttackLocked resolves one basic attack, applying damage and queuing
// death resolution when the defender drops to zero.
func (c *Combat) executeAttackLocked(attacker, defender *Participant) {
	attackMod := dice.AttributeModifier(attacker.attribute("dexterity")) +
		c.effects.ToHitPenalty(attacker.Effects)
	defenseMod := dice.AttributeModifier(defender.attribute("dexterity"))

	result := dice.RollToHit(c.roller.Source(), attackMod, defenseMod, defender.IsDefending)
	if !result.Hit {
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s's attack misses %s!", attacker.Name, defender.Name), "")
		return
	}

	strMod := dice.AttributeModifier(attacker.attribute("strength"))
	damage := dice.CalculateDamage(c.roller.Source(), strMod, result.Critical)
	newHP := c.applyDamageLocked(attacker, defender, damage)

	critText := ""
	if result.Critical {
		critText = " **CRITICAL HIT!**"
	}
	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("%s's attack %ss %s for %d damage!%s",
			attacker.Name, dice.DamageVerb(damage), defender.Name, damage, critText), "")

	if newHP <= 0 {
		c.pending = append(c.pending, death{victimID: defender.EntityID, killerID: attacker.EntityID})
	}
}

// applyDamageLocked routes damage through the defender's entity reference,
// tallies the attacker's damage share, and records the grudge.
func (c *Combat) applyDamageLocked(attacker, defender *Participant, damage int) int {
	newHP := 0
	if defender.Entity != nil {
		newHP = defender.Entity.ApplyDamage(damage)
	}
	attacker.DamageDealt += damage
	if g, ok := defender.Entity.(Grudged); ok {
		g.NoteAttacker(attacker.EntityID)
	}
	return newHP
}

// resolvePendingDeaths drains deaths queued while the lock was held and
// hands them to the death handler outside the lock.
func (c *Combat) resolvePendingDeaths() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, d := range pending {
		victim := c.GetParticipant(d.victimID)
		killer := c.GetParticipant(d.killerID)
		if victim == nil {
			continue
		}
		killerName := "something"
		if killer != nil {
			killerName = killer.Name
		}
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("\n*** %s has been SLAIN by %s! ***\n", victim.Name, killerName), "")
		if c.hooks.OnDeath != nil {
			c.hooks.OnDeath(c.RoomID, d.victimID, d.killerID)
		}
		if c.deaths != nil {
			c.deaths.HandleDeath(c, d.victimID, d.killerID)
		} else {
			c.RemoveParticipant(d.victimID)
		}
	}
}

// continuesLocked is the continuation check: the fight goes on only while at
// least two non-fled participants remain and both sides are represented.
func (c *Combat) continuesLocked() bool {
	active := 0
	npcs := 0
	players := 0
	for _, p := range c.participants {
		if p.Fled {
			continue
		}
		active++
		if p.IsNPC {
			npcs++
		} else {
			players++
		}
	}
	if active < 2 {
		c.logger.Info("combat ending: insufficient active participants", zap.Int("active", active))
		return false
	}
	if npcs == 0 || players == 0 {
		c.logger.Info("combat ending: one side eliminated",
			zap.Int("npcs", npcs), zap.Int("players", players))
		return false
	}
	return true
}

// AttemptFlee rolls d20 + DEX modifier against the flee threshold. Success
// marks the participant fled (permanently out of rotation) and may end the
// fight; failure costs one round interval of recovery. Failure is a normal
// outcome, not an error.
func (c *Combat) AttemptFlee(entityID string) (bool, string) {
	c.mu.Lock()
	p := c.findLocked(entityID)
	if p == nil {
		c.mu.Unlock()
		return false, "You are not in this fight."
	}
	ok := c.attemptFleeLocked(p)
	ended := false
	if ok && c.state == StateActive && !c.continuesLocked() {
		ended = c.markEndedLocked("no remaining valid participants")
	}
	c.mu.Unlock()

	if ended {
		c.announceEnd()
	}
	if ok {
		return true, "You flee from combat!"
	}
	return false, "You fail to escape!"
}

// attemptFleeLocked is the shared flee roll: it marks the participant fled
// or recovering but leaves end-of-fight detection to the caller. The round
// loop catches a fled-out fight on its post-round continuation check;
// injected flee actions check immediately.
func (c *Combat) attemptFleeLocked(p *Participant) bool {
	threshold := c.cfg.FleeThreshold
	if c.mode == ModeManual {
		threshold = c.cfg.ManualFleeThreshold
	}

	dexMod := dice.AttributeModifier(p.attribute("dexterity"))
	roll := dice.RollDie(c.roller.Source(), 20)
	total := roll + dexMod

	if total >= threshold {
		p.Fled = true
		c.broadcaster.BroadcastToRoom(c.RoomID, p.Name+" flees from combat!", "")
		c.logger.Info("participant fled",
			zap.String("entity_id", p.EntityID),
			zap.Int("roll", roll),
			zap.Int("total", total),
		)
		if c.release != nil {
			c.release(p.EntityID)
		}
		return true
	}

	p.WaitUntil = c.now().Add(c.cfg.RoundInterval)
	c.broadcaster.BroadcastToRoom(c.RoomID, p.Name+" fails to flee!", "")
	c.logger.Info("flee failed",
		zap.String("entity_id", p.EntityID),
		zap.Int("roll", roll),
		zap.Int("total", total),
	)
	return false
}

// SwitchTarget points the participant at a new target. Returns false with no
// mutation when the target is the participant itself, not in the fight, or
// has fled.
func (c *Combat) SwitchTarget(entityID, newTargetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findLocked(entityID)
	if p == nil || newTargetID == p.EntityID {
		return false
	}
	target := c.findLocked(newTargetID)
	if target == nil || target.Fled {
		return false
	}
	p.TargetID = newTargetID
	c.logger.Debug("target switched",
		zap.String("entity_id", entityID),
		zap.String("new_target", newTargetID),
	)
	return true
}

// Defend puts the participant in a defensive stance (+5 defense) until the
// end of the current round.
func (c *Combat) Defend(entityID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findLocked(entityID)
	if p == nil {
		return false, "You are not in this fight."
	}
	if p.Fled {
		return false, "You have already fled."
	}
	p.IsDefending = true
	c.broadcaster.BroadcastToRoom(c.RoomID,
		p.Name+" takes a defensive stance! (+5 Defense)", "")
	return true, "You take a defensive stance, gaining +5 Defense until the end of the round."
}

// Status returns a human-readable snapshot of the fight: state, round,
// and each participant's name, initiative, and defending flag.
func (c *Combat) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateSetup:
		return "Combat is being set up..."
	case StateEnded:
		return "Combat has ended."
	}

	lines := []string{fmt.Sprintf("=== Combat Status (Round %d) ===", c.roundNumber)}
	for i, p := range c.participants {
		marker := "    "
		if c.mode == ModeManual && i == c.turnIndex {
			marker = ">>> "
		}
		tags := ""
		if p.IsDefending {
			tags += " [DEFENDING]"
		}
		if p.Fled {
			tags += " [FLED]"
		}
		lines = append(lines, fmt.Sprintf("%s%s (Initiative: %d)%s", marker, p.Name, p.Initiative, tags))
	}
	return strings.Join(lines, "\n")
}

func (c *Combat) findLocked(entityID string) *Participant {
	for _, p := range c.participants {
		if p.EntityID == entityID {
			return p
		}
	}
	return nil
}

// sortByInitiativeDesc sorts participants in place, highest initiative
// first. Stable, so ties keep join order.
func sortByInitiativeDesc(ps []*Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Initiative > ps[j].Initiative
	})
}
