package combat

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TurnTimer fires a callback after a duration unless stopped first. It backs
// the manual-mode action window. Safe for concurrent use.
type TurnTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTurnTimer creates and starts a timer that calls onExpire after duration.
// onExpire runs in its own goroutine.
//
// Precondition: duration > 0; onExpire must not be nil.
func NewTurnTimer(duration time.Duration, onExpire func()) *TurnTimer {
	tt := &TurnTimer{}
	tt.timer = time.AfterFunc(duration, func() {
		tt.mu.Lock()
		stopped := tt.stopped
		tt.mu.Unlock()
		if !stopped {
			onExpire()
		}
	})
	return tt
}

// Stop prevents the callback from firing. Safe to call multiple times.
func (tt *TurnTimer) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.stopped = true
	tt.timer.Stop()
}

// CurrentTurn returns the participant whose turn it is in manual mode, or
// nil in auto mode or outside ACTIVE.
func (c *Combat) CurrentTurn() *Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeManual || c.state != StateActive {
		return nil
	}
	if c.turnIndex < 0 || c.turnIndex >= len(c.participants) {
		return nil
	}
	return c.participants[c.turnIndex]
}

// PerformAttack resolves one manual-mode basic attack by the participant
// whose turn it is, then advances the turn. In auto mode attacks happen on
// the round tick, so this only retargets via SwitchTarget semantics.
func (c *Combat) PerformAttack(attackerID, targetID string) (bool, string) {
	c.mu.Lock()

	if c.mode != ModeManual {
		c.mu.Unlock()
		if c.SwitchTarget(attackerID, targetID) {
			return true, "You turn your attention to a new target."
		}
		return false, "You can't attack them."
	}

	if ok, msg := c.turnCheckLocked(attackerID); !ok {
		c.mu.Unlock()
		return false, msg
	}
	attacker := c.findLocked(attackerID)
	target := c.findLocked(targetID)
	if target == nil || target.Fled || target.EntityID == attackerID {
		c.mu.Unlock()
		return false, "You can't attack them."
	}

	attacker.TargetID = targetID
	c.executeAttackLocked(attacker, target)
	ended := c.advanceTurnLocked()
	c.mu.Unlock()

	c.resolvePendingDeaths()
	if ended {
		c.announceEnd()
	}
	return true, fmt.Sprintf("You attack %s!", target.Name)
}

// PerformDefend is the manual-mode defend action: defensive stance, then
// the turn advances. Use Defend directly in auto mode.
func (c *Combat) PerformDefend(entityID string) (bool, string) {
	c.mu.Lock()
	if c.mode != ModeManual {
		c.mu.Unlock()
		return c.Defend(entityID)
	}
	if ok, msg := c.turnCheckLocked(entityID); !ok {
		c.mu.Unlock()
		return false, msg
	}
	p := c.findLocked(entityID)
	p.IsDefending = true
	c.broadcaster.BroadcastToRoom(c.RoomID,
		p.Name+" takes a defensive stance! (+5 Defense)", "")
	ended := c.advanceTurnLocked()
	c.mu.Unlock()

	if ended {
		c.announceEnd()
	}
	return true, "You take a defensive stance, gaining +5 Defense until your next turn."
}

// PerformFlee is the manual-mode flee action: DC 12 escape roll on the
// participant's turn. Failure still consumes the turn.
func (c *Combat) PerformFlee(entityID string) (bool, string) {
	c.mu.Lock()
	if c.mode != ModeManual {
		c.mu.Unlock()
		return c.AttemptFlee(entityID)
	}
	if ok, msg := c.turnCheckLocked(entityID); !ok {
		c.mu.Unlock()
		return false, msg
	}
	p := c.findLocked(entityID)
	success := c.attemptFleeLocked(p)
	ended := false
	if success && !c.continuesLocked() {
		ended = c.markEndedLocked("no remaining valid participants")
	}
	if !ended {
		ended = c.advanceTurnLocked()
	}
	c.mu.Unlock()

	if ended {
		c.announceEnd()
	}
	if success {
		return true, "You flee from combat!"
	}
	return false, "You fail to escape!"
}

// turnCheckLocked validates that entityID may act right now in manual mode.
func (c *Combat) turnCheckLocked(entityID string) (bool, string) {
	if c.state != StateActive {
		return false, "There is no fight happening right now."
	}
	p := c.findLocked(entityID)
	if p == nil {
		return false, "You are not in this fight."
	}
	if p.Fled {
		return false, "You have already fled."
	}
	if c.turnIndex >= len(c.participants) || c.participants[c.turnIndex].EntityID != entityID {
		return false, "It's not your turn!"
	}
	return true, ""
}

// advanceTurnLocked moves to the next eligible participant, rolling over to
// a new round at the end of the order. Returns true if the continuation
// check ended the fight; the caller announces after unlocking.
func (c *Combat) advanceTurnLocked() bool {
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}

	for skipped := 0; skipped <= len(c.participants); skipped++ {
		c.turnIndex++
		if c.turnIndex >= len(c.participants) {
			c.turnIndex = 0
			for _, p := range c.participants {
				p.IsDefending = false
				c.effects.ClearRoundScoped(p.Effects)
			}
			if !c.continuesLocked() {
				return c.markEndedLocked("no remaining valid participants")
			}
			c.roundNumber++
			c.broadcaster.BroadcastToRoom(c.RoomID,
				fmt.Sprintf("\n--- Round %d ---", c.roundNumber), "")
		}
		p := c.participants[c.turnIndex]
		if p.Fled {
			continue
		}
		if hp, _ := p.hitPoints(); hp <= 0 {
			continue
		}
		c.notifyTurnLocked(p)
		c.armTurnTimerLocked(p)
		return false
	}
	// Nobody left who can act.
	return c.markEndedLocked("no remaining valid participants")
}

// notifyTurn announces whose turn it is. Called lock-free at fight start.
func (c *Combat) notifyTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnIndex < len(c.participants) {
		c.notifyTurnLocked(c.participants[c.turnIndex])
	}
}

func (c *Combat) notifyTurnLocked(p *Participant) {
	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("\nIt is %s's turn! (attack, defend, or flee)", p.Name), "")
}

// armTurnTimer arms the action-window timeout for the current turn. Called
// lock-free at fight start.
func (c *Combat) armTurnTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive && c.turnIndex < len(c.participants) {
		c.armTurnTimerLocked(c.participants[c.turnIndex])
	}
}

// armTurnTimerLocked starts the turn timeout for p. If the window elapses
// without an action, p defends by default and the turn advances.
func (c *Combat) armTurnTimerLocked(p *Participant) {
	entityID := p.EntityID
	c.turnTimer = NewTurnTimer(c.cfg.TurnTimeout, func() {
		c.turnTimedOut(entityID)
	})
}

// turnTimedOut applies the default action for a participant whose action
// window expired. A stale timer (turn already advanced) is a no-op.
func (c *Combat) turnTimedOut(entityID string) {
	c.mu.Lock()
	if c.state != StateActive ||
		c.turnIndex >= len(c.participants) ||
		c.participants[c.turnIndex].EntityID != entityID {
		c.mu.Unlock()
		return
	}
	p := c.participants[c.turnIndex]
	p.IsDefending = true
	c.broadcaster.BroadcastToRoom(c.RoomID,
		p.Name+" hesitates and falls into a defensive stance.", "")
	c.logger.Info("turn timed out",
		zap.String("entity_id", entityID),
		zap.Int("round", c.roundNumber),
	)
	ended := c.advanceTurnLocked()
	c.mu.Unlock()

	if ended {
		c.announceEnd()
	}
}

