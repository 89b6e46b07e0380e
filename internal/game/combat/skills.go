package combat

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/dice"
	"github.com/waystonemud/waystone/internal/game/effect"
)

// Skill names, used as cooldown keys and command-layer identifiers.
const (
	SkillHeavyStrike = "heavy_strike"
	SkillQuickStrike = "quick_strike"
	SkillDisarm      = "disarm"
	SkillTrip        = "trip"
)

// Skill timings. Cooldowns are consumed on attempt, not only on success:
// a missed swing still winds the skill down.
const (
	heavyStrikeCooldown = 15 * time.Second
	quickStrikeCooldown = 10 * time.Second
	disarmCooldown      = 30 * time.Second
	tripCooldown        = 12 * time.Second

	heavyStrikeWaitRounds = 2
	quickStrikeWaitRounds = 1

	disarmBaseDefense = 10
	tripBaseDefense   = 8
)

var (
	heavyStrikeDamage = dice.MustParse("1d4")
	quickStrikeDamage = dice.MustParse("1d6")
)

// skillResolver resolves one skill attempt with the combat lock held.
type skillResolver func(c *Combat, attacker, target *Participant) (bool, string)

var skillResolvers = map[string]skillResolver{
	SkillHeavyStrike: (*Combat).heavyStrikeLocked,
	SkillQuickStrike: (*Combat).quickStrikeLocked,
	SkillDisarm:      (*Combat).disarmLocked,
	SkillTrip:        (*Combat).tripLocked,
}

// KnownSkill reports whether name is a recognized skill.
func KnownSkill(name string) bool {
	_, ok := skillResolvers[name]
	return ok
}

// UseSkill attempts a named skill against a target. Expected negative
// outcomes (cooldown, miss, bad target) come back as (false, message);
// only unknown skill names are reported via the bool+message pair with a
// generic message as well, keeping the command layer's handling uniform.
// In manual mode a skill is only usable on the actor's turn, and an
// attempt, hit or miss, consumes that turn; a rejection (cooldown, wait
// state, bad target) leaves the turn open.
func (c *Combat) UseSkill(attackerID, skillName, targetID string) (bool, string) {
	resolve, known := skillResolvers[skillName]
	if !known {
		return false, fmt.Sprintf("You don't know how to %s.", skillName)
	}

	c.mu.Lock()
	if c.mode == ModeManual {
		if ok, msg := c.turnCheckLocked(attackerID); !ok {
			c.mu.Unlock()
			return false, msg
		}
	}
	attempted, ok, msg := c.useSkillLocked(resolve, attackerID, skillName, targetID)
	ended := false
	if attempted && c.mode == ModeManual {
		ended = c.advanceTurnLocked()
	}
	c.mu.Unlock()

	// Skill damage may have dropped the target to zero.
	c.resolvePendingDeaths()
	if ended {
		c.announceEnd()
	}
	return ok, msg
}

// useSkillLocked runs the shared pre-checks and dispatches the resolver.
// attempted reports whether the resolver actually ran (and so the cooldown
// was spent); a rejection leaves attempted false.
func (c *Combat) useSkillLocked(resolve skillResolver, attackerID, skillName, targetID string) (attempted, ok bool, msg string) {
	if c.state != StateActive {
		return false, false, "There is no fight happening right now."
	}
	attacker := c.findLocked(attackerID)
	if attacker == nil {
		return false, false, "You are not in this fight."
	}
	if attacker.Fled {
		return false, false, "You have already fled."
	}
	if attacker.InWaitState(c.now()) {
		return false, false, "You are still recovering."
	}
	if attacker.IsSkillOnCooldown(skillName, c.now()) {
		return false, false, "That skill is still recovering."
	}
	target := c.findLocked(targetID)
	if target == nil || target.Fled || target.EntityID == attackerID {
		return false, false, "You can't use that on them."
	}

	ok, msg = resolve(c, attacker, target)
	attacker.SetSkillCooldown(skillName, cooldownFor(skillName), c.now())
	c.logger.Info("skill used",
		zap.String("skill", skillName),
		zap.String("attacker_id", attackerID),
		zap.String("target_id", targetID),
		zap.Bool("success", ok),
	)
	return true, ok, msg
}

func cooldownFor(name string) time.Duration {
	switch name {
	case SkillHeavyStrike:
		return heavyStrikeCooldown
	case SkillQuickStrike:
		return quickStrikeCooldown
	case SkillDisarm:
		return disarmCooldown
	case SkillTrip:
		return tripCooldown
	default:
		return 0
	}
}

// heavyStrikeLocked is a strength-based attack using the standard hit rule.
// On a hit it deals 1d4 + STR damage and knocks the target down, at the cost
// of a two-round recovery for the attacker.
func (c *Combat) heavyStrikeLocked(attacker, target *Participant) (bool, string) {
	attackMod := dice.AttributeModifier(attacker.attribute("strength")) +
		c.effects.ToHitPenalty(attacker.Effects)
	defenseMod := dice.AttributeModifier(target.attribute("dexterity"))

	result := dice.RollToHit(c.roller.Source(), attackMod, defenseMod, target.IsDefending)
	attacker.WaitUntil = c.now().Add(heavyStrikeWaitRounds * c.cfg.RoundInterval)

	if !result.Hit {
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s's heavy strike misses %s!", attacker.Name, target.Name), "")
		return false, "Your heavy strike misses!"
	}

	expr := heavyStrikeDamage
	expr.Modifier = dice.AttributeModifier(attacker.attribute("strength"))
	damage := c.roller.Roll(expr).Total()
	if damage < 1 {
		damage = 1
	}
	newHP := c.applyDamageLocked(attacker, target, damage)
	c.applyEffectLocked(target, effect.KnockedDown, 1)
	// Getting back up costs the target its next action.
	target.WaitUntil = c.now().Add(c.cfg.RoundInterval)

	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("%s's heavy strike slams into %s for %d damage, knocking them down!",
			attacker.Name, target.Name, damage), "")
	if newHP <= 0 {
		c.pending = append(c.pending, death{victimID: target.EntityID, killerID: attacker.EntityID})
	}
	return true, fmt.Sprintf("Your heavy strike hits %s for %d damage!", target.Name, damage)
}

// quickStrikeLocked is a dexterity-based attack with a short recovery and
// light damage.
func (c *Combat) quickStrikeLocked(attacker, target *Participant) (bool, string) {
	dexMod := dice.AttributeModifier(attacker.attribute("dexterity"))
	attackMod := dexMod + c.effects.ToHitPenalty(attacker.Effects)
	defenseMod := dice.AttributeModifier(target.attribute("dexterity"))

	result := dice.RollToHit(c.roller.Source(), attackMod, defenseMod, target.IsDefending)
	attacker.WaitUntil = c.now().Add(quickStrikeWaitRounds * c.cfg.RoundInterval)

	if !result.Hit {
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s's quick strike misses %s!", attacker.Name, target.Name), "")
		return false, "Your quick strike misses!"
	}

	expr := quickStrikeDamage
	expr.Modifier = dexMod
	damage := c.roller.Roll(expr).Total()
	if damage < 1 {
		damage = 1
	}
	newHP := c.applyDamageLocked(attacker, target, damage)

	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("%s's quick strike %ss %s for %d damage!",
			attacker.Name, dice.DamageVerb(damage), target.Name, damage), "")
	if newHP <= 0 {
		c.pending = append(c.pending, death{victimID: target.EntityID, killerID: attacker.EntityID})
	}
	return true, fmt.Sprintf("Your quick strike hits %s for %d damage!", target.Name, damage)
}

// disarmLocked is a contested check, not a standard attack: d20 + DEX mod
// against 10 + the target's DEX mod, with no critical or fumble handling.
func (c *Combat) disarmLocked(attacker, target *Participant) (bool, string) {
	total := dice.RollDie(c.roller.Source(), 20) +
		dice.AttributeModifier(attacker.attribute("dexterity"))
	threshold := disarmBaseDefense + dice.AttributeModifier(target.attribute("dexterity"))

	if total < threshold {
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s tries to disarm %s but fails!", attacker.Name, target.Name), "")
		return false, fmt.Sprintf("You fail to disarm %s.", target.Name)
	}

	c.applyEffectLocked(target, effect.Disarmed, 1)
	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("%s disarms %s, sending their weapon flying!", attacker.Name, target.Name), "")
	return true, fmt.Sprintf("You disarm %s!", target.Name)
}

// tripLocked is a contested check against a lower base (8 + target DEX mod).
// Success leaves the target prone, a -2 to-hit penalty until round end.
func (c *Combat) tripLocked(attacker, target *Participant) (bool, string) {
	total := dice.RollDie(c.roller.Source(), 20) +
		dice.AttributeModifier(attacker.attribute("dexterity"))
	threshold := tripBaseDefense + dice.AttributeModifier(target.attribute("dexterity"))

	if total < threshold {
		c.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s tries to trip %s but fails!", attacker.Name, target.Name), "")
		return false, fmt.Sprintf("You fail to trip %s.", target.Name)
	}

	c.applyEffectLocked(target, effect.Prone, -2)
	c.broadcaster.BroadcastToRoom(c.RoomID,
		fmt.Sprintf("%s sweeps %s's legs, sending them sprawling!", attacker.Name, target.Name), "")
	return true, fmt.Sprintf("You trip %s!", target.Name)
}

// applyEffectLocked writes the registered definition's value for id into the
// target's effect map, using fallback when no definition is registered.
func (c *Combat) applyEffectLocked(target *Participant, id string, fallback int) {
	value := fallback
	if def, ok := c.effects.Get(id); ok {
		value = def.Value
	}
	target.Effects[id] = value
}
