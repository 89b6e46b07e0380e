package gameserver

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/combat"
	"github.com/waystonemud/waystone/internal/game/npc"
	"github.com/waystonemud/waystone/internal/game/session"
	"github.com/waystonemud/waystone/internal/scripting"
)

// CharacterStore is the slice of persistence the combat layer needs.
type CharacterStore interface {
	UpdateHitPoints(ctx context.Context, characterID int64, currentHP int) error
	AddExperience(ctx context.Context, characterID int64, amount int) (int, error)
}

// CombatHandler is the command layer's entry into the combat engine: it
// resolves player keywords to entities, creates fights through the
// registry, and relays action results back as narrative text.
type CombatHandler struct {
	registry *combat.Registry
	npcMgr   *npc.Manager
	sessions *session.Manager
	scripts  *scripting.Manager
	logger   *zap.Logger
	mode     combat.Mode
}

// NewCombatHandler creates a CombatHandler.
//
// Precondition: registry, npcMgr, sessions, and logger must be non-nil;
// scripts may be nil (hooks are skipped).
func NewCombatHandler(
	registry *combat.Registry,
	npcMgr *npc.Manager,
	sessions *session.Manager,
	scripts *scripting.Manager,
	logger *zap.Logger,
	mode combat.Mode,
) *CombatHandler {
	return &CombatHandler{
		registry: registry,
		npcMgr:   npcMgr,
		sessions: sessions,
		scripts:  scripts,
		logger:   logger,
		mode:     mode,
	}
}

// Attack starts or joins a fight against the NPC matching targetKeyword in
// the player's room.
//
// Precondition: uid must be a connected player; targetKeyword must be
// non-empty.
// Postcondition: Returns narrative text for the acting player, or an error.
func (h *CombatHandler) Attack(uid, targetKeyword string) (string, error) {
	sess, ok := h.sessions.GetPlayer(uid)
	if !ok {
		return "", fmt.Errorf("player %q not found", uid)
	}

	if c := h.registry.GetCombatForRoom(sess.RoomID); c != nil && c.IsCharacterInCombat(uid) {
		// Already fighting here: treat the attack as a target switch or,
		// in manual mode, as this turn's action.
		target := c.FindParticipantByKeyword(targetKeyword, uid)
		if target == nil {
			return "", fmt.Errorf("you don't see %q in the fight", targetKeyword)
		}
		_, msg := c.PerformAttack(uid, target.EntityID)
		return msg, nil
	}

	inst := h.npcMgr.FindInRoomByKeyword(sess.RoomID, targetKeyword)
	if inst == nil {
		return "", fmt.Errorf("you don't see %q here", targetKeyword)
	}
	if inst.IsDead() {
		return "", fmt.Errorf("%s is already dead", inst.Name)
	}

	c := h.registry.GetCombatForRoom(sess.RoomID)
	created := false
	if c == nil {
		var err error
		c, err = h.registry.CreateCombat(sess.RoomID, h.mode)
		if err != nil {
			return "", fmt.Errorf("starting combat: %w", err)
		}
		created = true
	}

	if _, err := c.AddParticipant(uid, sess.CharName(), false, inst.ID, sess.Character); err != nil {
		return "", err
	}
	if !c.IsCharacterInCombat(inst.ID) {
		if _, err := c.AddParticipant(inst.ID, inst.Name, true, uid, inst); err != nil {
			return "", err
		}
	}

	if created {
		if err := c.Start(); err != nil {
			return "", err
		}
		h.callHook(sess.RoomID, scripting.HookCombatStart, lua.LString(sess.RoomID))
	}

	return fmt.Sprintf("You attack %s!", inst.Name), nil
}

// UseSkill performs a named combat skill against a fight member matching
// targetKeyword.
func (h *CombatHandler) UseSkill(uid, skillName, targetKeyword string) (string, error) {
	_, c, err := h.fightFor(uid)
	if err != nil {
		return "", err
	}

	target := c.FindParticipantByKeyword(targetKeyword, uid)
	if target == nil {
		return "", fmt.Errorf("you don't see %q in the fight", targetKeyword)
	}

	_, msg := c.UseSkill(uid, skillName, target.EntityID)
	return msg, nil
}

// Flee attempts to escape the player's current fight.
func (h *CombatHandler) Flee(uid string) (string, error) {
	_, c, err := h.fightFor(uid)
	if err != nil {
		return "", err
	}
	_, msg := c.PerformFlee(uid)
	return msg, nil
}

// Defend puts the player in a defensive stance for the round.
func (h *CombatHandler) Defend(uid string) (string, error) {
	_, c, err := h.fightFor(uid)
	if err != nil {
		return "", err
	}
	_, msg := c.PerformDefend(uid)
	return msg, nil
}

// Status returns the status snapshot of the player's current fight.
func (h *CombatHandler) Status(uid string) (string, error) {
	_, c, err := h.fightFor(uid)
	if err != nil {
		return "", err
	}
	return c.Status(), nil
}

// CanRecall reports whether the player may use recall-style escapes:
// blocked while fighting and for the post-combat cooldown window.
func (h *CombatHandler) CanRecall(uid string) bool {
	if h.registry.GetCombatForEntity(uid) != nil {
		return false
	}
	return !h.registry.WasRecentlyInCombat(uid)
}

// fightFor resolves the player's session and the active fight in their
// room, requiring that they are a member of it.
func (h *CombatHandler) fightFor(uid string) (*session.PlayerSession, *combat.Combat, error) {
	sess, ok := h.sessions.GetPlayer(uid)
	if !ok {
		return nil, nil, fmt.Errorf("player %q not found", uid)
	}
	c := h.registry.GetCombatForRoom(sess.RoomID)
	if c == nil || !c.IsCharacterInCombat(uid) {
		return nil, nil, fmt.Errorf("you are not fighting anyone")
	}
	return sess, c, nil
}

func (h *CombatHandler) callHook(roomID, hook string, args ...lua.LValue) {
	if h.scripts == nil {
		return
	}
	if _, err := h.scripts.CallHook(roomID, hook, args...); err != nil {
		h.logger.Warn("combat script hook failed",
			zap.String("room_id", roomID),
			zap.String("hook", hook),
			zap.Error(err),
		)
	}
}
