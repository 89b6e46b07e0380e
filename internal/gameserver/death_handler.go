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

// DeathHandler resolves combat deaths: NPC kills award experience split by
// damage dealt, dead NPCs despawn, and dead players respawn at the recall
// room with full health.
type DeathHandler struct {
	npcMgr      *npc.Manager
	sessions    *session.Manager
	characters  CharacterStore
	broadcaster combat.Broadcaster
	scripts     *scripting.Manager
	logger      *zap.Logger
	respawnRoom string
}

// NewDeathHandler creates a DeathHandler.
//
// Precondition: npcMgr, sessions, broadcaster, and logger must be non-nil;
// characters may be nil (persistence is skipped); scripts may be nil;
// respawnRoom must be non-empty.
func NewDeathHandler(
	npcMgr *npc.Manager,
	sessions *session.Manager,
	characters CharacterStore,
	broadcaster combat.Broadcaster,
	scripts *scripting.Manager,
	logger *zap.Logger,
	respawnRoom string,
) *DeathHandler {
	return &DeathHandler{
		npcMgr:      npcMgr,
		sessions:    sessions,
		characters:  characters,
		broadcaster: broadcaster,
		scripts:     scripts,
		logger:      logger,
		respawnRoom: respawnRoom,
	}
}

// HandleDeath is invoked by the combat core, outside its lock, when a
// participant's hit points reach zero.
func (d *DeathHandler) HandleDeath(c *combat.Combat, victimID, killerID string) {
	if d.scripts != nil {
		_, _ = d.scripts.CallHook(c.RoomID, scripting.HookDeath,
			lua.LString(c.RoomID), lua.LString(victimID), lua.LString(killerID))
	}

	if inst, ok := d.npcMgr.Get(victimID); ok {
		d.handleNPCDeath(c, inst)
		return
	}
	d.handlePlayerDeath(c, victimID)
}

// handleNPCDeath awards the NPC's experience value to the players who hurt
// it, proportional to damage dealt, then despawns it.
func (d *DeathHandler) handleNPCDeath(c *combat.Combat, inst *npc.Instance) {
	shares := c.DamageShares()
	total := 0
	for _, dmg := range shares {
		total += dmg
	}

	for uid, dmg := range shares {
		sess, ok := d.sessions.GetPlayer(uid)
		if !ok || sess.Character == nil {
			continue
		}
		award := inst.XPValue
		if total > 0 && len(shares) > 1 {
			award = inst.XPValue * dmg / total
			if award < 1 {
				award = 1
			}
		}
		newTotal := sess.Character.AddExperience(award)
		d.persistExperience(sess, award, newTotal)
		d.broadcaster.BroadcastToRoom(c.RoomID,
			fmt.Sprintf("%s gains %d experience!", sess.CharName(), award), "")
	}

	c.RemoveParticipant(inst.ID)
	if err := d.npcMgr.Remove(inst.ID); err != nil {
		d.logger.Warn("dead NPC already despawned",
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
	}
	d.logger.Info("npc died",
		zap.String("instance_id", inst.ID),
		zap.String("room_id", c.RoomID),
		zap.Int("xp_value", inst.XPValue),
	)
}

// handlePlayerDeath pulls the player out of the fight and respawns them at
// the recall room with full health.
func (d *DeathHandler) handlePlayerDeath(c *combat.Combat, uid string) {
	c.RemoveParticipant(uid)

	sess, ok := d.sessions.GetPlayer(uid)
	if !ok {
		return
	}
	if sess.Character != nil {
		sess.Character.RestoreToFull()
	}
	if _, err := d.sessions.MovePlayer(uid, d.respawnRoom); err != nil {
		d.logger.Warn("respawn move failed",
			zap.String("uid", uid),
			zap.Error(err),
		)
	}
	d.broadcaster.BroadcastToRoom(d.respawnRoom,
		fmt.Sprintf("%s appears, gasping, at the recall shrine.", sess.CharName()), uid)
	if err := sess.Entity.Push([]byte("You have died. The world swims back into focus at the recall shrine.\r\n")); err != nil {
		d.logger.Debug("death notice dropped", zap.String("uid", uid), zap.Error(err))
	}

	// Unsaved characters (ID 0) have no row to update.
	if d.characters != nil && sess.Character != nil && sess.Character.ID != 0 {
		cur, _ := sess.Character.HitPoints()
		if err := d.characters.UpdateHitPoints(context.Background(), sess.Character.ID, cur); err != nil {
			d.logger.Error("persisting respawn HP failed",
				zap.String("uid", uid),
				zap.Error(err),
			)
		}
	}
	d.logger.Info("player died",
		zap.String("uid", uid),
		zap.String("room_id", c.RoomID),
	)
}

func (d *DeathHandler) persistExperience(sess *session.PlayerSession, award, newTotal int) {
	if d.characters == nil || sess.Character == nil || sess.Character.ID == 0 {
		return
	}
	if _, err := d.characters.AddExperience(context.Background(), sess.Character.ID, award); err != nil {
		d.logger.Error("persisting experience failed",
			zap.String("uid", sess.UID),
			zap.Int("award", award),
			zap.Int("new_total", newTotal),
			zap.Error(err),
		)
	}
}
