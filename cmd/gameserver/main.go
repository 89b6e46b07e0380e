// Package main provides the game server binary: it wires configuration,
// persistence, content registries, and the combat engine together and runs
// them under a managed lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/config"
	"github.com/waystonemud/waystone/internal/game/character"
	"github.com/waystonemud/waystone/internal/game/combat"
	"github.com/waystonemud/waystone/internal/game/dice"
	"github.com/waystonemud/waystone/internal/game/effect"
	"github.com/waystonemud/waystone/internal/game/npc"
	"github.com/waystonemud/waystone/internal/game/session"
	"github.com/waystonemud/waystone/internal/gameserver"
	"github.com/waystonemud/waystone/internal/observability"
	"github.com/waystonemud/waystone/internal/scripting"
	"github.com/waystonemud/waystone/internal/server"
	"github.com/waystonemud/waystone/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	cryptoSrc := dice.NewCryptoSource()
	diceRoller := dice.NewLoggedRoller(cryptoSrc, logger)

	// Connect to PostgreSQL for account and character persistence.
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	charRepo := postgres.NewCharacterRepository(pool.DB())

	sessMgr := session.NewManager()

	// Load NPC templates.
	npcMgr := npc.NewManager()
	npcTemplates, err := npc.LoadTemplates(cfg.Content.NPCDir)
	if err != nil {
		logger.Fatal("loading npc templates", zap.Error(err))
	}
	for _, tmpl := range npcTemplates {
		npcMgr.RegisterTemplate(tmpl)
	}
	logger.Info("loaded npc templates", zap.Int("count", len(npcTemplates)))

	// Effect definitions: built-ins, optionally extended from YAML.
	effects := effect.Builtin()
	if cfg.Content.EffectDir != "" {
		if err := effects.LoadDirectory(cfg.Content.EffectDir); err != nil {
			logger.Fatal("loading effect definitions", zap.Error(err))
		}
		logger.Info("loaded effect definitions", zap.String("dir", cfg.Content.EffectDir))
	}

	// Initialise the scripting engine and load global combat hooks.
	var scriptMgr *scripting.Manager
	if cfg.Content.ScriptDir != "" {
		if info, statErr := os.Stat(cfg.Content.ScriptDir); statErr == nil && info.IsDir() {
			scriptStart := time.Now()
			scriptMgr = scripting.NewManager(diceRoller, logger)
			if err := scriptMgr.LoadGlobal(cfg.Content.ScriptDir, scripting.DefaultInstructionLimit); err != nil {
				logger.Fatal("loading global scripts",
					zap.String("dir", cfg.Content.ScriptDir), zap.Error(err))
			}
			logger.Info("scripting engine initialized",
				zap.String("dir", cfg.Content.ScriptDir),
				zap.Duration("elapsed", time.Since(scriptStart)),
			)
		} else {
			logger.Warn("script dir not found, scripting disabled",
				zap.String("dir", cfg.Content.ScriptDir))
		}
	}

	broadcaster := gameserver.NewRoomBroadcaster(sessMgr, logger)
	deaths := gameserver.NewDeathHandler(
		npcMgr, sessMgr, charRepo, broadcaster, scriptMgr, logger, cfg.Combat.RespawnRoom)

	registry := combat.NewRegistry(combat.Deps{
		Roller:      diceRoller,
		Effects:     effects,
		Broadcaster: broadcaster,
		Deaths:      deaths,
		Logger:      logger,
		Hooks: combat.Hooks{
			OnEnd: func(roomID, reason string, rounds int) {
				if scriptMgr == nil {
					return
				}
				if _, err := scriptMgr.CallHook(roomID, scripting.HookCombatEnd,
					lua.LString(roomID), lua.LString(reason)); err != nil {
					logger.Warn("combat end hook failed",
						zap.String("room_id", roomID), zap.Error(err))
				}
			},
		},
		Config: combat.Config{
			RoundInterval:       cfg.Combat.RoundInterval,
			TurnTimeout:         cfg.Combat.TurnTimeout,
			FleeThreshold:       cfg.Combat.FleeThreshold,
			ManualFleeThreshold: cfg.Combat.ManualFleeThreshold,
		},
	})
	registry.SetRecallCooldown(cfg.Combat.RecallCooldown)

	mode := combat.ModeAuto
	if cfg.Combat.Mode == "turns" {
		mode = combat.ModeManual
	}
	combatHandler := gameserver.NewCombatHandler(registry, npcMgr, sessMgr, scriptMgr, logger, mode)

	if scriptMgr != nil {
		// Give scripts their view of the engine.
		scriptMgr.Broadcast = func(roomID, msg string) {
			broadcaster.BroadcastToRoom(roomID, msg, "")
		}
		scriptMgr.GetCombatant = func(uid string) *scripting.CombatantInfo {
			if inst, ok := npcMgr.Get(uid); ok {
				hp, maxHP := inst.HitPoints()
				return &scripting.CombatantInfo{
					UID: inst.ID, Name: inst.Name, HP: hp, MaxHP: maxHP, IsNPC: true,
				}
			}
			if sess, ok := sessMgr.GetPlayer(uid); ok && sess.Character != nil {
				hp, maxHP := sess.Character.HitPoints()
				return &scripting.CombatantInfo{
					UID: uid, Name: sess.CharName(), HP: hp, MaxHP: maxHP, IsNPC: false,
				}
			}
			return nil
		}
	}

	ticker := gameserver.NewMaintenanceTicker(cfg.Combat.CleanupInterval, registry, logger)

	// A local console drives the engine in lieu of a network frontend.
	devChar := character.New("Adventurer", "warrior", character.AbilityScores{
		Strength: 14, Dexterity: 12, Constitution: 14,
		Intelligence: 10, Wisdom: 10, Charisma: 10,
	})
	devChar.Location = cfg.Combat.RespawnRoom
	if _, err := sessMgr.AddPlayer("console", "console", cfg.Combat.RespawnRoom, "admin", devChar); err != nil {
		logger.Fatal("registering console session", zap.Error(err))
	}
	console := gameserver.NewConsole(
		combatHandler, sessMgr, npcMgr, logger,
		"console", cfg.Combat.RespawnRoom, os.Stdin, os.Stdout)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("console", console)

	tickCtx, tickCancel := context.WithCancel(ctx)
	lifecycle.Add("maintenance", &server.FuncService{
		StartFn: func() error {
			ticker.Start(tickCtx)
			<-tickCtx.Done()
			return nil
		},
		StopFn: tickCancel,
	})

	healthCtx, healthCancel := context.WithCancel(ctx)
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-healthCtx.Done():
					return nil
				case <-ticker.C:
					if err := pool.Health(healthCtx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			healthCancel()
			pool.Close()
		},
	})

	logger.Info("game server initialized",
		zap.String("combat_mode", cfg.Combat.Mode),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}

	if scriptMgr != nil {
		scriptMgr.Close()
	}
}
