package gameserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/combat"
)

// MaintenanceTicker runs periodic housekeeping for the game: sweeping ended
// fights out of the combat registry and firing any registered maintenance
// callbacks (NPC respawns, effect expiry, zone scripts).
//
// Invariant: all callbacks are invoked at most once per tick interval.
type MaintenanceTicker struct {
	interval time.Duration
	registry *combat.Registry
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks map[string]func()
}

// NewMaintenanceTicker returns a ticker that sweeps every interval.
//
// Precondition: interval must be > 0; registry and logger must be non-nil.
func NewMaintenanceTicker(interval time.Duration, registry *combat.Registry, logger *zap.Logger) *MaintenanceTicker {
	if interval <= 0 {
		panic("gameserver.NewMaintenanceTicker: interval must be > 0")
	}
	return &MaintenanceTicker{
		interval:  interval,
		registry:  registry,
		logger:    logger,
		callbacks: make(map[string]func()),
	}
}

// RegisterCallback registers a named maintenance callback. Replaces any
// existing callback with the same name.
func (t *MaintenanceTicker) RegisterCallback(name string, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[name] = fn
}

// Unregister removes the named callback.
func (t *MaintenanceTicker) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, name)
}

// Start begins the tick loop. Runs until ctx is cancelled.
//
// Postcondition: the registry sweep and all registered callbacks run once
// per interval.
func (t *MaintenanceTicker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick()
			}
		}
	}()
}

func (t *MaintenanceTicker) tick() {
	if removed := t.registry.CleanupEndedCombats(); removed > 0 {
		t.logger.Debug("swept ended combats", zap.Int("removed", removed))
	}

	t.mu.Lock()
	callbacks := make(map[string]func(), len(t.callbacks))
	for k, v := range t.callbacks {
		callbacks[k] = v
	}
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}
