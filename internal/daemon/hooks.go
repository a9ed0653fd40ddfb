package daemon

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/pkg/hooks"
)

// newHookManager builds the hook manager from config entries. Timeouts are
// configured in seconds; unset falls back to 5s.
func newHookManager(cfg config.HooksConfig, logger zerolog.Logger) (*hooks.Manager, error) {
	hookDefs := make([]hooks.Hook, 0, len(cfg.Entries))
	for _, entry := range cfg.Entries {
		timeout := time.Duration(entry.Timeout) * time.Second
		if entry.Timeout <= 0 {
			timeout = 5 * time.Second
		}
		hookDefs = append(hookDefs, hooks.Hook{
			Event:   strings.TrimSpace(entry.Event),
			Script:  strings.TrimSpace(entry.Script),
			Timeout: timeout,
			Enabled: entry.Enabled,
		})
	}

	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Enabled,
		Hooks:   hookDefs,
		Logger:  logger,
	})
}

// handleDegradedBlock relays the engine's anchor-loss signal to lifecycle
// hooks. The engine calls it inline on the execution path, so the trigger
// runs on its own goroutine.
func (d *Daemon) handleDegradedBlock(hostName, blockID, reason string) {
	if d.hookMgr == nil {
		return
	}

	data := map[string]interface{}{
		"host":     hostName,
		"block_id": blockID,
		"reason":   reason,
	}
	go func() {
		if err := d.hookMgr.Trigger(context.Background(), hooks.EventBlockDegraded, data); err != nil {
			d.logger.Warn().Err(err).Msg("block.degraded hooks failed")
		}
	}()
}
