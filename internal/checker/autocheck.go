package checker

import (
	"context"
	"time"

	"github.com/beamapp/autoupdate/internal/logging"
)

// StartAutocheck begins periodic unattended update passes at the given
// interval; the auto-download and auto-install preferences decide how
// far each pass goes. A previous autocheck loop is stopped first. A
// pass that is rejected because a pipeline is in flight is skipped,
// not queued.
func (c *Checker) StartAutocheck(ctx context.Context, interval time.Duration) {
	c.StopAutocheck()

	ctx, cancel := context.WithCancel(ctx)
	c.autocheckMu.Lock()
	c.autocheckCancel = cancel
	c.autocheckMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Info("autocheck started", "interval", interval)

		for {
			select {
			case <-ctx.Done():
				log.Info("autocheck stopped")
				return
			case <-ticker.C:
				if err := c.PerformUpdateIfAvailable(ctx, false); err != nil {
					log.Warn("autocheck failed", logging.KeyError, err)
				}
			}
		}
	}()
}

// StopAutocheck cancels the periodic check loop, if any.
func (c *Checker) StopAutocheck() {
	c.autocheckMu.Lock()
	defer c.autocheckMu.Unlock()
	if c.autocheckCancel != nil {
		c.autocheckCancel()
		c.autocheckCancel = nil
	}
}
