package monitoring

import (
	"context"
	"time"

	"github.com/R8355H0755/lan-insight/internal/store"
)

const maintenanceHour = 2

// runMaintenanceLoop prunes history every night at 2 AM local time.
func (e *Engine) runMaintenanceLoop(ctx context.Context) {
	for {
		next := nextMaintenance(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if _, err := e.RunMaintenance(); err != nil {
				e.log.Error().Err(err).Msg("Scheduled maintenance failed")
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// nextMaintenance returns the next 2 AM after now.
func nextMaintenance(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), maintenanceHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunMaintenance prunes stored history per the retention settings.
func (e *Engine) RunMaintenance() (*store.CleanupResult, error) {
	return e.store.Cleanup(e.retentionDays())
}
