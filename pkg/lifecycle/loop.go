package lifecycle

import (
	"context"
	"time"
)

// RunReaperLoop runs ReapHung on a fixed interval until ctx is cancelled,
// mirroring the teacher's reconciler ticker pattern: an immediate pass on
// start, then one per tick, with ctx.Done() as the only exit.
func (m *Manager) RunReaperLoop(ctx context.Context, staleAfter time.Duration) {
	if _, err := m.ReapHung(ctx, staleAfter); err != nil {
		lifecycleLog.Warn().Err(err).Msg("initial reap pass failed")
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.ReapHung(ctx, staleAfter); err != nil {
				lifecycleLog.Warn().Err(err).Msg("reap pass failed")
			}
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}
