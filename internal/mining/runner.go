package mining

import (
	"context"
	"time"
)

// Runner owns the two periodic tasks of a session: the one-second tick that
// drives countdowns and the slower cooldown reconciliation. Both stop when
// the context passed to Run is cancelled.
type Runner struct {
	Session *Session
}

func (r *Runner) Run(ctx context.Context) error {
	cfg := r.Session.opts.Config
	tickEvery := cfg.TickInterval
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	refreshEvery := cfg.CooldownRefresh
	if refreshEvery <= 0 {
		refreshEvery = 5 * time.Second
	}

	tick := time.NewTicker(tickEvery)
	defer tick.Stop()
	refresh := time.NewTicker(refreshEvery)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			r.Session.Tick(ctx)
		case <-refresh.C:
			if r.Session.Phase() != PhaseCooldown {
				continue
			}
			if err := r.Session.Refresh(ctx); err != nil {
				r.Session.log.WithError(err).Debug("Runner: cooldown refresh failed")
			}
		}
	}
}
