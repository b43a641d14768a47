package app

import (
	"context"
	"time"

	"chatwarden/internal/config"
	logx "chatwarden/pkg/logx"
)

const (
	jobNewsTick   = "news.tick"
	jobStatsFlush = "stats.flush"
	jobFloodPrune = "flood.prune"
	jobSetupPrune = "setup.prune"
)

// registerJobs (re)installs the cron jobs for cfg. Add replaces by name, so
// a reload can call it again.
func (a *App) registerJobs(cfg *config.Config) error {
	if cfg.News.Enabled {
		if err := a.sched.Add(jobNewsTick, newsTick(cfg), 5*time.Minute, a.newsTick); err != nil {
			return err
		}
	} else if a.sched.Remove(jobNewsTick) {
		a.log.Info("news disabled via config")
	}
	jobs := []struct {
		name, spec string
		timeout    time.Duration
		fn         func(context.Context) error
	}{
		{jobStatsFlush, "@every 1m", 30 * time.Second, a.flushStats},
		{jobFloodPrune, "@every 5m", 0, func(context.Context) error {
			a.flood.Prune(time.Now())
			return nil
		}},
		{jobSetupPrune, "@every 1m", 0, func(context.Context) error {
			if n := a.bot.PruneSessions(); n > 0 {
				a.log.Debug("expired setup sessions pruned", logx.Int("n", n))
			}
			return nil
		}},
	}
	for _, j := range jobs {
		if err := a.sched.Add(j.name, j.spec, j.timeout, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) newsTick(ctx context.Context) error {
	rep := a.engine.Tick(ctx)
	if rep.Due == 0 {
		return nil
	}
	a.log.Info("news tick",
		logx.String("slot", rep.Slot), logx.Int("due", rep.Due), logx.Int("fired", rep.Fired),
		logx.Int("delivered", rep.Delivered), logx.Int("removed", rep.Removed), logx.Int("busy", rep.Busy))
	return ctx.Err()
}

func (a *App) flushStats(ctx context.Context) error {
	if failed := a.stats.Flush(ctx); failed > 0 {
		a.log.Warn("stats flush incomplete; retrying next run", logx.Int("failed", failed))
	}
	return nil
}
