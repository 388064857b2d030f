package app

import (
	"context"
	"strings"

	"descbot/internal/config"
	"descbot/internal/observability/ops"
	"descbot/pkg/logx"
)

// reloadLoop applies hot-reloadable settings from each published config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	change := config.SummarizeChange(prev, cfg)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		// The validator ran before publish, so this is unexpected.
		a.log.Warn("config resolve failed; keeping previous", logx.Err(err))
		return
	}

	a.logs.SetTelegramTarget(s.GroupLogChatID, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(logConfig(cfg))

	a.disp.SetOwners(s.OwnerIDs)
	a.disp.SetRate(s.CommandRatePerMin)
	a.limiter.SetMinInterval(s.MinUpdateInterval)
	a.updater.SetMaxWait(s.MaxWait)

	if err := a.sched.Apply(scheduleEntries(cfg.Schedule)); err != nil {
		a.log.Warn("schedule rejected; keeping previous", logx.Err(err))
	}
	a.ops.Reconfigure(ctx, ops.FromSettings(cfg.Ops, s.OpsAddr))

	if len(change.RestartRequired) > 0 {
		a.log.Warn("config keys changed that need a restart", logx.String("keys", strings.Join(change.RestartRequired, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Changed, ","))}, change.Fields...)
	a.log.Info("config reloaded", fields...)
}
