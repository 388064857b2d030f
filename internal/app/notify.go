package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"descbot/pkg/logx"
)

const (
	notifyReady    = daemon.SdNotifyReady
	notifyStopping = daemon.SdNotifyStopping
)

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the unit's WatchdogSec while health
// reports nil. A failing check lets systemd restart the unit.
func watchdog(ctx context.Context, log logx.Logger, health func() error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := health(); err != nil {
				log.Warn("unhealthy; withholding watchdog ping", logx.Err(err))
				continue
			}
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
