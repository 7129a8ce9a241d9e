package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"noticebot/pkg/logx"
)

// sdNotify reports state to systemd. Outside a notify-type unit it is a
// no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

func sdStatus(log logx.Logger, status string) { sdNotify(log, "STATUS="+status) }

// sdWatchdogLoop pings the systemd watchdog at half its interval while
// healthy returns true. It returns at once when WatchdogSec is unset.
func sdWatchdogLoop(ctx context.Context, log logx.Logger, healthy func(context.Context) bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, tick/2)
			ok := healthy(hctx)
			cancel()
			if ok {
				sdNotify(log, daemon.SdNotifyWatchdog)
			} else {
				log.Warn("health check failed; withholding systemd watchdog ping")
			}
		}
	}
}
