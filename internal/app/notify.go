package app

import (
	"context"
	"time"

	logx "pifan/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier reports service state to the init system.
type Notifier interface {
	Notify(state string) error
	// WatchdogInterval returns 0 when no watchdog is configured.
	WatchdogInterval() time.Duration
}

// sdNotifier talks to systemd over $NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type sdNotifier struct{}

func (sdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func (sdNotifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

func (a *App) notify(state string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// watchdog pings at half the configured interval until ctx is done.
func (a *App) watchdog(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}
