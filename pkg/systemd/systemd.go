// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "chatwarden/pkg/logx"
)

// Notifier wraps sd_notify with logging.
type Notifier struct {
	log logx.Logger
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log.With(logx.String("comp", "systemd")), notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) bool {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Ready tells systemd startup finished.
func (n *Notifier) Ready(status string) {
	if n.send(daemon.SdNotifyReady + "\nSTATUS=" + status) {
		n.log.Debug("sd_notify ready sent")
	}
}

// Stopping tells systemd shutdown began.
func (n *Notifier) Stopping(status string) {
	n.send(daemon.SdNotifyStopping + "\nSTATUS=" + status)
}

// Status updates the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// Watchdog pings systemd at half the WatchdogSec interval until ctx ends.
// It returns at once when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog config unreadable", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	n.watchdogLoop(ctx, every/2)
}

func (n *Notifier) watchdogLoop(ctx context.Context, interval time.Duration) {
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
