// Package systemd reports daemon state to the service manager when running
// as a Type=notify unit. Outside systemd every call is a cheap no-op.
package systemd

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
)

func NotifyReady() {
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
}

func NotifyStopping() {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
}

func NotifyStatus(status string) {
	_, _ = sd.SdNotify(false, "STATUS="+status)
}

// RunWatchdog pets the systemd watchdog at half the configured interval
// until ctx is cancelled. Returns immediately when no watchdog is set up.
func RunWatchdog(ctx context.Context) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}
