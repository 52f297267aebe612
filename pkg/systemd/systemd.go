// Package systemd speaks the sd_notify protocol. Every call is a no-op when
// the process isn't started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "signupbot/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	mu       sync.Mutex
	lastSent time.Time
	interval time.Duration
}

// New returns a notifier. When enabled is false every method does nothing.
func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{enabled: enabled, log: log}
	if enabled {
		if d, err := daemon.SdWatchdogEnabled(false); err != nil {
			log.Warn("systemd watchdog env invalid", logx.Err(err))
		} else {
			n.interval = d
		}
	}
	return n
}

// WatchdogInterval is WATCHDOG_USEC, or 0 when the unit has no watchdog.
func (n *Notifier) WatchdogInterval() time.Duration { return n.interval }

func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() bool { return n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the watchdog. Pings closer together than a quarter of the
// interval are dropped.
func (n *Notifier) Watchdog() bool {
	if !n.enabled || n.interval <= 0 {
		return false
	}
	n.mu.Lock()
	now := time.Now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.interval/4 {
		n.mu.Unlock()
		return false
	}
	n.lastSent = now
	n.mu.Unlock()
	return n.send(daemon.SdNotifyWatchdog)
}

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}
