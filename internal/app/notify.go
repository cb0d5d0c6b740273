package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"newsbot/pkg/logx"
)

// sdNotify reports lifecycle state to systemd when running as a
// Type=notify unit. Outside systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Debug("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("systemd notified", logx.String("state", state))
	}
}
