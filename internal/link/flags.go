package link

import (
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/sys/unix"
)

// UpdateFlags applies a new kernel flag set, derives carrier edges, and
// starts or stops the dynamic clients accordingly. It is a no-op if the
// link has already failed or the flags are unchanged.
func (l *Link) UpdateFlags(newFlags uint32) {
	if l.State == StateFailed || newFlags == l.Flags {
		return
	}

	old := l.Flags
	added := ^old & newFlags
	removed := old &^ newFlags

	carrierGained := (added&unix.IFF_LOWER_UP != 0 && newFlags&unix.IFF_DORMANT == 0) ||
		(removed&unix.IFF_DORMANT != 0 && newFlags&unix.IFF_LOWER_UP != 0)

	hadCarrier := old&unix.IFF_LOWER_UP != 0 && old&unix.IFF_DORMANT == 0
	carrierLost := hadCarrier && (removed&unix.IFF_LOWER_UP != 0 || added&unix.IFF_DORMANT != 0)

	l.Flags = newFlags

	if l.Profile == nil {
		return
	}

	if carrierGained && (l.Profile.DHCP || l.Profile.IPv4LL) {
		l.acquireConf()
	}

	if carrierLost {
		l.releaseConf()
	}
}

// acquireConf starts whichever of the DHCP/IPv4LL clients are enabled.
// Failure to start either is fatal for the link.
func (l *Link) acquireConf() {
	if l.dhcpClient != nil && !l.dhcpClient.Running() {
		if err := l.dhcpClient.Start(); err != nil {
			l.logger.Warn("starting dhcp client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
			l.EnterFailed()

			return
		}
	}

	if l.ipv4llClient != nil && !l.ipv4llClient.Running() {
		if err := l.ipv4llClient.Start(); err != nil {
			l.logger.Warn("starting ipv4ll client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
			l.EnterFailed()

			return
		}
	}
}

// releaseConf stops whichever of the DHCP/IPv4LL clients are running.
// Errors from either stop are fatal for the link.
func (l *Link) releaseConf() {
	if l.dhcpClient != nil {
		if err := l.dhcpClient.Stop(); err != nil {
			l.logger.Warn("stopping dhcp client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
			l.EnterFailed()

			return
		}
	}

	if l.ipv4llClient != nil {
		if err := l.ipv4llClient.Stop(); err != nil {
			l.logger.Warn("stopping ipv4ll client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
			l.EnterFailed()

			return
		}
	}
}
