package link

import (
	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// HandleDHCPEvent dispatches a dhcp4client.Msg to the matching lifecycle
// handler. It is a no-op once the link has failed.
func (l *Link) HandleDHCPEvent(msg dhcp4client.Msg) {
	if l.State == StateFailed {
		return
	}

	switch msg.Event {
	case dhcp4client.Bound:
		l.dhcpLeaseAcquired(msg.Lease)
	case dhcp4client.Changed:
		if l.Profile.DHCPCritical {
			return
		}

		l.dhcpLeaseLost()
		l.dhcpLeaseAcquired(msg.Lease)
	case dhcp4client.Expired:
		l.dhcpLeaseLost()
		l.dhcpFallbackToIPv4LL()
	case dhcp4client.Stopped:
		l.dhcpLeaseLost()
	case dhcp4client.NoLease:
		l.logger.Info("dhcp offer conflicted during address detection", "ifindex", l.Ifindex, slogutil.KeyError, msg.Err)
	}
}

// dhcpLeaseAcquired adopts lease, applies the profile's optional DNS/MTU/
// hostname side effects, yields the IPv4LL address if one was bound, and
// enters address installation.
func (l *Link) dhcpLeaseAcquired(lease *dhcp4client.Lease) {
	l.lease = lease

	if l.Profile.DHCPDNS && l.resolv != nil {
		l.resolv.SetDNS(lease.DNS)
	}

	if l.Profile.DHCPMTU && lease.HasMTU {
		l.rt.SetLinkMTU(l.Ifindex, uint32(lease.MTU), func(err error) {
			if err != nil {
				l.logger.Warn("setting dhcp mtu failed", "ifindex", l.Ifindex, slogutil.KeyError, err)

				return
			}

			l.dhcpMTUApplied = true
		})
	}

	if l.Profile.DHCPHostname && lease.Hostname != "" && l.hostnamed != nil {
		l.hostnamed.SetTransientHostname(lease.Hostname)
	}

	if l.ipv4llClient != nil && l.ipv4llClient.Running() {
		if l.ipv4llBound != nil {
			l.rt.NewAddress(l.Ifindex, l.ipv4llAddress(l.ipv4llBound).Deprecated(), l.ignoreNotExist("deprecating ipv4ll address"))
		} else if err := l.ipv4llClient.Stop(); err != nil {
			l.logger.Warn("stopping ipv4ll client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
		}
	}

	l.EnterSetAddresses()
}

// dhcpLeaseLost tears down the address, gateway host route, and default
// route a prior lease installed, restores original_mtu if it was changed,
// clears the transient hostname, and releases the lease. It is a no-op if
// no lease is held; intermediate failures are swallowed (best-effort
// teardown) since the alternative — failing the link over a DEL that
// raced the interface's own removal — is worse than a leaked route.
func (l *Link) dhcpLeaseLost() {
	lease := l.lease
	if lease == nil {
		return
	}

	addr := rtdesc.Address{
		Address:   lease.Address,
		PrefixLen: rtdesc.PrefixLenFromMask(lease.Netmask),
		Scope:     rtdesc.ScopeUniverse,
		Broadcast: rtdesc.Broadcast(lease.Address, lease.Netmask),
	}
	l.rt.DeleteAddress(l.Ifindex, addr, l.ignoreNotExist("deleting dhcp address"))
	l.rt.DeleteRoute(l.Ifindex, rtdesc.GatewayHostRoute(lease.Router), l.ignoreNotExist("deleting gateway host route"))
	l.rt.DeleteRoute(l.Ifindex, rtdesc.DefaultRoute(lease.Router), l.ignoreNotExist("deleting default route"))

	if l.dhcpMTUApplied {
		l.rt.SetLinkMTU(l.Ifindex, l.OriginalMTU, func(err error) {
			if err != nil {
				l.logger.Warn("restoring original mtu failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
			}
		})
		l.dhcpMTUApplied = false
	}

	// Cleared to empty string rather than restored to any prior hostname;
	// there is no record of what, if anything, preceded the DHCP-supplied
	// name.
	if l.Profile.DHCPHostname && l.hostnamed != nil {
		l.hostnamed.SetTransientHostname("")
	}

	l.lease = nil
}

// dhcpFallbackToIPv4LL starts IPv4LL if it is enabled and not already
// running, or else re-approves its already-bound address
// (preferred_lifetime = infinite) since DHCP no longer takes precedence
// over it. Called only for EXPIRED, per the lease-loss handling.
func (l *Link) dhcpFallbackToIPv4LL() {
	if l.ipv4llClient == nil {
		return
	}

	if !l.ipv4llClient.Running() {
		if err := l.ipv4llClient.Start(); err != nil {
			l.logger.Warn("restarting ipv4ll client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
		}

		return
	}

	if l.ipv4llBound != nil {
		l.rt.NewAddress(l.Ifindex, l.ipv4llAddress(l.ipv4llBound).Approved(), l.ignoreNotExist("re-approving ipv4ll address"))
	}
}
