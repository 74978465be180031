package link

import (
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// EnterSetAddresses transitions to StateSettingAddresses and installs every
// static address, the bound IPv4LL address (if DHCP has not taken over),
// and the DHCP lease address (if present). With nothing to install it
// short-circuits to EnterSetRoutes.
func (l *Link) EnterSetAddresses() {
	l.State = StateSettingAddresses
	l.persist()

	p := l.Profile
	hasIPv4LL := l.ipv4llBound != nil && l.lease == nil

	if len(p.StaticAddresses) == 0 && l.lease == nil && !hasIPv4LL {
		l.EnterSetRoutes()

		return
	}

	for _, a := range p.StaticAddresses {
		mask := net.CIDRMask(int(a.PrefixLen), 32)
		addr := rtdesc.Address{
			Address:                  a.IP,
			PrefixLen:                a.PrefixLen,
			Scope:                    rtdesc.ScopeUniverse,
			Broadcast:                rtdesc.Broadcast(a.IP, mask),
			PreferredLifetimeSeconds: rtdesc.Infinite,
		}

		l.addrMessages++
		l.rt.NewAddress(l.Ifindex, addr, l.onAddressReply)
	}

	if hasIPv4LL {
		l.addrMessages++
		l.rt.NewAddress(l.Ifindex, l.ipv4llAddress(l.ipv4llBound), l.onAddressReply)
	}

	if l.lease != nil {
		addr := rtdesc.Address{
			Address:                  l.lease.Address,
			PrefixLen:                rtdesc.PrefixLenFromMask(l.lease.Netmask),
			Scope:                    rtdesc.ScopeUniverse,
			Broadcast:                rtdesc.Broadcast(l.lease.Address, l.lease.Netmask),
			PreferredLifetimeSeconds: rtdesc.Infinite,
		}

		l.addrMessages++
		l.rt.NewAddress(l.Ifindex, addr, l.onAddressReply)
	}
}

// onAddressReply ignores EEXIST, logs any other error (not fatal for a
// single address), decrements addrMessages, and proceeds to
// EnterSetRoutes once every address reply has arrived and the link is
// still in StateSettingAddresses.
func (l *Link) onAddressReply(err error) {
	l.addrMessages--

	if err != nil && !isExists(err) {
		l.logger.Warn("installing address failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
	}

	if l.addrMessages == 0 && l.State == StateSettingAddresses {
		l.EnterSetRoutes()
	}
}
