package link

import (
	"net"

	"github.com/AdguardTeam/linkd/internal/ipv4ll"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// HandleIPv4LLEvent dispatches an ipv4ll.Msg to the matching lifecycle
// handler. It is a no-op once the link has failed.
func (l *Link) HandleIPv4LLEvent(msg ipv4ll.Msg) {
	if l.State == StateFailed {
		return
	}

	switch msg.Event {
	case ipv4ll.Bind:
		l.ipv4llBound = msg.Addr
		l.logger.Info("ipv4ll bound", "ifindex", l.Ifindex, "addr", msg.Addr)
		l.EnterSetAddresses()
	case ipv4ll.Conflict, ipv4ll.Stop:
		l.ipv4llAddressLost()
	}
}

// ipv4llAddressLost removes the currently bound IPv4LL address and its
// route, ignoring ENOENT. It is a no-op if nothing is bound.
func (l *Link) ipv4llAddressLost() {
	if l.ipv4llBound == nil {
		return
	}

	net4 := l.ipv4llBound.Mask(net.CIDRMask(16, 32))

	l.rt.DeleteAddress(l.Ifindex, l.ipv4llAddress(l.ipv4llBound), l.ignoreNotExist("deleting ipv4ll address"))
	l.rt.DeleteRoute(l.Ifindex, rtdesc.LinkLocalRoute(net4), l.ignoreNotExist("deleting ipv4ll route"))

	l.ipv4llBound = nil
}

// ipv4llAddress builds the rtdesc.Address descriptor for the link-local
// address addr: /16, link scope, infinite preferred lifetime (callers
// downgrade to Deprecated/Approved as the DHCP interaction requires).
func (l *Link) ipv4llAddress(addr net.IP) (a rtdesc.Address) {
	mask := net.CIDRMask(16, 32)

	return rtdesc.Address{
		Address:                  addr,
		PrefixLen:                16,
		Scope:                    rtdesc.ScopeLink,
		Broadcast:                rtdesc.Broadcast(addr, mask),
		PreferredLifetimeSeconds: rtdesc.Infinite,
	}
}
