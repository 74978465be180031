package link

import (
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// EnterSetRoutes transitions to StateSettingRoutes and installs every
// static route, an IPv4LL-only link-scope route, and, for a DHCP lease, the
// gateway host route followed by the default route. With nothing to
// install it short-circuits to EnterConfigured.
func (l *Link) EnterSetRoutes() {
	l.State = StateSettingRoutes
	l.persist()

	p := l.Profile
	ipv4llOnly := l.ipv4llBound != nil && l.lease == nil

	if len(p.StaticRoutes) == 0 && l.lease == nil && !ipv4llOnly {
		l.EnterConfigured()

		return
	}

	for _, r := range p.StaticRoutes {
		l.routeMessages++
		l.rt.NewRoute(l.Ifindex, r, l.onRouteReply)
	}

	if ipv4llOnly {
		net4 := l.ipv4llBound.Mask(net.CIDRMask(16, 32))

		l.routeMessages++
		l.rt.NewRoute(l.Ifindex, rtdesc.LinkLocalRoute(net4), l.onRouteReply)
	}

	if l.lease != nil {
		// Installed before the default route so the default route's
		// gateway resolves even when the lease's netmask masks it out.
		l.routeMessages++
		l.rt.NewRoute(l.Ifindex, rtdesc.GatewayHostRoute(l.lease.Router), l.onRouteReply)

		l.routeMessages++
		l.rt.NewRoute(l.Ifindex, rtdesc.DefaultRoute(l.lease.Router), l.onRouteReply)
	}
}

// onRouteReply ignores EEXIST, logs any other error, decrements
// routeMessages, and proceeds to EnterConfigured only when the counter
// reaches zero and the link is still in StateSettingRoutes — a route reply
// from a cycle the link has since left must not re-advance it.
func (l *Link) onRouteReply(err error) {
	l.routeMessages--

	if err != nil && !isExists(err) {
		l.logger.Warn("installing route failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
	}

	if l.routeMessages == 0 && l.State == StateSettingRoutes {
		l.EnterConfigured()
	}
}

// EnterConfigured marks the link as fully configured and persists the
// status snapshot.
func (l *Link) EnterConfigured() {
	l.State = StateConfigured
	l.persist()
}
