// Package rtdesc contains the address and route descriptor value types
// linkd installs into the kernel FIB and address table, along with the
// asynchronous rtnetlink submission helpers the link state machine uses to
// install and remove them.
package rtdesc

import (
	"net"

	"github.com/AdguardTeam/golibs/errors"
)

// Scope mirrors the rtnetlink scope constants relevant to IPv4 addresses and
// routes (RT_SCOPE_*).
type Scope uint8

// Scope values used by linkd.
const (
	ScopeUniverse Scope = 0
	ScopeLink     Scope = 253
	ScopeHost     Scope = 254
)

// Address is a value object describing a single IPv4 address to install on,
// or remove from, a link via RTM_NEWADDR/RTM_DELADDR.
type Address struct {
	// Address is the local address to assign.
	Address net.IP

	// Broadcast is the broadcast address to associate with Address, if any.
	Broadcast net.IP

	// PrefixLen is the address' prefix length, 0-32.
	PrefixLen uint8

	// Scope is the address scope (IFA_SCOPE).
	Scope Scope

	// PreferredLifetimeSeconds is the IFA_CACHEINFO preferred lifetime.  0
	// means "deprecated", and the well-known value math.MaxUint32 means
	// "infinite" (IFA_F_PERMANENT-equivalent preferred lifetime).
	PreferredLifetimeSeconds uint32
}

// Infinite is the cacheinfo value meaning "no expiration".
const Infinite uint32 = 0xFFFFFFFF

// Deprecated returns a with a preferred lifetime of zero, marking the address
// as deprecated without removing it.  Used when a DHCP lease takes over an
// IPv4LL address.
func (a Address) Deprecated() (out Address) {
	out = a
	out.PreferredLifetimeSeconds = 0

	return out
}

// Approved returns a with an infinite preferred lifetime.  Used when IPv4LL
// resumes ownership of its address after a DHCP lease is lost.
func (a Address) Approved() (out Address) {
	out = a
	out.PreferredLifetimeSeconds = Infinite

	return out
}

// Route is a value object describing a single IPv4 route to install or
// remove via RTM_NEWROUTE/RTM_DELROUTE.
type Route struct {
	// Dst is the destination network, or nil for the default route.
	Dst net.IP

	// Gateway is the next-hop address, or nil for an on-link route.
	Gateway net.IP

	// DstPrefixLen is the destination prefix length.  32 for a host route, 0
	// for the default route.
	DstPrefixLen uint8

	// Scope is the route scope.
	Scope Scope

	// Metric is the route priority (RTA_PRIORITY).
	Metric uint32
}

// DefaultRoute builds the IPv4 default route via gateway.
func DefaultRoute(gateway net.IP) (r Route) {
	return Route{
		Gateway:      gateway,
		DstPrefixLen: 0,
		Scope:        ScopeUniverse,
	}
}

// GatewayHostRoute builds the link-scope host route to gateway that must be
// installed before DefaultRoute so the default route's next hop resolves
// even though the lease's netmask may not cover the gateway.
func GatewayHostRoute(gateway net.IP) (r Route) {
	return Route{
		Dst:          gateway,
		DstPrefixLen: 32,
		Scope:        ScopeLink,
	}
}

// LinkLocalRoute builds the link-scope route installed for an IPv4LL-only
// configuration, at the low priority link-local routes must carry so a
// DHCP- or statically-derived route is always preferred.
func LinkLocalRoute(dst net.IP) (r Route) {
	return Route{
		Dst:          dst,
		DstPrefixLen: 16,
		Scope:        ScopeLink,
		Metric:       99,
	}
}

// Broadcast computes the IPv4 broadcast address for ip masked by netmask:
// addr | ^netmask.
func Broadcast(ip net.IP, netmask net.IPMask) (bcast net.IP) {
	ip4 := ip.To4()
	if ip4 == nil || len(netmask) != net.IPv4len {
		return nil
	}

	b := make(net.IP, net.IPv4len)
	for i := range b {
		b[i] = ip4[i] | ^netmask[i]
	}

	return b
}

// PrefixLenFromMask returns the number of leading ones in netmask.
func PrefixLenFromMask(netmask net.IPMask) (prefixLen uint8) {
	ones, _ := netmask.Size()

	return uint8(ones)
}

// Sentinel errors matching the rtnetlink reply errnos that are acceptable
// rather than fatal: EEXIST is ignored on install, ENOENT is ignored on
// drop.
const (
	ErrExists   errors.Error = "rtdesc: file exists"
	ErrNotExist errors.Error = "rtdesc: no such file or directory"
)
