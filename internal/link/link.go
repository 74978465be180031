// Package link implements the per-link configuration state machine: one
// instance per kernel network interface, driving it from discovery through
// enslavement, address/route acquisition, and into a configured or failed
// terminal state in response to kernel flag changes and DHCPv4/IPv4LL
// protocol events.
package link

import (
	"bytes"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/ipv4ll"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// State is one of the link's configuration phases.
type State uint8

// State values, in forward progression order; any state may transition to
// StateFailed.
const (
	StateInitializing State = iota
	StateEnslaving
	StateSettingAddresses
	StateSettingRoutes
	StateConfigured
	StateFailed
)

// String implements the fmt.Stringer interface for State.
func (s State) String() (str string) {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateEnslaving:
		return "enslaving"
	case StateSettingAddresses:
		return "setting_addresses"
	case StateSettingRoutes:
		return "setting_routes"
	case StateConfigured:
		return "configured"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// label is the public status-file state label. INITIALIZING, ENSLAVING,
// SETTING_ADDRESSES, and SETTING_ROUTES all collapse onto "configuring".
func (s State) label() (l string) {
	switch s {
	case StateConfigured:
		return "configured"
	case StateFailed:
		return "failed"
	default:
		return "configuring"
	}
}

// StaticAddress is a single statically-configured address from a profile,
// before it is expanded into an rtdesc.Address with derived broadcast and
// scope.
type StaticAddress struct {
	IP        net.IP
	PrefixLen uint8
}

// Profile carries exactly the fields the state machine needs to drive
// enslavement and address/route acquisition. Profile parsing and matching
// rules live with the host Manager; linkd only consumes the result.
type Profile struct {
	Bridge   string
	Bond     string
	VLANs    []string
	MACVLANs []string

	StaticAddresses []StaticAddress
	StaticRoutes    []rtdesc.Route

	DHCP         bool
	DHCPCritical bool
	DHCPDNS      bool
	DHCPMTU      bool
	DHCPHostname bool

	IPv4LL bool
}

// Netlinker is the subset of *rtdesc.Conn the state machine drives,
// extracted as an interface so tests can substitute a fake in place of a
// real rtnetlink socket.
type Netlinker interface {
	SetLinkFlags(ifindex int, mask, flags uint32, reply func(err error))
	SetLinkMTU(ifindex int, mtu uint32, reply func(err error))
	NewAddress(ifindex int, a rtdesc.Address, reply func(err error))
	DeleteAddress(ifindex int, a rtdesc.Address, reply func(err error))
	NewRoute(ifindex int, r rtdesc.Route, reply func(err error))
	DeleteRoute(ifindex int, r rtdesc.Route, reply func(err error))
}

// NetDevKind identifies the kind of virtual device a link is being attached
// to.
type NetDevKind uint8

// NetDevKind values.
const (
	NetDevBridge NetDevKind = iota
	NetDevBond
	NetDevVLAN
	NetDevMACVLAN
)

// NetDevAttacher enslaves a link to a bridge/bond/VLAN/MACVLAN device by
// name, reporting the result asynchronously on reply, on the event loop,
// exactly like an rtdesc reply. The host Manager implements this; linkd's
// own NetDev object internals are out of scope.
type NetDevAttacher interface {
	Attach(ifindex int, kind NetDevKind, name string, reply func(err error))
}

// UdevDevice is the minimal udev enrichment data the state machine
// consumes: a stable seed for IPv4LL candidate address selection.
type UdevDevice struct {
	Seed uint64
}

// UdevEnricher looks up the udev device backing an interface. Implementers
// running inside a container, where udev is unavailable, should treat
// every ifindex as having no device rather than erroring.
type UdevEnricher interface {
	// Device reports the udev device for ifindex and whether it is ready to
	// be matched against a profile. If initialized is false, a later udev
	// event is expected to retrigger matching.
	Device(ifindex int) (dev UdevDevice, hasDevice, initialized bool)
}

// ProfileMatcher matches a link's identity against the declarative profile
// set. linkd does not parse profiles; it only consumes the match result.
type ProfileMatcher interface {
	Match(dev UdevDevice, hasDevice bool, ifname string, mac net.HardwareAddr) (p *Profile, ok bool)
}

// ResolvConfWriter updates resolv.conf with the DNS servers from an
// acquired DHCP lease. NXDOMAIN/file-format concerns live with the host
// Manager.
type ResolvConfWriter interface {
	SetDNS(servers []net.IP)
}

// HostnameSetter issues the fire-and-forget transient hostname change.
// Passing "" clears it.
type HostnameSetter interface {
	SetTransientHostname(name string)
}

// Persister writes the crash-safe status snapshot after every state
// transition.
type Persister interface {
	Save(ifindex int, label string, lease *dhcp4client.Lease)
}

// DHCPEvent tags a dhcp4client.Msg with the ifindex of the Link whose
// client emitted it, so a single registry-level channel can multiplex
// events from every link's independently-running client.
type DHCPEvent struct {
	Ifindex int
	Msg     dhcp4client.Msg
}

// IPv4LLEvent is DHCPEvent's counterpart for ipv4ll.Msg.
type IPv4LLEvent struct {
	Ifindex int
	Msg     ipv4ll.Msg
}

// Link is one kernel network interface's configuration state machine.
// Every exported method is intended to run on the single-threaded event
// loop; no field requires a mutex.
type Link struct {
	logger *slog.Logger

	Ifindex int
	Ifname  string
	MAC     net.HardwareAddr

	Flags       uint32
	OriginalMTU uint32
	mtuLatched  bool

	Profile *Profile

	dhcpClient     *dhcp4client.Client
	ipv4llClient   *ipv4ll.Client
	lease          *dhcp4client.Lease
	ipv4llBound    net.IP
	dhcpMTUApplied bool

	enslaving     int
	addrMessages  int
	routeMessages int

	State State

	rt        Netlinker
	netdev    NetDevAttacher
	resolv    ResolvConfWriter
	hostnamed HostnameSetter
	persister Persister

	dhcpOut   chan<- DHCPEvent
	ipv4llOut chan<- IPv4LLEvent
}

// New allocates a Link in StateInitializing. It does not insert the Link
// into any registry; the caller owns that.
func New(
	logger *slog.Logger,
	ifindex int,
	ifname string,
	rt Netlinker,
	netdev NetDevAttacher,
	resolv ResolvConfWriter,
	hostnamed HostnameSetter,
	persister Persister,
	dhcpOut chan<- DHCPEvent,
	ipv4llOut chan<- IPv4LLEvent,
) (l *Link) {
	return &Link{
		logger:    logger.With(slogutil.KeyPrefix, "link", "ifindex", ifindex),
		Ifindex:   ifindex,
		Ifname:    ifname,
		State:     StateInitializing,
		rt:        rt,
		netdev:    netdev,
		resolv:    resolv,
		hostnamed: hostnamed,
		persister: persister,
		dhcpOut:   dhcpOut,
		ipv4llOut: ipv4llOut,
	}
}

// Teardown releases the Link's owned dynamic clients and lease. Called by
// the registry when the interface disappears.
func (l *Link) Teardown() {
	if l.dhcpClient != nil {
		_ = l.dhcpClient.Stop()
	}

	if l.ipv4llClient != nil {
		_ = l.ipv4llClient.Stop()
	}

	l.lease = nil
}

// persist writes the current state and lease to the status sink, if one is
// configured.
func (l *Link) persist() {
	if l.persister == nil {
		return
	}

	l.persister.Save(l.Ifindex, l.State.label(), l.lease)
}

// ignoreNotExist returns a reply callback that logs any error other than
// rtdesc.ErrNotExist under action.
func (l *Link) ignoreNotExist(action string) (reply func(err error)) {
	return func(err error) {
		if err != nil && !isNotExist(err) {
			l.logger.Warn(action+" failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
		}
	}
}

func macEqual(a, b net.HardwareAddr) (eq bool) {
	return bytes.Equal(a, b)
}
