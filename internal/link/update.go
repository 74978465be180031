package link

import (
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/ipv4ll"
)

// Update applies a kernel RTM_NEWLINK broadcast: ifname is adopted only if
// non-empty (a broadcast omitting it must not blank out a previously known
// name), OriginalMTU is latched on the first observation only, a MAC
// change is propagated to the running DHCP/IPv4LL clients, and the new
// flag set is run through UpdateFlags.
func (l *Link) Update(ifname string, mtu uint32, mac net.HardwareAddr, flags uint32) {
	if l.State == StateFailed {
		return
	}

	if ifname != "" {
		l.Ifname = ifname
	}

	if !l.mtuLatched {
		l.OriginalMTU = mtu
		l.mtuLatched = true
	}

	if mac != nil && !macEqual(l.MAC, mac) {
		l.MAC = mac

		if l.dhcpClient != nil {
			if err := l.dhcpClient.SetHWAddr(mac); err != nil {
				l.logger.Warn("propagating mac change to dhcp client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
				l.EnterFailed()

				return
			}
		}

		if l.ipv4llClient != nil {
			if err := l.ipv4llClient.SetHWAddr(mac); err != nil {
				l.logger.Warn("propagating mac change to ipv4ll client failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
				l.EnterFailed()

				return
			}
		}
	}

	l.UpdateFlags(flags)
}

// Initialize matches the link against the profile set once its udev
// enrichment is known and, on a match, configures it. It is a no-op if the
// link has already left StateInitializing.
func (l *Link) Initialize(matcher ProfileMatcher, dev UdevDevice, hasDevice bool) {
	if l.State != StateInitializing {
		return
	}

	p, ok := matcher.Match(dev, hasDevice, l.Ifname, l.MAC)
	if !ok {
		return
	}

	l.Configure(p, dev)

	// The flags observed before a profile existed were never run through
	// UpdateFlags; replay them now so any carrier edge they imply fires.
	flags := l.Flags
	l.Flags = 0
	l.UpdateFlags(flags)
}

// Configure adopts profile, builds the DHCP/IPv4LL clients it enables, and
// starts enslaving the link. Event forwarder goroutines tag every message
// from each client with the link's ifindex and post it onto the shared
// registry-level channel, since select cannot range over a dynamic set of
// channels.
func (l *Link) Configure(p *Profile, dev UdevDevice) {
	l.Profile = p

	if p.DHCP {
		l.dhcpClient = dhcp4client.New(l.logger, l.Ifname, l.MAC)
		go l.forwardDHCPEvents(l.dhcpClient.Events)
	}

	if p.IPv4LL {
		l.ipv4llClient = ipv4ll.New(l.logger, l.Ifname, l.MAC, dev.Seed)
		go l.forwardIPv4LLEvents(l.ipv4llClient.Events)
	}

	l.EnterEnslave()
}

// forwardDHCPEvents copies events onto the registry-level channel tagged
// with this link's ifindex until in is closed.
func (l *Link) forwardDHCPEvents(in <-chan dhcp4client.Msg) {
	for msg := range in {
		l.dhcpOut <- DHCPEvent{Ifindex: l.Ifindex, Msg: msg}
	}
}

// forwardIPv4LLEvents is forwardDHCPEvents's counterpart for ipv4ll.Msg.
func (l *Link) forwardIPv4LLEvents(in <-chan ipv4ll.Msg) {
	for msg := range in {
		l.ipv4llOut <- IPv4LLEvent{Ifindex: l.Ifindex, Msg: msg}
	}
}
