package link

import (
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/sys/unix"
)

// EnterEnslave transitions to StateEnslaving, persists, and submits one
// attach request per configured NetDev. With none configured it proceeds
// directly to Enslaved.
func (l *Link) EnterEnslave() {
	l.State = StateEnslaving
	l.persist()

	p := l.Profile
	any := false

	if p.Bridge != "" {
		any = true
		l.enslaving++
		l.netdev.Attach(l.Ifindex, NetDevBridge, p.Bridge, l.onEnslaveReply)
	}

	if p.Bond != "" {
		any = true
		l.enslaving++
		l.netdev.Attach(l.Ifindex, NetDevBond, p.Bond, l.onEnslaveReply)
	}

	for _, vlan := range p.VLANs {
		any = true
		l.enslaving++
		l.netdev.Attach(l.Ifindex, NetDevVLAN, vlan, l.onEnslaveReply)
	}

	for _, mv := range p.MACVLANs {
		any = true
		l.enslaving++
		l.netdev.Attach(l.Ifindex, NetDevMACVLAN, mv, l.onEnslaveReply)
	}

	if !any {
		l.Enslaved()
	}
}

// onEnslaveReply decrements the outstanding enslave counter. Any error is
// fatal for the link; reaching zero while still enslaving proceeds to
// Enslaved.
func (l *Link) onEnslaveReply(err error) {
	l.enslaving--

	if err != nil {
		l.logger.Warn("enslave failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
		l.EnterFailed()

		return
	}

	if l.enslaving == 0 && l.State == StateEnslaving {
		l.Enslaved()
	}
}

// Enslaved brings the link up if it is not already, and for a static-only
// profile (neither DHCP nor IPv4LL enabled) proceeds immediately to address
// installation without waiting for carrier.
func (l *Link) Enslaved() {
	if l.Flags&unix.IFF_UP == 0 {
		l.rt.SetLinkFlags(l.Ifindex, unix.IFF_UP, unix.IFF_UP, l.onUpReply)
	}

	if !l.Profile.DHCP && !l.Profile.IPv4LL {
		l.EnterSetAddresses()
	}
}

// onUpReply ORs IFF_UP into the cached flags on success, routed back
// through UpdateFlags so any carrier edge it implies is still derived
// consistently.
func (l *Link) onUpReply(err error) {
	if err != nil {
		l.logger.Warn("bringing link up failed", "ifindex", l.Ifindex, slogutil.KeyError, err)
		l.EnterFailed()

		return
	}

	l.UpdateFlags(l.Flags | unix.IFF_UP)
}
