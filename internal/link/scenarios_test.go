package link_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/ipv4ll"
	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

func TestLink_StaticOnly(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	l := newTestLink(rt, netdev, persister)
	l.Profile = staticOnlyProfile()

	l.EnterEnslave()

	assert.Empty(t, netdev.attached)
	require.Len(t, rt.flagSets, 1)
	assert.Equal(t, uint32(1), rt.flagSets[0]) // unix.IFF_UP
	require.Len(t, rt.newAddresses, 1)
	assert.Equal(t, "192.0.2.10", rt.newAddresses[0].Address.String())
	assert.Equal(t, link.StateConfigured, l.State)
	assert.Equal(t, "configured", persister.labels[len(persister.labels)-1])
}

func TestLink_EnslaveThenStaticOnly(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	l := newTestLink(rt, netdev, persister)
	l.Profile = &link.Profile{
		Bridge: "br0",
		StaticAddresses: []link.StaticAddress{{
			IP:        net.ParseIP("192.0.2.10"),
			PrefixLen: 24,
		}},
	}

	l.EnterEnslave()

	assert.Equal(t, []string{"br0"}, netdev.attached)
	assert.Equal(t, link.StateConfigured, l.State)
}

func TestLink_EnslaveFailurePropagates(t *testing.T) {
	rt := &fakeNetlinker{}
	persister := &fakePersister{}
	netdev := &failingNetDev{}

	l := newTestLink(rt, netdev, persister)
	l.Profile = &link.Profile{Bridge: "br0"}

	l.EnterEnslave()

	assert.Equal(t, link.StateFailed, l.State)
	assert.Empty(t, rt.flagSets)
}

func TestLink_DHCPAcquire(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	dns := &fakeResolv{}
	hostnamed := &fakeHostnamed{}

	logger := newTestLogger()
	l := link.New(logger, 9, "eth0", rt, netdev, dns, hostnamed, persister, nil, nil)
	l.Profile = &link.Profile{
		DHCP:         true,
		DHCPDNS:      true,
		DHCPMTU:      true,
		DHCPHostname: true,
	}

	lease := &dhcp4client.Lease{
		Address:  net.ParseIP("198.51.100.5"),
		Netmask:  net.CIDRMask(24, 32),
		Router:   net.ParseIP("198.51.100.1"),
		DNS:      []net.IP{net.ParseIP("198.51.100.1")},
		Hostname: "host-a",
		MTU:      1400,
		HasMTU:   true,
	}

	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Bound, Lease: lease})

	assert.Equal(t, []net.IP{net.ParseIP("198.51.100.1")}, dns.servers)
	assert.Equal(t, []string{"host-a"}, hostnamed.names)
	require.Len(t, rt.mtuSets, 1)
	assert.Equal(t, uint32(1400), rt.mtuSets[0])

	require.Len(t, rt.newAddresses, 1)
	assert.Equal(t, "198.51.100.5", rt.newAddresses[0].Address.String())

	require.Len(t, rt.newRoutes, 2)
	assert.Equal(t, "198.51.100.1", rt.newRoutes[0].Dst.String()) // gateway host route first
	assert.Nil(t, rt.newRoutes[1].Dst)                            // default route second

	assert.Equal(t, link.StateConfigured, l.State)
}

func TestLink_DHCPLeaseLostRestoresMTUAndClearsHostname(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}
	hostnamed := &fakeHostnamed{}

	logger := newTestLogger()
	l := link.New(logger, 9, "eth0", rt, netdev, nil, hostnamed, persister, nil, nil)
	l.Profile = &link.Profile{DHCP: true, DHCPMTU: true, DHCPHostname: true}

	lease := &dhcp4client.Lease{
		Address: net.ParseIP("198.51.100.5"),
		Netmask: net.CIDRMask(24, 32),
		Router:  net.ParseIP("198.51.100.1"),
		MTU:     1400,
		HasMTU:  true,
	}
	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Bound, Lease: lease})

	rt.mtuSets = nil
	hostnamed.names = nil

	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Stopped})

	require.Len(t, rt.deletedAddrs, 1)
	assert.Equal(t, "198.51.100.5", rt.deletedAddrs[0].Address.String())
	require.Len(t, rt.deletedRoutes, 2)

	require.Len(t, rt.mtuSets, 1)
	assert.Equal(t, uint32(0), rt.mtuSets[0]) // OriginalMTU, never latched in this test

	require.Len(t, hostnamed.names, 1)
	assert.Equal(t, "", hostnamed.names[0])
}

func TestLink_DHCPChangedCriticalIgnoresUpdate(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	logger := newTestLogger()
	l := link.New(logger, 9, "eth0", rt, netdev, nil, nil, persister, nil, nil)
	l.Profile = &link.Profile{DHCP: true, DHCPCritical: true}

	lease := &dhcp4client.Lease{Address: net.ParseIP("198.51.100.5"), Netmask: net.CIDRMask(24, 32)}
	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Bound, Lease: lease})

	addrCountAfterBind := len(rt.newAddresses)

	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Changed, Lease: &dhcp4client.Lease{
		Address: net.ParseIP("198.51.100.6"),
		Netmask: net.CIDRMask(24, 32),
	}})

	assert.Len(t, rt.newAddresses, addrCountAfterBind)
	assert.Empty(t, rt.deletedAddrs)
}

func TestLink_IPv4LLBindThenDHCPTakesOver(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	logger := newTestLogger()
	l := link.New(logger, 9, "eth0", rt, netdev, nil, nil, persister, nil, nil)
	l.Profile = &link.Profile{DHCP: true, IPv4LL: true}

	llAddr := net.ParseIP("169.254.12.34")
	l.HandleIPv4LLEvent(ipv4ll.Msg{Event: ipv4ll.Bind, Addr: llAddr})

	require.Len(t, rt.newAddresses, 1)
	assert.Equal(t, "169.254.12.34", rt.newAddresses[0].Address.String())
	assert.Equal(t, link.StateConfigured, l.State)

	rt.newAddresses = nil

	lease := &dhcp4client.Lease{Address: net.ParseIP("198.51.100.5"), Netmask: net.CIDRMask(24, 32)}
	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Bound, Lease: lease})

	// Only the DHCP address is (re-)installed; the link-local address is
	// left alone since no ipv4llClient was wired to deprecate it.
	require.Len(t, rt.newAddresses, 1)
	assert.Equal(t, "198.51.100.5", rt.newAddresses[0].Address.String())
}

func TestLink_IPv4LLConflictTearsDownAddress(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	logger := newTestLogger()
	l := link.New(logger, 9, "eth0", rt, netdev, nil, nil, persister, nil, nil)
	l.Profile = &link.Profile{IPv4LL: true}

	llAddr := net.ParseIP("169.254.12.34")
	l.HandleIPv4LLEvent(ipv4ll.Msg{Event: ipv4ll.Bind, Addr: llAddr})
	require.Len(t, rt.newAddresses, 1)

	l.HandleIPv4LLEvent(ipv4ll.Msg{Event: ipv4ll.Conflict})

	require.Len(t, rt.deletedAddrs, 1)
	assert.Equal(t, "169.254.12.34", rt.deletedAddrs[0].Address.String())
	require.Len(t, rt.deletedRoutes, 1)
}

func TestLink_CarrierFlapWithoutProfileIsNoop(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	l := newTestLink(rt, netdev, persister)

	l.UpdateFlags(0x10001) // IFF_UP | IFF_LOWER_UP, no profile yet

	assert.Empty(t, rt.newAddresses)
	assert.Equal(t, link.StateInitializing, l.State)
}

func TestLink_UpdateLatchesMTUOnce(t *testing.T) {
	rt := &fakeNetlinker{}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	l := newTestLink(rt, netdev, persister)

	l.Update("eth0", 1500, nil, 0)
	l.Update("eth0", 9000, nil, 0)

	// Verify the latched OriginalMTU through the value restored on an
	// eventual DHCP lease loss.
	l.Profile = &link.Profile{DHCP: true, DHCPMTU: true}
	lease := &dhcp4client.Lease{
		Address: net.ParseIP("198.51.100.5"),
		Netmask: net.CIDRMask(24, 32),
		MTU:     1400,
		HasMTU:  true,
	}
	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Bound, Lease: lease})
	rt.mtuSets = nil
	l.HandleDHCPEvent(dhcp4client.Msg{Event: dhcp4client.Stopped})

	require.Len(t, rt.mtuSets, 1)
	assert.Equal(t, uint32(1500), rt.mtuSets[0])
}

func TestLink_IgnoresUpdateAfterFailed(t *testing.T) {
	rt := &fakeNetlinker{}
	persister := &fakePersister{}
	netdev := &failingNetDev{}

	l := newTestLink(rt, netdev, persister)
	l.Profile = &link.Profile{Bridge: "br0"}
	l.EnterEnslave()
	require.Equal(t, link.StateFailed, l.State)

	l.Update("eth1", 1500, nil, 0x10001)
	assert.Equal(t, "eth0", l.Ifname)
}

func TestLink_AddressEEXISTIsIgnored(t *testing.T) {
	rt := &fakeNetlinker{installReplyErr: rtdesc.ErrExists}
	netdev := &fakeNetDev{}
	persister := &fakePersister{}

	l := newTestLink(rt, netdev, persister)
	l.Profile = staticOnlyProfile()

	l.EnterEnslave()

	assert.Equal(t, link.StateConfigured, l.State)
}

// failingNetDev always reports an attach failure.
type failingNetDev struct{}

func (failingNetDev) Attach(_ int, _ link.NetDevKind, _ string, reply func(err error)) {
	reply(assertErr)
}

var assertErr = errStub("attach failed")

type errStub string

func (e errStub) Error() (s string) { return string(e) }

// fakeResolv records SetDNS calls.
type fakeResolv struct {
	servers []net.IP
}

func (f *fakeResolv) SetDNS(servers []net.IP) {
	f.servers = servers
}

// fakeHostnamed records SetTransientHostname calls.
type fakeHostnamed struct {
	names []string
}

func (f *fakeHostnamed) SetTransientHostname(name string) {
	f.names = append(f.names, name)
}
