package link_test

import (
	"log/slog"
	"net"
	"testing"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// fakeNetlinker records every call it receives and, unless told otherwise,
// replies synchronously with a nil error.
type fakeNetlinker struct {
	addrReplies  []func(err error)
	routeReplies []func(err error)

	newAddresses  []rtdesc.Address
	deletedAddrs  []rtdesc.Address
	newRoutes     []rtdesc.Route
	deletedRoutes []rtdesc.Route
	flagSets      []uint32
	mtuSets       []uint32

	// installReplyErr is returned only from NewAddress/NewRoute, modeling
	// an EEXIST a caller is expected to ignore without affecting the
	// unrelated SetLinkFlags/SetLinkMTU replies.
	installReplyErr error
	deferReplies    bool
}

func (f *fakeNetlinker) SetLinkFlags(_ int, _, flags uint32, reply func(err error)) {
	f.flagSets = append(f.flagSets, flags)
	f.dispatch(reply, nil)
}

func (f *fakeNetlinker) SetLinkMTU(_ int, mtu uint32, reply func(err error)) {
	f.mtuSets = append(f.mtuSets, mtu)
	f.dispatch(reply, nil)
}

func (f *fakeNetlinker) NewAddress(_ int, a rtdesc.Address, reply func(err error)) {
	f.newAddresses = append(f.newAddresses, a)
	f.addrReplies = append(f.addrReplies, reply)
	f.dispatch(reply, f.installReplyErr)
}

func (f *fakeNetlinker) DeleteAddress(_ int, a rtdesc.Address, reply func(err error)) {
	f.deletedAddrs = append(f.deletedAddrs, a)
	f.dispatch(reply, nil)
}

func (f *fakeNetlinker) NewRoute(_ int, r rtdesc.Route, reply func(err error)) {
	f.newRoutes = append(f.newRoutes, r)
	f.routeReplies = append(f.routeReplies, reply)
	f.dispatch(reply, f.installReplyErr)
}

func (f *fakeNetlinker) DeleteRoute(_ int, r rtdesc.Route, reply func(err error)) {
	f.deletedRoutes = append(f.deletedRoutes, r)
	f.dispatch(reply, nil)
}

func (f *fakeNetlinker) dispatch(reply func(err error), err error) {
	if f.deferReplies || reply == nil {
		return
	}

	reply(err)
}

// fakeNetDev attaches instantly and successfully.
type fakeNetDev struct {
	attached []string
}

func (f *fakeNetDev) Attach(_ int, _ link.NetDevKind, name string, reply func(err error)) {
	f.attached = append(f.attached, name)
	reply(nil)
}

// fakePersister records every snapshot it is given.
type fakePersister struct {
	labels []string
	leases []*dhcp4client.Lease
}

func (f *fakePersister) Save(_ int, label string, lease *dhcp4client.Lease) {
	f.labels = append(f.labels, label)
	f.leases = append(f.leases, lease)
}

func newTestLogger() (logger *slog.Logger) {
	return slog.New(slog.DiscardHandler)
}

func newTestLink(rt link.Netlinker, netdev link.NetDevAttacher, persister link.Persister) (l *link.Link) {
	return link.New(newTestLogger(), 7, "eth0", rt, netdev, nil, nil, persister, nil, nil)
}

func staticOnlyProfile() (p *link.Profile) {
	return &link.Profile{
		StaticAddresses: []link.StaticAddress{{
			IP:        net.ParseIP("192.0.2.10"),
			PrefixLen: 24,
		}},
	}
}
