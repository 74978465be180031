package rtdesc

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/rtnetlink"
	"golang.org/x/sys/unix"
)

// Reply is delivered to the single-threaded event loop once an asynchronous
// submission completes.  Callback dispatches by Ifindex rather than by a
// captured pointer, so a Link torn down while a request is outstanding
// cannot be referenced through a dangling reference; the loop looks the
// Link back up in the registry by Ifindex before invoking Apply.
type Reply struct {
	// Ifindex identifies the link the request was submitted for.
	Ifindex int

	// Err is nil on success, ErrExists/ErrNotExist for the ignorable
	// transient errnos, or any other error for a fatal failure.
	Err error

	// Apply runs the state-machine-specific reply handling on the loop
	// goroutine.  It is nil for replies with no associated handler (there is
	// always one in practice, but nil is tolerated defensively).
	Apply func()
}

// Conn is a thin asynchronous wrapper around a pair of rtnetlink sockets: rt
// issues the typed request/reply calls (RTM_SETLINK, RTM_NEWADDR, ...), and
// events is a raw socket joined to RTNLGRP_LINK whose multicast broadcasts
// retain the netlink header, which is the only place the kernel tells us
// whether a link message is RTM_NEWLINK or RTM_DELLINK. All submissions run
// their blocking syscalls on their own goroutine and post a Reply onto
// Replies for the owning event loop to drain; Conn never mutates caller
// state itself.
type Conn struct {
	rt      *rtnetlink.Conn
	events  *netlink.Conn
	Replies chan Reply
}

// Dial opens the rtnetlink sockets linkd uses for both outgoing requests and
// the RTM_NEWLINK/RTM_DELLINK broadcast feed.
func Dial() (c *Conn, err error) {
	rt, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dialing rtnetlink: %w", err)
	}

	events, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		rt.Close()

		return nil, fmt.Errorf("dialing rtnetlink event socket: %w", err)
	}

	return &Conn{
		rt:      rt,
		events:  events,
		Replies: make(chan Reply, 64),
	}, nil
}

// Close releases the underlying sockets.
func (c *Conn) Close() (err error) {
	err = c.rt.Close()
	if evErr := c.events.Close(); evErr != nil && err == nil {
		err = evErr
	}

	return err
}

// JoinLinkGroup subscribes the event socket to RTNLGRP_LINK so RTM_NEWLINK
// and RTM_DELLINK broadcasts are delivered to Receive.
func (c *Conn) JoinLinkGroup() (err error) {
	return c.events.JoinGroup(unix.RTNLGRP_LINK)
}

// Receive blocks for the next batch of multicast link messages. It is called
// from linkreg's own goroutine, which parses each message with
// ParseLinkMessage and forwards the result onto the event loop channel other
// adapters use.
func (c *Conn) Receive() (msgs []netlink.Message, err error) {
	return c.events.Receive()
}

// LinkInfo is one interface's identity as reported by ListLinks, the same
// fields ParseLinkMessage extracts from a live broadcast.
type LinkInfo struct {
	Ifindex int
	Ifname  string
	Flags   uint32
	MTU     uint32
	MAC     net.HardwareAddr
}

// ListLinks dumps every interface currently known to the kernel. The
// registry calls this once at startup, after joining the RTNLGRP_LINK
// multicast group, to seed itself with links that already existed; after
// that, ParseLinkMessage-decoded broadcasts keep the set current.
func (c *Conn) ListLinks() (infos []LinkInfo, err error) {
	links, err := c.rt.Link.List()
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}

	infos = make([]LinkInfo, 0, len(links))
	for _, l := range links {
		info := LinkInfo{
			Ifindex: int(l.Index),
			Flags:   l.Flags,
		}

		if a := l.Attributes; a != nil {
			info.Ifname = a.Name
			info.MTU = a.MTU
			if len(a.Address) > 0 {
				info.MAC = net.HardwareAddr(a.Address)
			}
		}

		infos = append(infos, info)
	}

	return infos, nil
}

// normalizeErr maps the well-known ignorable errnos onto the package
// sentinels so callers can use errors.Is.
func normalizeErr(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EEXIST:
			return ErrExists
		case syscall.ENOENT:
			return ErrNotExist
		}
	}

	return err
}

// submit runs fn on its own goroutine and posts its result, wrapped with
// apply, onto c.Replies.  fn must not touch any Link state directly; all
// Link mutation happens inside apply, which only ever runs on the loop
// goroutine once Replies is drained.
func (c *Conn) submit(ifindex int, fn func() error, apply func(err error)) {
	go func() {
		err := normalizeErr(fn())
		c.Replies <- Reply{
			Ifindex: ifindex,
			Err:     err,
			Apply:   func() { apply(err) },
		}
	}()
}

// SetLinkFlags issues RTM_SETLINK changing exactly the bits in mask to the
// corresponding bits of flags, e.g. (IFF_UP, IFF_UP) to bring a link up.
func (c *Conn) SetLinkFlags(ifindex int, mask, flags uint32, reply func(err error)) {
	c.submit(ifindex, func() error {
		return c.rt.Link.Set(&rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  uint32(ifindex),
			Flags:  flags,
			Change: mask,
		})
	}, reply)
}

// SetLinkMTU issues RTM_SETLINK changing the link's MTU.
func (c *Conn) SetLinkMTU(ifindex int, mtu uint32, reply func(err error)) {
	c.submit(ifindex, func() error {
		return c.rt.Link.Set(&rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  uint32(ifindex),
			Attributes: &rtnetlink.LinkAttributes{
				MTU: mtu,
			},
		})
	}, reply)
}

// ResolveIfindex looks up the ifindex of the interface named name by
// listing every link and matching on its name attribute. There is no
// get-by-name call in the typed API; List plus a name match is the same
// approach real rtnetlink consumers use to turn a configured device name
// into the ifindex every other call in this package needs.
func (c *Conn) ResolveIfindex(name string) (ifindex int, err error) {
	links, err := c.rt.Link.List()
	if err != nil {
		return 0, fmt.Errorf("listing links: %w", err)
	}

	for _, l := range links {
		if l.Attributes != nil && l.Attributes.Name == name {
			return int(l.Index), nil
		}
	}

	return 0, ErrNotExist
}

// AttachMaster issues RTM_SETLINK setting the link's IFLA_MASTER to
// masterIndex, enslaving it to a bridge/bond.
func (c *Conn) AttachMaster(ifindex, masterIndex int, reply func(err error)) {
	c.submit(ifindex, func() error {
		mi := uint32(masterIndex)

		return c.rt.Link.Set(&rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  uint32(ifindex),
			Attributes: &rtnetlink.LinkAttributes{
				Master: &mi,
			},
		})
	}, reply)
}

// AttachMasterByName resolves masterName to an ifindex and enslaves ifindex
// to it, both on the same submitted goroutine, so a caller never has to
// block the event loop on the intermediate List call ResolveIfindex needs.
func (c *Conn) AttachMasterByName(ifindex int, masterName string, reply func(err error)) {
	c.submit(ifindex, func() error {
		masterIndex, err := c.ResolveIfindex(masterName)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", masterName, err)
		}

		mi := uint32(masterIndex)

		return c.rt.Link.Set(&rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  uint32(ifindex),
			Attributes: &rtnetlink.LinkAttributes{
				Master: &mi,
			},
		})
	}, reply)
}

// NewAddress issues RTM_NEWADDR installing a.
func (c *Conn) NewAddress(ifindex int, a Address, reply func(err error)) {
	c.submit(ifindex, func() error {
		ip4 := a.Address.To4()
		msg := &rtnetlink.AddressMessage{
			Family:       unix.AF_INET,
			PrefixLength: a.PrefixLen,
			Scope:        uint8(a.Scope),
			Index:        uint32(ifindex),
			Attributes: &rtnetlink.AddressAttributes{
				Address:   ip4,
				Local:     ip4,
				Broadcast: a.Broadcast.To4(),
				CacheInfo: &rtnetlink.CacheInfo{
					Preferred: int32(a.PreferredLifetimeSeconds),
					Valid:     int32(Infinite),
				},
			},
		}

		return c.rt.Address.New(msg)
	}, reply)
}

// DeleteAddress issues RTM_DELADDR removing a.
func (c *Conn) DeleteAddress(ifindex int, a Address, reply func(err error)) {
	c.submit(ifindex, func() error {
		ip4 := a.Address.To4()
		msg := &rtnetlink.AddressMessage{
			Family:       unix.AF_INET,
			PrefixLength: a.PrefixLen,
			Scope:        uint8(a.Scope),
			Index:        uint32(ifindex),
			Attributes: &rtnetlink.AddressAttributes{
				Address: ip4,
				Local:   ip4,
			},
		}

		return c.rt.Address.Delete(msg)
	}, reply)
}

// NewRoute issues RTM_NEWROUTE installing r.
func (c *Conn) NewRoute(ifindex int, r Route, reply func(err error)) {
	c.submit(ifindex, func() error {
		return c.rt.Route.Add(routeMessage(ifindex, r))
	}, reply)
}

// DeleteRoute issues RTM_DELROUTE removing r.
func (c *Conn) DeleteRoute(ifindex int, r Route, reply func(err error)) {
	c.submit(ifindex, func() error {
		return c.rt.Route.Delete(routeMessage(ifindex, r))
	}, reply)
}

func routeMessage(ifindex int, r Route) (msg *rtnetlink.RouteMessage) {
	attrs := rtnetlink.RouteAttributes{
		OutIface: uint32(ifindex),
		Priority: r.Metric,
	}

	if r.Dst != nil {
		attrs.Dst = r.Dst.To4()
	}
	if r.Gateway != nil {
		attrs.Gateway = r.Gateway.To4()
	}

	return &rtnetlink.RouteMessage{
		Family:    unix.AF_INET,
		DstLength: r.DstPrefixLen,
		Table:     unix.RT_TABLE_MAIN,
		Protocol:  unix.RTPROT_STATIC,
		Scope:     uint8(r.Scope),
		Type:      unix.RTN_UNICAST,
		Attributes: attrs,
	}
}

// ParseLinkMessage extracts the fields the link registry needs from a raw
// multicast message received on the RTNLGRP_LINK group: whether it is a
// removal (RTM_DELLINK) or an add/update (RTM_NEWLINK), ifindex, flags, and
// the optional name/MTU/address attributes. A kernel broadcast omitting an
// attribute must not overwrite a previously known value; that merge is the
// caller's responsibility, not this function's. ok is false for any message
// that is not link-related (e.g. a stray RTM_NEWADDR delivered on the same
// group) or fails to unmarshal.
func ParseLinkMessage(nm netlink.Message) (
	ifindex int,
	isDelete bool,
	flags uint32,
	ifname string,
	mtu uint32,
	mac net.HardwareAddr,
	ok bool,
) {
	switch nm.Header.Type {
	case unix.RTM_NEWLINK:
		isDelete = false
	case unix.RTM_DELLINK:
		isDelete = true
	default:
		return 0, false, 0, "", 0, nil, false
	}

	var lm rtnetlink.LinkMessage
	if err := lm.UnmarshalBinary(nm.Data); err != nil {
		return 0, false, 0, "", 0, nil, false
	}

	ifindex = int(lm.Index)
	flags = lm.Flags

	if a := lm.Attributes; a != nil {
		ifname = a.Name
		mtu = a.MTU
		if len(a.Address) > 0 {
			mac = net.HardwareAddr(a.Address)
		}
	}

	return ifindex, isDelete, flags, ifname, mtu, mac, true
}
