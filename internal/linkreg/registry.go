// Package linkreg is the ifindex-keyed registry of [link.Link] state
// machines: it ingests RTM_NEWLINK/RTM_DELLINK broadcasts, creates and
// removes Links accordingly, and runs the single-threaded event loop that
// dispatches netlink replies and DHCP/IPv4LL events back to the Link that
// issued them.
package linkreg

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/agh"
	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// Sentinel errors for Add, matching the fatal-invariant-violation error
// kind: these indicate a caller or kernel-broadcast bug, not a transient
// condition.
const (
	// ErrInvalidIfindex is returned by Add for a non-positive ifindex.
	ErrInvalidIfindex errors.Error = "linkreg: invalid ifindex"

	// ErrDuplicateIfindex is returned by Add for an ifindex already present
	// in the registry.
	ErrDuplicateIfindex errors.Error = "linkreg: duplicate ifindex"
)

// Aliases for the narrow interfaces link.Link consumes, re-exported under
// the names the host Manager wires against.
type (
	NetDevAttacher = link.NetDevAttacher
	ProfileMatcher = link.ProfileMatcher
	UdevEnricher   = link.UdevEnricher
)

// Remover deletes persisted status/lease artifacts for a torn-down link.
// Implemented by statusfile.Sink.
type Remover interface {
	Remove(ifindex int)
}

// type check
var _ agh.Service = (*Registry)(nil)

// Registry owns one [link.Link] per kernel interface, keyed by ifindex, and
// the single rtnetlink connection all of them share.
type Registry struct {
	logger *slog.Logger

	rt        *rtdesc.Conn
	netdev    NetDevAttacher
	matcher   ProfileMatcher
	udev      UdevEnricher
	resolv    link.ResolvConfWriter
	hostnamed link.HostnameSetter
	persister link.Persister
	remover   Remover

	links map[int]*link.Link

	dhcpEvents   chan link.DHCPEvent
	ipv4llEvents chan link.IPv4LLEvent
	linkMessages chan linkMessage
}

// linkMessage is the parsed result of one RTM_NEWLINK/RTM_DELLINK broadcast,
// handed from the receive goroutine to Run.
type linkMessage struct {
	ifindex  int
	isDelete bool
	flags    uint32
	ifname   string
	mtu      uint32
	mac      net.HardwareAddr
}

// New returns a Registry. rt is dialed by the caller; Registry closes it in
// Shutdown.
func New(
	logger *slog.Logger,
	rt *rtdesc.Conn,
	netdev NetDevAttacher,
	matcher ProfileMatcher,
	udev UdevEnricher,
	resolv link.ResolvConfWriter,
	hostnamed link.HostnameSetter,
	persister link.Persister,
	remover Remover,
) (r *Registry) {
	return &Registry{
		logger:       logger.With(slogutil.KeyPrefix, "linkreg"),
		rt:           rt,
		netdev:       netdev,
		matcher:      matcher,
		udev:         udev,
		resolv:       resolv,
		hostnamed:    hostnamed,
		persister:    persister,
		remover:      remover,
		links:        map[int]*link.Link{},
		dhcpEvents:   make(chan link.DHCPEvent, 64),
		ipv4llEvents: make(chan link.IPv4LLEvent, 64),
		linkMessages: make(chan linkMessage, 64),
	}
}

// Start joins the RTNLGRP_LINK multicast group and starts the background
// goroutine that decodes broadcasts onto linkMessages for Run to consume.
func (r *Registry) Start() (err error) {
	if err = r.rt.JoinLinkGroup(); err != nil {
		return err
	}

	go r.receiveLoop()

	return nil
}

// Shutdown closes the shared rtnetlink connection, which unblocks
// receiveLoop's pending Receive call and causes it to exit.
func (r *Registry) Shutdown(_ context.Context) (err error) {
	return r.rt.Close()
}

// receiveLoop blocks reading multicast link messages until the connection
// is closed, parsing each and forwarding it onto linkMessages.
func (r *Registry) receiveLoop() {
	for {
		msgs, err := r.rt.Receive()
		if err != nil {
			r.logger.Info("link event receive stopped", slogutil.KeyError, err)

			return
		}

		for _, nm := range msgs {
			ifindex, isDelete, flags, ifname, mtu, mac, ok := rtdesc.ParseLinkMessage(nm)
			if !ok {
				continue
			}

			r.linkMessages <- linkMessage{
				ifindex:  ifindex,
				isDelete: isDelete,
				flags:    flags,
				ifname:   ifname,
				mtu:      mtu,
				mac:      mac,
			}
		}
	}
}

// Bootstrap seeds the registry with every interface the kernel already
// knows about, before the caller starts draining Run. It must be called
// after Start has joined the multicast group, so no RTM_NEWLINK broadcast
// for an interface created between the List call and the join is missed;
// handleLinkMessage's existing-vs-new branch makes the resulting duplicate
// delivery harmless.
func (r *Registry) Bootstrap() (err error) {
	infos, err := r.rt.ListLinks()
	if err != nil {
		return fmt.Errorf("listing existing links: %w", err)
	}

	for _, info := range infos {
		r.handleLinkMessage(linkMessage{
			ifindex: info.Ifindex,
			ifname:  info.Ifname,
			flags:   info.Flags,
			mtu:     info.MTU,
			mac:     info.MAC,
		})
	}

	return nil
}

// Add creates a Link for ifindex in StateInitializing and inserts it into
// the registry. It is the caller's responsibility to subsequently call
// Initialize (directly or via Recheck) once udev enrichment is ready.
func (r *Registry) Add(ifindex int, ifname string) (l *link.Link, err error) {
	if ifindex <= 0 {
		return nil, ErrInvalidIfindex
	}

	if _, exists := r.links[ifindex]; exists {
		return nil, ErrDuplicateIfindex
	}

	l = link.New(
		r.logger,
		ifindex,
		ifname,
		r.rt,
		r.netdev,
		r.resolv,
		r.hostnamed,
		r.persister,
		r.dhcpEvents,
		r.ipv4llEvents,
	)
	r.links[ifindex] = l

	return l, nil
}

// Remove tears down and forgets the Link for ifindex, and asks remover (if
// any) to delete its persisted status artifacts. A no-op for an unknown
// ifindex.
func (r *Registry) Remove(ifindex int) {
	l, found := r.links[ifindex]
	if !found {
		return
	}

	l.Teardown()
	delete(r.links, ifindex)

	if r.remover != nil {
		r.remover.Remove(ifindex)
	}
}

// Recheck retries profile matching for ifindex, e.g. once a udev event that
// was previously "not ready" resolves. A no-op if the link is unknown or has
// already left StateInitializing.
func (r *Registry) Recheck(ifindex int) {
	l, found := r.links[ifindex]
	if !found {
		return
	}

	r.initialize(l)
}

// initialize looks up udev enrichment for l and, if ready, matches and
// configures it.
func (r *Registry) initialize(l *link.Link) {
	dev, hasDevice, initialized := r.udev.Device(l.Ifindex)
	if !initialized {
		return
	}

	l.Initialize(r.matcher, dev, hasDevice)
}

// Run drains every event source onto the owning Link until ctx is
// cancelled: netlink replies, DHCP/IPv4LL adapter events, and parsed
// RTM_NEWLINK/RTM_DELLINK broadcasts. Every dispatch looks the current Link
// up by ifindex first, so a reply or event for a link already torn down is
// silently dropped rather than applied through a stale reference.
func (r *Registry) Run(ctx context.Context) (err error) {
	for {
		select {
		case <-ctx.Done():
			return nil

		case reply := <-r.rt.Replies:
			r.dispatchReply(reply)

		case ev := <-r.dhcpEvents:
			if l, found := r.links[ev.Ifindex]; found {
				l.HandleDHCPEvent(ev.Msg)
			}

		case ev := <-r.ipv4llEvents:
			if l, found := r.links[ev.Ifindex]; found {
				l.HandleIPv4LLEvent(ev.Msg)
			}

		case m := <-r.linkMessages:
			r.handleLinkMessage(m)
		}
	}
}

// dispatchReply invokes reply.Apply only if its Link is still registered.
func (r *Registry) dispatchReply(reply rtdesc.Reply) {
	if _, found := r.links[reply.Ifindex]; !found {
		r.logger.Debug("dropping reply for unregistered link", "ifindex", reply.Ifindex)

		return
	}

	if reply.Apply != nil {
		reply.Apply()
	}
}

// handleLinkMessage applies one parsed broadcast: a deletion removes the
// Link; an add/update either creates a new Link and attempts its initial
// profile match, or forwards the observed fields to an existing one.
func (r *Registry) handleLinkMessage(m linkMessage) {
	if m.isDelete {
		r.Remove(m.ifindex)

		return
	}

	l, found := r.links[m.ifindex]
	if !found {
		var err error
		l, err = r.Add(m.ifindex, m.ifname)
		if err != nil {
			r.logger.Warn("adding link failed", "ifindex", m.ifindex, slogutil.KeyError, err)

			return
		}

		l.Update(m.ifname, m.mtu, m.mac, m.flags)
		r.initialize(l)

		return
	}

	l.Update(m.ifname, m.mtu, m.mac, m.flags)
}
