// Package dhcp4client adapts the opaque DHCPv4 protocol engine from
// github.com/insomniacslk/dhcp into the event contract the link state
// machine expects: Bound, Changed, Expired, Stopped, NoLease, plus a
// Lease accessor.  The engine itself (dhcpv4 message construction and the
// nclient4 DORA handshake) is treated as a black box; this package only
// adds the event-loop-friendly lifecycle around it.
package dhcp4client

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
)

// Event is the kind of event emitted on [Client.Events].
type Event uint8

// Event values.
const (
	Bound Event = iota
	Changed
	Expired
	Stopped
	NoLease
)

// String implements the fmt.Stringer interface for Event.
func (e Event) String() (s string) {
	switch e {
	case Bound:
		return "bound"
	case Changed:
		return "changed"
	case Expired:
		return "expired"
	case Stopped:
		return "stopped"
	case NoLease:
		return "no_lease"
	default:
		return "unknown"
	}
}

// Msg is delivered on [Client.Events].  Lease is non-nil for Bound and
// Changed; it is the adapter's owned snapshot and must be treated as
// read-only by the receiver.
type Msg struct {
	Lease *Lease
	Err   error
	Event Event
}

// Lease is the set of fields the link state machine needs from a DHCPv4
// acknowledgement.
type Lease struct {
	Address   net.IP
	Netmask   net.IPMask
	Router    net.IP
	DNS       []net.IP
	Hostname  string
	MTU       uint16
	HasMTU    bool
	LeaseTime time.Duration
}

// Client is one adapter instance per link.  It owns the background
// goroutine that runs the DORA handshake and subsequent renewals; it never
// touches Link state directly; all state lives in the Msg values it sends
// on Events.
type Client struct {
	logger *slog.Logger

	ifaceName string
	hwAddr    net.HardwareAddr

	Events chan Msg

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Client bound to ifaceName.  hwAddr may be nil if the MAC is
// not yet known; call SetHWAddr once it is observed.
func New(logger *slog.Logger, ifaceName string, hwAddr net.HardwareAddr) (c *Client) {
	return &Client{
		logger:    logger.With(slogutil.KeyPrefix, "dhcp4client"),
		ifaceName: ifaceName,
		hwAddr:    hwAddr,
		Events:    make(chan Msg, 8),
	}
}

// SetHWAddr propagates a MAC address change to the client.  It returns an
// error if the client is already running, since the handshake state is
// tied to the original MAC.
func (c *Client) SetHWAddr(hwAddr net.HardwareAddr) (err error) {
	if c.cancel != nil {
		return errors.Error("dhcp4client: cannot change hardware address while running")
	}

	c.hwAddr = hwAddr

	return nil
}

// Running reports whether Start has been called without a matching Stop.
// It stays true after the background goroutine has exited on its own
// following an Expired or NoLease event.
func (c *Client) Running() (ok bool) {
	return c.cancel != nil
}

// Start begins the DORA handshake and subsequent lease renewal in the
// background.  It returns once the goroutine is launched; it does not wait
// for the first Bound event.
func (c *Client) Start() (err error) {
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	nc, err := nclient4.New(c.ifaceName, nclient4.WithHWAddr(c.hwAddr))
	if err != nil {
		cancel()
		c.cancel = nil

		return errors.Annotate(err, "dhcp4client: opening client on %q: %w", c.ifaceName)
	}

	go c.run(ctx, nc)

	return nil
}

// Stop cancels the background goroutine and waits for it to exit.  If the
// goroutine is still running, it sends a final Stopped event; after an
// Expired or NoLease event it has already exited and no Stopped event
// follows.
func (c *Client) Stop() (err error) {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done
	c.cancel = nil

	return nil
}

// run drives the discover/request/renew loop.  It returns when ctx is
// cancelled, after emitting NoLease if the initial request fails, or after
// emitting Expired if a renewal fails.
func (c *Client) run(ctx context.Context, nc *nclient4.Client) {
	defer close(c.done)
	defer nc.Close()

	_, ack, err := nc.Request(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.emit(Msg{Event: Stopped})

			return
		}

		c.logger.WarnContext(ctx, "discover/request failed", "iface", c.ifaceName, slogutil.KeyError, err)
		c.emit(Msg{Event: NoLease, Err: err})

		return
	}

	lease := leaseFromAck(ack)
	c.emit(Msg{Event: Bound, Lease: lease})

	renewAfter := renewalInterval(lease.LeaseTime)
	t := time.NewTimer(renewAfter)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			c.emit(Msg{Event: Stopped})

			return
		case <-t.C:
			_, renewed, rerr := nc.Request(ctx, dhcpv4.WithOption(
				dhcpv4.OptRequestedIPAddress(lease.Address),
			))
			if rerr != nil {
				if ctx.Err() != nil {
					c.emit(Msg{Event: Stopped})

					return
				}

				c.logger.InfoContext(ctx, "lease expired", "iface", c.ifaceName, slogutil.KeyError, rerr)
				c.emit(Msg{Event: Expired, Err: rerr})

				return
			}

			newLease := leaseFromAck(renewed)
			changed := !sameLease(lease, newLease)
			lease = newLease

			if changed {
				c.emit(Msg{Event: Changed, Lease: lease})
			}

			t.Reset(renewalInterval(lease.LeaseTime))
		}
	}
}

func (c *Client) emit(m Msg) {
	select {
	case c.Events <- m:
	default:
		c.logger.Warn("events channel full, dropping event", "event", m.Event)
	}
}

// renewalInterval returns half the lease time, the conventional T1 renewal
// point, clamped to a sane minimum so a zero/garbage lease time from a
// misbehaving server doesn't spin the renewal loop.
func renewalInterval(leaseTime time.Duration) (d time.Duration) {
	const minRenewal = 30 * time.Second

	half := leaseTime / 2
	if half < minRenewal {
		return minRenewal
	}

	return half
}

func sameLease(a, b *Lease) (same bool) {
	if a == nil || b == nil {
		return a == b
	}

	return a.Address.Equal(b.Address) &&
		net.IP(a.Netmask).Equal(net.IP(b.Netmask)) &&
		a.Router.Equal(b.Router)
}

// leaseFromAck extracts the address, netmask, router, DNS servers, MTU, and
// hostname fields linkd needs from a DHCPACK.
func leaseFromAck(ack *dhcpv4.DHCPv4) (l *Lease) {
	l = &Lease{
		Address:   ack.YourIPAddr,
		Netmask:   ack.SubnetMask(),
		Router:    firstIP(ack.Router()),
		DNS:       ack.DNS(),
		Hostname:  ack.HostName(),
		LeaseTime: ack.IPAddressLeaseTime(dhcpv4.MaxLeaseTime),
	}

	if mtu, ok := mtuOption(ack); ok {
		l.MTU = mtu
		l.HasMTU = true
	}

	return l
}

func firstIP(ips []net.IP) (ip net.IP) {
	if len(ips) == 0 {
		return nil
	}

	return ips[0]
}

func mtuOption(ack *dhcpv4.DHCPv4) (mtu uint16, ok bool) {
	opt := ack.Options.Get(dhcpv4.OptionInterfaceMTU)
	if len(opt) != 2 {
		return 0, false
	}

	return uint16(opt[0])<<8 | uint16(opt[1]), true
}
