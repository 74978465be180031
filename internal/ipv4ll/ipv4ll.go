// Package ipv4ll implements IPv4 link-local address self-configuration (RFC
// 3927) for a single interface: probing a candidate 169.254/16 address for
// conflicts, announcing it once claimed, and defending it against later
// conflicting ARP traffic. There is no off-the-shelf engine for this
// protocol anywhere in the usual Go dependency surface, so the probe/
// announce/defend state machine below is original; it follows the same
// background-goroutine-plus-event-channel shape as the DHCPv4 adapter so
// the link state machine can treat both identically.
package ipv4ll

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
)

// RFC 3927 §2.1 timing parameters.
const (
	probeWait         = 1 * time.Second
	probeNum          = 3
	probeMin          = 1 * time.Second
	probeMax          = 2 * time.Second
	announceWait      = 2 * time.Second
	announceNum       = 2
	announceInterval  = 2 * time.Second
	maxConflicts      = 10
	rateLimitInterval = 60 * time.Second
	defendInterval    = 10 * time.Second
)

// Sentinel errors.
const (
	errShortPacket errors.Error = "ipv4ll: short arp packet"
	errNotIPv4ARP  errors.Error = "ipv4ll: not an ipv4-over-ethernet arp packet"
)

// Event is the kind of event emitted on [Client.Events].
type Event uint8

// Event values.
const (
	Bind Event = iota
	Conflict
	Stop
)

// String implements the fmt.Stringer interface for Event.
func (e Event) String() (s string) {
	switch e {
	case Bind:
		return "bind"
	case Conflict:
		return "conflict"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Msg is delivered on [Client.Events].  Addr is set for Bind; it is nil for
// Conflict and Stop.
type Msg struct {
	Addr  net.IP
	Err   error
	Event Event
}

// Client is one adapter instance per link, mirroring dhcp4client.Client's
// shape: a background goroutine drives the protocol and reports lifecycle
// events on Events without ever touching Link state directly.
type Client struct {
	logger *slog.Logger

	ifaceName string
	hwAddr    net.HardwareAddr
	seed      uint64

	Events chan Msg

	bound net.IP

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Client bound to ifaceName. seed determines the sequence of
// candidate addresses it probes; pass 0 to derive it from hwAddr.
func New(logger *slog.Logger, ifaceName string, hwAddr net.HardwareAddr, seed uint64) (c *Client) {
	if seed == 0 {
		seed = seedFromHWAddr(hwAddr)
	}

	return &Client{
		logger:    logger.With(slogutil.KeyPrefix, "ipv4ll"),
		ifaceName: ifaceName,
		hwAddr:    hwAddr,
		seed:      seed,
		Events:    make(chan Msg, 8),
	}
}

// SetHWAddr propagates a MAC address change to the client.  It returns an
// error if the client is already running.
func (c *Client) SetHWAddr(hwAddr net.HardwareAddr) (err error) {
	if c.cancel != nil {
		return errors.Error("ipv4ll: cannot change hardware address while running")
	}

	c.hwAddr = hwAddr

	return nil
}

// Running reports whether the client's background goroutine is active.
func (c *Client) Running() (ok bool) {
	return c.cancel != nil
}

// Address returns the currently claimed link-local address, or nil if none
// is bound.
func (c *Client) Address() (addr net.IP) {
	return c.bound
}

// Start begins the probe/announce/defend loop in the background.
func (c *Client) Start() (err error) {
	if c.cancel != nil {
		return nil
	}

	ifi, err := net.InterfaceByName(c.ifaceName)
	if err != nil {
		return errors.Annotate(err, "ipv4ll: resolving interface %q: %w", c.ifaceName)
	}

	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeARP), nil)
	if err != nil {
		return errors.Annotate(err, "ipv4ll: opening packet socket on %q: %w", c.ifaceName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, conn)

	return nil
}

// Stop cancels the background goroutine and waits for it to exit.  It
// always sends a final Stop event.
func (c *Client) Stop() (err error) {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.bound = nil

	return nil
}

// run drives the probe/announce/defend state machine until ctx is
// cancelled.
func (c *Client) run(ctx context.Context, conn *packet.Conn) {
	defer close(c.done)

	recv := make(chan arpPacket, 16)
	recvDone := make(chan struct{})
	go c.recvLoop(conn, recv, recvDone)
	defer func() {
		conn.Close()
		<-recvDone
	}()

	attempt := 0
	conflicts := 0

	for {
		addr := candidate(c.seed, attempt)

		bound, conflicted := c.probe(ctx, conn, addr, recv)
		if ctx.Err() != nil {
			c.emit(Msg{Event: Stop})

			return
		}

		if conflicted {
			attempt++
			conflicts++
			if conflicts >= maxConflicts {
				c.logger.InfoContext(ctx, "rate limiting after repeated conflicts", "iface", c.ifaceName)

				select {
				case <-ctx.Done():
					c.emit(Msg{Event: Stop})

					return
				case <-time.After(rateLimitInterval):
				}

				conflicts = 0
			}

			continue
		}

		if !bound {
			c.emit(Msg{Event: Stop})

			return
		}

		c.announce(ctx, conn, addr)
		if ctx.Err() != nil {
			c.emit(Msg{Event: Stop})

			return
		}

		c.bound = addr
		c.emit(Msg{Event: Bind, Addr: addr})

		conflicts = 0
		if !c.defend(ctx, conn, addr, recv) {
			c.emit(Msg{Event: Stop})

			return
		}

		c.bound = nil
		c.emit(Msg{Event: Conflict})
		attempt++
	}
}

// probe sends probeNum ARP probes for addr at randomized intervals between
// probeMin and probeMax, after an initial probeWait, per RFC 3927 §2.2.1. It
// reports a conflict if any ARP reply for addr, or any probe for addr from a
// host with a different MAC, is observed.
func (c *Client) probe(
	ctx context.Context,
	conn *packet.Conn,
	addr net.IP,
	recv <-chan arpPacket,
) (bound, conflicted bool) {
	wait := probeWait
	for i := 0; i < probeNum; i++ {
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(wait):
		case pkt := <-recv:
			if probeConflicts(pkt, addr, c.hwAddr) {
				return false, true
			}
		}

		if err := c.sendARP(conn, arpRequest, net.IPv4zero, addr, zeroMAC); err != nil {
			c.logger.WarnContext(ctx, "sending probe", "iface", c.ifaceName, slogutil.KeyError, err)
		}

		wait = probeMin + time.Duration(rand.Int63n(int64(probeMax-probeMin)))
	}

	select {
	case <-ctx.Done():
		return false, false
	case <-time.After(wait):
	case pkt := <-recv:
		if probeConflicts(pkt, addr, c.hwAddr) {
			return false, true
		}
	}

	return true, false
}

// probeConflicts reports whether pkt indicates addr is already in use: a
// reply to our probe, or someone else probing for the same address.
func probeConflicts(pkt arpPacket, addr net.IP, ourMAC net.HardwareAddr) (conflict bool) {
	if pkt.SenderMAC.String() == ourMAC.String() {
		return false
	}

	if pkt.Op == arpReply && pkt.SenderIP.Equal(addr) {
		return true
	}

	if pkt.Op == arpRequest && pkt.SenderIP.Equal(net.IPv4zero.To4()) && pkt.TargetIP.Equal(addr) {
		return true
	}

	return false
}

// announce sends announceNum gratuitous ARPs for addr at announceInterval,
// after an initial announceWait, per RFC 3927 §2.3.
func (c *Client) announce(ctx context.Context, conn *packet.Conn, addr net.IP) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(announceWait):
	}

	for i := 0; i < announceNum; i++ {
		if err := c.sendARP(conn, arpRequest, addr, addr, zeroMAC); err != nil {
			c.logger.WarnContext(ctx, "sending announcement", "iface", c.ifaceName, slogutil.KeyError, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(announceInterval):
		}
	}
}

// defend watches the wire for conflicting traffic on addr, rate-limiting its
// own defensive announcements to at most one per defendInterval per RFC 3927
// §2.5. It returns false if ctx is cancelled, true if a conflict forced a
// re-probe.
func (c *Client) defend(
	ctx context.Context,
	conn *packet.Conn,
	addr net.IP,
	recv <-chan arpPacket,
) (conflicted bool) {
	var lastDefense time.Time

	for {
		select {
		case <-ctx.Done():
			return false
		case pkt := <-recv:
			if !probeConflicts(pkt, addr, c.hwAddr) {
				continue
			}

			if time.Since(lastDefense) > defendInterval {
				if err := c.sendARP(conn, arpRequest, addr, addr, zeroMAC); err != nil {
					c.logger.WarnContext(ctx, "sending defense", "iface", c.ifaceName, slogutil.KeyError, err)
				}

				lastDefense = time.Now()

				continue
			}

			return true
		}
	}
}

// recvLoop decodes incoming ARP frames and forwards them to recv until conn
// is closed.
func (c *Client) recvLoop(conn *packet.Conn, recv chan<- arpPacket, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 1514)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}

		var f ethernet.Frame
		if err = f.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}

		if f.EtherType != ethernet.EtherTypeARP {
			continue
		}

		var pkt arpPacket
		if err = pkt.UnmarshalBinary(f.Payload); err != nil {
			continue
		}

		select {
		case recv <- pkt:
		default:
		}
	}
}

// sendARP builds and transmits an IPv4-over-Ethernet ARP frame.
func (c *Client) sendARP(
	conn *packet.Conn,
	op arpOp,
	senderIP, targetIP net.IP,
	targetMAC net.HardwareAddr,
) (err error) {
	p := arpPacket{
		Op:        op,
		SenderMAC: c.hwAddr,
		SenderIP:  senderIP,
		TargetMAC: targetMAC,
		TargetIP:  targetIP,
	}

	payload, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	f := &ethernet.Frame{
		Destination: broadcastMAC,
		Source:      c.hwAddr,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     payload,
	}

	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = conn.WriteTo(b, &packet.Addr{HardwareAddr: broadcastMAC})

	return err
}

func (c *Client) emit(m Msg) {
	select {
	case c.Events <- m:
	default:
		c.logger.Warn("events channel full, dropping event", "event", m.Event)
	}
}
