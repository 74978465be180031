package ipv4ll

import (
	"encoding/binary"
	"net"

	"github.com/mdlayher/ethernet"
)

// arpOp is the ARP opcode (RFC 826).
type arpOp uint16

const (
	arpRequest arpOp = 1
	arpReply   arpOp = 2
)

// arpPacket is the IPv4-over-Ethernet ARP payload (RFC 826 §2, 28 bytes on
// the wire).  Hardware/protocol type and length fields are fixed at
// Ethernet/IPv4 since that is the only combination linkd ever speaks.
type arpPacket struct {
	Op        arpOp
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

const arpHeaderLen = 8
const arpIPv4OverEthernetLen = arpHeaderLen + 2*6 + 2*4

// MarshalBinary encodes p as an IPv4-over-Ethernet ARP payload.
func (p arpPacket) MarshalBinary() (b []byte, err error) {
	b = make([]byte, arpIPv4OverEthernetLen)

	binary.BigEndian.PutUint16(b[0:2], 1) // htype: Ethernet.
	binary.BigEndian.PutUint16(b[2:4], uint16(ethernet.EtherTypeIPv4))
	b[4] = 6 // hlen
	b[5] = 4 // plen
	binary.BigEndian.PutUint16(b[6:8], uint16(p.Op))

	copy(b[8:14], p.SenderMAC)
	copy(b[14:18], p.SenderIP.To4())
	copy(b[18:24], p.TargetMAC)
	copy(b[24:28], p.TargetIP.To4())

	return b, nil
}

// UnmarshalBinary decodes an IPv4-over-Ethernet ARP payload into p.  Packets
// using any other hardware/protocol type are rejected; linkd has no use for
// them.
func (p *arpPacket) UnmarshalBinary(b []byte) (err error) {
	if len(b) < arpIPv4OverEthernetLen {
		return errShortPacket
	}

	if binary.BigEndian.Uint16(b[0:2]) != 1 || b[4] != 6 ||
		binary.BigEndian.Uint16(b[2:4]) != uint16(ethernet.EtherTypeIPv4) || b[5] != 4 {
		return errNotIPv4ARP
	}

	p.Op = arpOp(binary.BigEndian.Uint16(b[6:8]))
	p.SenderMAC = net.HardwareAddr(append([]byte(nil), b[8:14]...))
	p.SenderIP = net.IP(append([]byte(nil), b[14:18]...))
	p.TargetMAC = net.HardwareAddr(append([]byte(nil), b[18:24]...))
	p.TargetIP = net.IP(append([]byte(nil), b[24:28]...))

	return nil
}

// broadcastMAC is the Ethernet broadcast address ARP requests/announcements
// are sent to.
var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}
