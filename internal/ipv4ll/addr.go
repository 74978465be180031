package ipv4ll

import (
	"encoding/binary"
	"hash/fnv"
	"net"
)

// linkLocalBase is the first octet pair of the 169.254/16 range.
const linkLocalBase = 0xA9FE0000 // 169.254.0.0

// firstUsable and lastUsable exclude the reserved 169.254.0.0/24 and
// 169.254.255.0/24 subnets, per RFC 3927 §2.1.
const (
	firstUsable = linkLocalBase + 0x0100 // 169.254.1.0
	lastUsable  = linkLocalBase + 0xFE00 // 169.254.254.0, +0xFF inclusive
)

const usableRange = lastUsable - firstUsable + 0xFF

// candidate returns the attempt'th deterministic link-local address derived
// from seed.  Seeding from a stable per-device value (rather than the
// system clock) means a device claims the same address across restarts
// absent a conflict, matching the "stable predictable" selection a
// link-local client is expected to make; attempt varies the address after
// each conflicting probe.
func candidate(seed uint64, attempt int) (ip net.IP) {
	h := fnv.New32a()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], seed)
	binary.BigEndian.PutUint64(buf[8:16], uint64(attempt))
	_, _ = h.Write(buf[:])

	offset := h.Sum32() % usableRange
	addr := firstUsable + offset

	b := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(b, addr)

	return b
}

// seedFromHWAddr derives a stable per-device seed from a MAC address, used
// when the caller has no more specific udev-derived seed available.
func seedFromHWAddr(hwAddr net.HardwareAddr) (seed uint64) {
	h := fnv.New64a()
	_, _ = h.Write(hwAddr)

	return h.Sum64()
}

// isUsable reports whether ip falls inside the non-reserved portion of
// 169.254/16.  candidate never returns an address outside this range;
// isUsable is the check the tests hold it to.
func isUsable(ip net.IP) (ok bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	v := binary.BigEndian.Uint32(ip4)

	return v >= firstUsable && v <= firstUsable+usableRange
}
