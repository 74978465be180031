package dhcp4client

import (
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseFromAck(t *testing.T) {
	ack, err := dhcpv4.New(
		dhcpv4.WithYourIP(net.ParseIP("10.0.0.5").To4()),
		dhcpv4.WithNetmask(net.CIDRMask(24, 32)),
		dhcpv4.WithRouter(net.ParseIP("10.0.0.1").To4()),
		dhcpv4.WithDNS(net.ParseIP("10.0.0.1").To4()),
		dhcpv4.WithLeaseTime(3600),
		dhcpv4.WithGeneric(dhcpv4.OptionHostName, []byte("host")),
	)
	require.NoError(t, err)

	lease := leaseFromAck(ack)
	assert.Equal(t, net.ParseIP("10.0.0.5").To4(), lease.Address)
	assert.Equal(t, net.ParseIP("10.0.0.1").To4(), lease.Router)
	assert.Equal(t, "host", lease.Hostname)
	assert.Equal(t, time.Hour, lease.LeaseTime)
}

func TestRenewalInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, renewalInterval(10*time.Second))
	assert.Equal(t, time.Hour, renewalInterval(2*time.Hour))
}

func TestSameLease(t *testing.T) {
	a := &Lease{Address: net.ParseIP("10.0.0.5"), Netmask: net.CIDRMask(24, 32)}
	b := &Lease{Address: net.ParseIP("10.0.0.5"), Netmask: net.CIDRMask(24, 32)}
	assert.True(t, sameLease(a, b))

	c := &Lease{Address: net.ParseIP("10.0.0.6"), Netmask: net.CIDRMask(24, 32)}
	assert.False(t, sameLease(a, c))
}
