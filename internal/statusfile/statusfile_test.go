package statusfile_test

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/linkd/internal/dhcp4client"
	"github.com/AdguardTeam/linkd/internal/statusfile"
)

func TestSink_Save_NoLease(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "links")
	leases := filepath.Join(dir, "leases")

	s := statusfile.New(slog.New(slog.DiscardHandler), links, leases)
	require.NoError(t, s.Start())

	s.Save(3, "configured", nil)

	data, err := os.ReadFile(filepath.Join(links, "3"))
	require.NoError(t, err)
	assert.Equal(t, "STATE=configured\n", string(data))

	_, err = os.ReadFile(filepath.Join(leases, "3"))
	assert.True(t, os.IsNotExist(err))
}

func TestSink_Save_WithLease(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "links")
	leases := filepath.Join(dir, "leases")

	s := statusfile.New(slog.New(slog.DiscardHandler), links, leases)
	require.NoError(t, s.Start())

	lease := &dhcp4client.Lease{
		Address:   net.ParseIP("10.0.0.5"),
		Netmask:   net.CIDRMask(24, 32),
		Router:    net.ParseIP("10.0.0.1"),
		DNS:       []net.IP{net.ParseIP("10.0.0.1")},
		Hostname:  "h",
		MTU:       1400,
		HasMTU:    true,
		LeaseTime: time.Hour,
	}

	s.Save(4, "configured", lease)

	statusData, err := os.ReadFile(filepath.Join(links, "4"))
	require.NoError(t, err)
	assert.Contains(t, string(statusData), "STATE=configured\n")
	assert.Contains(t, string(statusData), "DHCP_LEASE="+filepath.Join(leases, "4"))

	leaseData, err := os.ReadFile(filepath.Join(leases, "4"))
	require.NoError(t, err)
	assert.Contains(t, string(leaseData), `"address":"10.0.0.5"`)
	assert.Contains(t, string(leaseData), `"router":"10.0.0.1"`)
	assert.Contains(t, string(leaseData), `"hostname":"h"`)
}

func TestSink_Remove(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "links")
	leases := filepath.Join(dir, "leases")

	s := statusfile.New(slog.New(slog.DiscardHandler), links, leases)
	require.NoError(t, s.Start())

	s.Save(5, "configured", nil)
	s.Remove(5)

	_, err := os.ReadFile(filepath.Join(links, strconv.Itoa(5)))
	assert.True(t, os.IsNotExist(err))

	// Removing again must not panic or error visibly.
	s.Remove(5)
}
