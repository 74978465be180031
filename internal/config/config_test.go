package config_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/linkd/internal/config"
	"github.com/AdguardTeam/linkd/internal/link"
)

const validYAML = `
links_dir: /run/linkd/links
leases_dir: /run/linkd/leases
profiles:
  - name: lan
    match:
      name: "eth*"
    bridge: br0
    dhcp: true
    dhcp_dns: true
  - name: static-wan
    match:
      mac: "aa:bb:cc:dd:ee:ff"
    static_addresses:
      - address: 192.0.2.10
        prefix_len: 24
    static_routes:
      - dst: ""
        gateway: 192.0.2.1
`

func writeConfig(t *testing.T, contents string) (path string) {
	t.Helper()

	dir := t.TempDir()
	path = filepath.Join(dir, "linkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

func TestRead_Valid(t *testing.T) {
	path := writeConfig(t, validYAML)

	c, err := config.Read(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/linkd/links", c.LinksDir)
	assert.Empty(t, c.ResolvConfPath)
	assert.Len(t, c.Profiles, 2)
}

func TestRead_ResolvConfPathOptional(t *testing.T) {
	path := writeConfig(t, validYAML+"resolv_conf_path: /run/linkd/resolv.conf\n")

	c, err := config.Read(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/linkd/resolv.conf", c.ResolvConfPath)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := config.Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRead_RejectsEmptyMatch(t *testing.T) {
	path := writeConfig(t, `
links_dir: /run/linkd/links
leases_dir: /run/linkd/leases
profiles:
  - name: bad
`)

	_, err := config.Read(path)
	assert.Error(t, err)
}

func TestRead_RejectsMissingDirs(t *testing.T) {
	path := writeConfig(t, `
profiles: []
`)

	_, err := config.Read(path)
	assert.Error(t, err)
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	path := writeConfig(t, validYAML)

	c, err := config.Read(path)
	require.NoError(t, err)

	m := config.NewMatcher(c)

	p, ok := m.Match(link.UdevDevice{}, false, "eth0", nil)
	require.True(t, ok)
	assert.Equal(t, "br0", p.Bridge)
	assert.True(t, p.DHCP)
}

func TestMatcher_MatchesByMAC(t *testing.T) {
	path := writeConfig(t, validYAML)

	c, err := config.Read(path)
	require.NoError(t, err)

	m := config.NewMatcher(c)

	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	p, ok := m.Match(link.UdevDevice{}, false, "wan0", mac)
	require.True(t, ok)
	assert.Len(t, p.StaticAddresses, 1)
	assert.Equal(t, "192.0.2.10", p.StaticAddresses[0].IP.String())
}

func TestMatcher_NoMatch(t *testing.T) {
	path := writeConfig(t, validYAML)

	c, err := config.Read(path)
	require.NoError(t, err)

	m := config.NewMatcher(c)

	_, ok := m.Match(link.UdevDevice{}, false, "wlan0", nil)
	assert.False(t, ok)
}

func TestNilUdev_AlwaysReady(t *testing.T) {
	dev, hasDevice, initialized := config.NilUdev{}.Device(3)
	assert.True(t, initialized)
	assert.False(t, hasDevice)
	assert.Zero(t, dev.Seed)
}
