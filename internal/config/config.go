// Package config decodes and validates linkd's on-disk YAML configuration
// and exposes the decoded profile set as a link.ProfileMatcher. Profile
// parsing and matching rules are the host Manager's responsibility, not
// internal/link's or internal/linkreg's; this package is one concrete
// implementation of that responsibility, the one cmd/linkd wires in.
package config

import (
	"fmt"
	"net"
	"os"
	"path"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"

	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// validator is implemented by every on-disk entity that needs structural
// validation beyond what yaml.Unmarshal itself checks.
type validator interface {
	validate() (err error)
}

// Config is the top-level on-disk configuration structure.
type Config struct {
	// LinksDir is the directory status files are written under.
	LinksDir string `yaml:"links_dir"`

	// LeasesDir is the directory lease snapshots are written under.
	LeasesDir string `yaml:"leases_dir"`

	// ResolvConfPath is the path to the resolv.conf file that DHCP-acquired
	// nameservers are written to. An empty value disables resolv.conf
	// writing entirely; DHCP-supplied nameservers are then not written
	// anywhere.
	ResolvConfPath string `yaml:"resolv_conf_path"`

	// Profiles are matched against discovered links in order; the first
	// match wins.
	Profiles []*profile `yaml:"profiles"`
}

// type check
var _ validator = (*Config)(nil)

// validate implements the validator interface for *Config.
func (c *Config) validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	if c.LinksDir == "" {
		return errors.Error("links_dir must not be empty")
	}

	if c.LeasesDir == "" {
		return errors.Error("leases_dir must not be empty")
	}

	for i, p := range c.Profiles {
		if err = p.validate(); err != nil {
			return fmt.Errorf("profiles: at index %d: %w", i, err)
		}
	}

	return nil
}

// match is the on-disk set of criteria a link must satisfy for a profile to
// apply. At least one of Name/MAC must be set; validation rejects an empty
// match, so a profile can't be accidentally written as a catch-all.
type match struct {
	// Name is a shell glob (path.Match syntax) against the link's ifname.
	Name string `yaml:"name"`

	// MAC is an exact hardware address match, "" to not filter by MAC.
	MAC string `yaml:"mac"`
}

// staticAddress is the on-disk shape of a single static address.
type staticAddress struct {
	Address   string `yaml:"address"`
	PrefixLen uint8  `yaml:"prefix_len"`
}

// staticRoute is the on-disk shape of a single static route. Dst == "" is
// the default route.
type staticRoute struct {
	Dst          string `yaml:"dst"`
	DstPrefixLen uint8  `yaml:"dst_prefix_len"`
	Gateway      string `yaml:"gateway"`
	Metric       uint32 `yaml:"metric"`
}

// profile is the on-disk shape of a single declarative network profile.
type profile struct {
	Name  string `yaml:"name"`
	Match match  `yaml:"match"`

	Bridge   string   `yaml:"bridge"`
	Bond     string   `yaml:"bond"`
	VLANs    []string `yaml:"vlans"`
	MACVLANs []string `yaml:"macvlans"`

	StaticAddresses []staticAddress `yaml:"static_addresses"`
	StaticRoutes    []staticRoute   `yaml:"static_routes"`

	DHCP         bool `yaml:"dhcp"`
	DHCPCritical bool `yaml:"dhcp_critical"`
	DHCPDNS      bool `yaml:"dhcp_dns"`
	DHCPMTU      bool `yaml:"dhcp_mtu"`
	DHCPHostname bool `yaml:"dhcp_hostname"`

	IPv4LL bool `yaml:"ipv4ll"`
}

// type check
var _ validator = (*profile)(nil)

// validate implements the validator interface for *profile.
func (p *profile) validate() (err error) {
	if p == nil {
		return errors.ErrNoValue
	}

	if p.Name == "" {
		return errors.Error("name must not be empty")
	}

	if p.Match.Name == "" && p.Match.MAC == "" {
		return errors.Error("match: at least one of name or mac must be set")
	}

	if p.Match.Name != "" {
		if _, err = path.Match(p.Match.Name, ""); err != nil {
			return fmt.Errorf("match: name: %w", err)
		}
	}

	if p.Match.MAC != "" {
		if _, err = net.ParseMAC(p.Match.MAC); err != nil {
			return fmt.Errorf("match: mac: %w", err)
		}
	}

	for i, a := range p.StaticAddresses {
		if net.ParseIP(a.Address) == nil {
			return fmt.Errorf("static_addresses: at index %d: invalid address %q", i, a.Address)
		}
	}

	for i, r := range p.StaticRoutes {
		if r.Dst != "" && net.ParseIP(r.Dst) == nil {
			return fmt.Errorf("static_routes: at index %d: invalid dst %q", i, r.Dst)
		}

		if net.ParseIP(r.Gateway) == nil {
			return fmt.Errorf("static_routes: at index %d: invalid gateway %q", i, r.Gateway)
		}
	}

	return nil
}

// Read decodes and validates the configuration at fileName.
func Read(fileName string) (c *Config, err error) {
	defer func() { err = errors.Annotate(err, "reading config: %w") }()

	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	c = &Config{}
	if err = yaml.NewDecoder(f).Decode(c); err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if err = c.validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return c, nil
}

// Validate reports whether the configuration file at fileName exists and is
// valid, without keeping it around. Matches configmgr.Validate's shape for a
// pre-flight config check (e.g. a "--check-config" CLI flag).
func Validate(fileName string) (err error) {
	_, err = Read(fileName)

	return err
}

// toLinkProfile converts the on-disk profile p into the link.Profile the
// state machine consumes.
func (p *profile) toLinkProfile() (lp *link.Profile) {
	lp = &link.Profile{
		Bridge:       p.Bridge,
		Bond:         p.Bond,
		VLANs:        p.VLANs,
		MACVLANs:     p.MACVLANs,
		DHCP:         p.DHCP,
		DHCPCritical: p.DHCPCritical,
		DHCPDNS:      p.DHCPDNS,
		DHCPMTU:      p.DHCPMTU,
		DHCPHostname: p.DHCPHostname,
		IPv4LL:       p.IPv4LL,
	}

	for _, a := range p.StaticAddresses {
		lp.StaticAddresses = append(lp.StaticAddresses, link.StaticAddress{
			IP:        net.ParseIP(a.Address),
			PrefixLen: a.PrefixLen,
		})
	}

	for _, r := range p.StaticRoutes {
		route := rtdesc.Route{
			Gateway:      net.ParseIP(r.Gateway),
			DstPrefixLen: r.DstPrefixLen,
			Metric:       r.Metric,
			Scope:        rtdesc.ScopeUniverse,
		}

		if r.Dst != "" {
			route.Dst = net.ParseIP(r.Dst)
		}

		lp.StaticRoutes = append(lp.StaticRoutes, route)
	}

	return lp
}

// matches reports whether ifname/mac satisfy p's match criteria.
func (p *profile) matches(ifname string, mac net.HardwareAddr) (ok bool) {
	if p.Match.Name != "" {
		if matched, _ := path.Match(p.Match.Name, ifname); !matched {
			return false
		}
	}

	if p.Match.MAC != "" {
		want, err := net.ParseMAC(p.Match.MAC)
		if err != nil || !macEqual(want, mac) {
			return false
		}
	}

	return true
}

// macEqual reports whether a and b hold the same hardware address.
func macEqual(a, b net.HardwareAddr) (eq bool) {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
