package config

import (
	"net"

	"github.com/AdguardTeam/linkd/internal/link"
)

// type check
var _ link.ProfileMatcher = (*Matcher)(nil)

// Matcher implements link.ProfileMatcher against a decoded configuration's
// profile set, matching in file order with first-match-wins semantics, the
// same precedence systemd-networkd gives its .link files.
type Matcher struct {
	profiles []*profile
}

// NewMatcher returns a Matcher over c's profiles. c must not be modified
// afterwards.
func NewMatcher(c *Config) (m *Matcher) {
	return &Matcher{profiles: c.Profiles}
}

// Match implements the link.ProfileMatcher interface for *Matcher.
func (m *Matcher) Match(
	_ link.UdevDevice,
	_ bool,
	ifname string,
	mac net.HardwareAddr,
) (p *link.Profile, ok bool) {
	for _, candidate := range m.profiles {
		if candidate.matches(ifname, mac) {
			return candidate.toLinkProfile(), true
		}
	}

	return nil, false
}

// type check
var _ link.UdevEnricher = NilUdev{}

// NilUdev is a link.UdevEnricher that always reports no device, immediately
// ready for matching. It is the correct implementation to wire in a
// container, where no udev context is available.
type NilUdev struct{}

// Device implements the link.UdevEnricher interface for NilUdev.
func (NilUdev) Device(_ int) (dev link.UdevDevice, hasDevice, initialized bool) {
	return link.UdevDevice{}, false, true
}
