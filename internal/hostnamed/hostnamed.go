// Package hostnamed issues the fire-and-forget transient hostname change
// DHCP_HOSTNAME-derived leases trigger, over the system D-Bus. No D-Bus
// library exists anywhere in the retrieval pack; github.com/godbus/dbus/v5
// is the standard ecosystem binding for this one concern, matching how the
// rest of linkd reaches for a protocol-specific third-party library rather
// than hand-rolling a wire format.
package hostnamed

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/linkd/internal/agh"
)

const (
	busName    = "org.freedesktop.hostname1"
	objectPath = dbus.ObjectPath("/org/freedesktop/hostname1")
	ifaceName  = "org.freedesktop.hostname1"
)

// type check
var _ agh.Service = (*Setter)(nil)

// Setter issues SetHostname calls over the system bus. A bus that is
// unreachable at Start is not an error; subsequent calls are
// silently skipped, matching how an unprivileged or containerized install
// has no hostname1 to talk to.
type Setter struct {
	logger *slog.Logger
	conn   *dbus.Conn
}

// New returns a Setter. The bus connection is established lazily in Start,
// not here, so construction never fails.
func New(logger *slog.Logger) (s *Setter) {
	return &Setter{
		logger: logger.With(slogutil.KeyPrefix, "hostnamed"),
	}
}

// Start dials the system bus. Failure to dial is logged, not returned: a
// missing hostname1 service must not prevent the rest of linkd from
// starting.
func (s *Setter) Start() (err error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		s.logger.Info("system bus unavailable, hostname changes will be skipped", slogutil.KeyError, err)

		return nil
	}

	s.conn = conn

	return nil
}

// Shutdown closes the bus connection, if one was established.
func (s *Setter) Shutdown(_ context.Context) (err error) {
	if s.conn == nil {
		return nil
	}

	return s.conn.Close()
}

// SetTransientHostname implements the link.HostnameSetter interface for
// Setter. name == "" clears the transient hostname. The call does not wait
// for a reply; a failure to even queue it is logged.
func (s *Setter) SetTransientHostname(name string) {
	if s.conn == nil {
		return
	}

	obj := s.conn.Object(busName, objectPath)
	call := obj.Go(ifaceName+".SetHostname", dbus.FlagNoReplyExpected, nil, name, false)
	if call.Err != nil {
		s.logger.Warn("setting transient hostname failed", "name", name, slogutil.KeyError, call.Err)
	}
}
