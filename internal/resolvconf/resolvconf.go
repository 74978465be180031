// Package resolvconf writes the "nameserver" lines of resolv.conf from the
// DNS servers supplied by the most recently applied DHCP lease. Writing
// resolv.conf beyond a single interface call is the host Manager's
// responsibility, not the link state machine's; this package is that
// responsibility's concrete implementation.
package resolvconf

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"

	"github.com/AdguardTeam/linkd/internal/link"
)

// header is written at the top of every generated file so an administrator
// can tell linkd owns it.
const header = "# generated by linkd; do not edit\n"

// type check
var _ link.ResolvConfWriter = (*Writer)(nil)

// Writer overwrites a single resolv.conf path every time SetDNS is called.
// There is no merging with any other source of nameserver lines: the last
// caller wins, matching how most DHCP client hook scripts treat the file.
type Writer struct {
	logger *slog.Logger
	path   string
}

// New returns a Writer for the resolv.conf file at path.
func New(logger *slog.Logger, path string) (w *Writer) {
	return &Writer{
		logger: logger.With(slogutil.KeyPrefix, "resolvconf"),
		path:   path,
	}
}

// SetDNS implements the link.ResolvConfWriter interface for *Writer. An
// empty servers slice still (re)writes the file with just the header,
// clearing any previously configured nameservers.
func (w *Writer) SetDNS(servers []net.IP) {
	b := &strings.Builder{}
	b.WriteString(header)

	for _, s := range servers {
		_, _ = fmt.Fprintf(b, "nameserver %s\n", s.String())
	}

	err := maybe.WriteFile(w.path, []byte(b.String()), 0o644)
	if err != nil {
		w.logger.Warn("writing resolv.conf failed", "path", w.path, slogutil.KeyError, err)
	}
}
