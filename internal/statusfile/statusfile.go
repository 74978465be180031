// Package statusfile implements the crash-safe per-link status sink:
// after every state transition the link state machine records its public
// state label and, if a DHCP lease is held, a pointer to a serialized
// snapshot of it. Both files are written atomically via temp-file-plus-
// rename so a reader never observes a partial file.
package statusfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"

	"github.com/AdguardTeam/linkd/internal/agh"
	"github.com/AdguardTeam/linkd/internal/dhcp4client"
)

// filePerm is the permission mode for both the status file and the lease
// snapshot.
const filePerm fs.FileMode = 0o644

// type check
var _ agh.Service = (*Sink)(nil)

// Sink writes the status file and lease snapshot for every link under
// linksDir and leasesDir respectively.
type Sink struct {
	logger    *slog.Logger
	linksDir  string
	leasesDir string
}

// New returns a Sink writing status files under linksDir and lease
// snapshots under leasesDir. Neither directory is created until Start.
func New(logger *slog.Logger, linksDir, leasesDir string) (s *Sink) {
	return &Sink{
		logger:    logger.With(slogutil.KeyPrefix, "statusfile"),
		linksDir:  linksDir,
		leasesDir: leasesDir,
	}
}

// Start creates linksDir and leasesDir if they do not already exist.
func (s *Sink) Start() (err error) {
	if err = os.MkdirAll(s.linksDir, 0o755); err != nil {
		return fmt.Errorf("creating links directory: %w", err)
	}

	if err = os.MkdirAll(s.leasesDir, 0o755); err != nil {
		return fmt.Errorf("creating leases directory: %w", err)
	}

	return nil
}

// Shutdown implements the agh.Service interface for Sink; it has nothing to
// release.
func (s *Sink) Shutdown(_ context.Context) (err error) {
	return nil
}

// leaseSnapshot is the on-disk shape of a lease snapshot file. The format
// is private to linkd; the status file only needs to name a path to it.
type leaseSnapshot struct {
	Address   string   `json:"address"`
	PrefixLen uint8    `json:"prefix_len"`
	Router    string   `json:"router,omitempty"`
	DNS       []string `json:"dns,omitempty"`
	Hostname  string   `json:"hostname,omitempty"`
	MTU       uint16   `json:"mtu,omitempty"`
	LeaseTime int64    `json:"lease_time_seconds"`
}

// Save implements the link.Persister interface for Sink: it writes the
// lease snapshot first (if lease is non-nil), then the status file
// pointing at it. A failure writing either file is logged and otherwise
// swallowed; the next transition will retry.
func (s *Sink) Save(ifindex int, label string, lease *dhcp4client.Lease) {
	statusPath := filepath.Join(s.linksDir, strconv.Itoa(ifindex))

	content := "STATE=" + label + "\n"

	if lease != nil {
		leasePath := filepath.Join(s.leasesDir, strconv.Itoa(ifindex))

		if err := s.writeLease(leasePath, lease); err != nil {
			s.logger.Warn("writing lease snapshot failed", "ifindex", ifindex, slogutil.KeyError, err)
		} else {
			content += "DHCP_LEASE=" + leasePath + "\n"
		}
	}

	if err := maybe.WriteFile(statusPath, []byte(content), filePerm); err != nil {
		s.logger.Warn("writing status file failed", "ifindex", ifindex, slogutil.KeyError, err)
	}
}

// writeLease serializes lease to path.
func (s *Sink) writeLease(path string, lease *dhcp4client.Lease) (err error) {
	ones, _ := lease.Netmask.Size()

	snap := leaseSnapshot{
		Address:   lease.Address.String(),
		PrefixLen: uint8(ones),
		Hostname:  lease.Hostname,
		LeaseTime: int64(lease.LeaseTime.Seconds()),
	}

	if lease.Router != nil {
		snap.Router = lease.Router.String()
	}

	for _, ip := range lease.DNS {
		snap.DNS = append(snap.DNS, ip.String())
	}

	if lease.HasMTU {
		snap.MTU = lease.MTU
	}

	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return maybe.WriteFile(path, buf, filePerm)
}

// Remove deletes the status file and lease snapshot for ifindex, ignoring
// a missing file. Called once a link is torn down and removed from the
// registry.
func (s *Sink) Remove(ifindex int) {
	statusPath := filepath.Join(s.linksDir, strconv.Itoa(ifindex))
	leasePath := filepath.Join(s.leasesDir, strconv.Itoa(ifindex))

	for _, p := range []string{statusPath, leasePath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing status artifact failed", "path", p, slogutil.KeyError, err)
		}
	}
}
