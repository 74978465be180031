package linkreg

import (
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// fakeUdev never reports a device, matching a container with no udev
// context, unless initialized is false, in which case it models a device
// not yet enriched.
type fakeUdev struct {
	initialized bool
}

func (u fakeUdev) Device(_ int) (dev link.UdevDevice, hasDevice, initialized bool) {
	return link.UdevDevice{}, false, u.initialized
}

// fakeMatcher never matches a profile, so a Link it's asked to initialize
// stays in StateInitializing without ever touching the (possibly nil)
// Netlinker.
type fakeMatcher struct{}

func (fakeMatcher) Match(_ link.UdevDevice, _ bool, _ string, _ net.HardwareAddr) (p *link.Profile, ok bool) {
	return nil, false
}

type fakeRemover struct {
	removed []int
}

func (r *fakeRemover) Remove(ifindex int) {
	r.removed = append(r.removed, ifindex)
}

func newTestRegistry(udevInitialized bool, remover Remover) *Registry {
	return New(
		slog.New(slog.DiscardHandler),
		&rtdesc.Conn{},
		nil,
		fakeMatcher{},
		fakeUdev{initialized: udevInitialized},
		nil,
		nil,
		nil,
		remover,
	)
}

func TestRegistry_AddRejectsInvalidIfindex(t *testing.T) {
	r := newTestRegistry(true, nil)

	_, err := r.Add(0, "eth0")
	assert.ErrorIs(t, err, ErrInvalidIfindex)

	_, err = r.Add(-1, "eth0")
	assert.ErrorIs(t, err, ErrInvalidIfindex)
}

func TestRegistry_AddRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(true, nil)

	_, err := r.Add(3, "eth0")
	require.NoError(t, err)

	_, err = r.Add(3, "eth0")
	assert.ErrorIs(t, err, ErrDuplicateIfindex)
}

func TestRegistry_RemoveTearsDownAndAllowsReAdd(t *testing.T) {
	remover := &fakeRemover{}
	r := newTestRegistry(true, remover)

	_, err := r.Add(4, "eth0")
	require.NoError(t, err)

	r.Remove(4)
	assert.Equal(t, []int{4}, remover.removed)
	assert.NotContains(t, r.links, 4)

	_, err = r.Add(4, "eth0")
	assert.NoError(t, err)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	remover := &fakeRemover{}
	r := newTestRegistry(true, remover)

	assert.NotPanics(t, func() { r.Remove(99) })
	assert.Empty(t, remover.removed)
}

func TestRegistry_HandleLinkMessage_AddsNewLinkAndAttemptsMatch(t *testing.T) {
	r := newTestRegistry(true, nil)

	r.handleLinkMessage(linkMessage{ifindex: 5, ifname: "eth0", flags: 0})

	l, found := r.links[5]
	require.True(t, found)
	assert.Equal(t, "eth0", l.Ifname)
	assert.Equal(t, link.StateInitializing, l.State)
}

func TestRegistry_HandleLinkMessage_UpdatesExistingLink(t *testing.T) {
	r := newTestRegistry(true, nil)

	r.handleLinkMessage(linkMessage{ifindex: 6, ifname: "eth0"})
	r.handleLinkMessage(linkMessage{ifindex: 6, ifname: "eth1"})

	assert.Len(t, r.links, 1)
	assert.Equal(t, "eth1", r.links[6].Ifname)
}

func TestRegistry_HandleLinkMessage_DeleteRemovesLink(t *testing.T) {
	remover := &fakeRemover{}
	r := newTestRegistry(true, remover)

	r.handleLinkMessage(linkMessage{ifindex: 7, ifname: "eth0"})
	r.handleLinkMessage(linkMessage{ifindex: 7, isDelete: true})

	assert.NotContains(t, r.links, 7)
	assert.Equal(t, []int{7}, remover.removed)
}

func TestRegistry_Recheck_RetriesMatchOnceUdevIsReady(t *testing.T) {
	r := newTestRegistry(false, nil)

	r.handleLinkMessage(linkMessage{ifindex: 8, ifname: "eth0"})
	assert.Equal(t, link.StateInitializing, r.links[8].State)

	// fakeMatcher never matches, so Recheck still leaves the link
	// initializing, but must not panic even once udev reports ready.
	r.udev = fakeUdev{initialized: true}
	assert.NotPanics(t, func() { r.Recheck(8) })
}

func TestRegistry_Recheck_UnknownIfindexIsNoop(t *testing.T) {
	r := newTestRegistry(true, nil)

	assert.NotPanics(t, func() { r.Recheck(123) })
}

func TestRegistry_DispatchReply_DropsForUnregisteredLink(t *testing.T) {
	r := newTestRegistry(true, nil)

	called := false
	r.dispatchReply(rtdesc.Reply{Ifindex: 42, Apply: func() { called = true }})

	assert.False(t, called)
}

func TestRegistry_DispatchReply_InvokesForRegisteredLink(t *testing.T) {
	r := newTestRegistry(true, nil)

	_, err := r.Add(9, "eth0")
	require.NoError(t, err)

	called := false
	r.dispatchReply(rtdesc.Reply{Ifindex: 9, Apply: func() { called = true }})

	assert.True(t, called)
}
