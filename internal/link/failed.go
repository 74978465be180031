package link

// EnterFailed marks the link as permanently failed: no further flag edges,
// DHCP/IPv4LL events, or update calls will move it out of this state until
// the link itself is torn down and recreated by the registry. Idempotent.
func (l *Link) EnterFailed() {
	if l.State == StateFailed {
		return
	}

	l.logger.Warn("link entering failed state", "ifindex", l.Ifindex)

	l.State = StateFailed
	l.persist()
}
