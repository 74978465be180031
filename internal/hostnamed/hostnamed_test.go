package hostnamed_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AdguardTeam/linkd/internal/hostnamed"
)

// Without calling Start, Setter has no bus connection; SetTransientHostname
// must be a silent no-op rather than panicking on a nil conn.
func TestSetter_NoBusIsNoop(t *testing.T) {
	s := hostnamed.New(slog.New(slog.DiscardHandler))

	assert.NotPanics(t, func() {
		s.SetTransientHostname("example")
	})

	assert.NoError(t, s.Shutdown(context.Background()))
}
