package link

import (
	"github.com/AdguardTeam/golibs/errors"

	"github.com/AdguardTeam/linkd/internal/rtdesc"
)

// isExists reports whether err is the ignorable "already installed" reply.
func isExists(err error) (ok bool) {
	return errors.Is(err, rtdesc.ErrExists)
}

// isNotExist reports whether err is the ignorable "already removed" reply.
func isNotExist(err error) (ok bool) {
	return errors.Is(err, rtdesc.ErrNotExist)
}
