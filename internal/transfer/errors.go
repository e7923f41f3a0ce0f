package transfer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"tiercache/internal/services"
)

// ConcurrentAccessError is returned when an op targets an identity that
// another op currently holds.
type ConcurrentAccessError struct {
	Identity string
}

func (e *ConcurrentAccessError) Error() string {
	return fmt.Sprintf("operation already in progress for %s", e.Identity)
}

var criticalErrnos = []unix.Errno{
	unix.ENOSPC,
	unix.EDQUOT,
	unix.EACCES,
	unix.EPERM,
	unix.EROFS,
	unix.ENOTCONN,
	unix.ENODEV,
	unix.ESTALE,
	unix.EIO,
}

// IsCritical reports whether err means further cache-in work is pointless:
// a full or read-only tier, missing permissions, or a vanished mount.
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrCritical) {
		return true
	}
	for _, errno := range criticalErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
