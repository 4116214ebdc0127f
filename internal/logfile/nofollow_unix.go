//go:build !windows

package logfile

import (
	stderrors "errors"
	"syscall"
)

const noFollowFlags = syscall.O_NOFOLLOW | syscall.O_CLOEXEC

func isSymlinkLoop(err error) bool {
	return stderrors.Is(err, syscall.ELOOP)
}
