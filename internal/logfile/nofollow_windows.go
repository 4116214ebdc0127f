//go:build windows

package logfile

// Windows has no O_NOFOLLOW. ops.ValidatePath rejects symlinks up front.
const noFollowFlags = 0

func isSymlinkLoop(error) bool { return false }
