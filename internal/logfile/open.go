package logfile

import (
	"os"

	"github.com/hpungsan/wsdump/internal/errors"
)

// createExclusive creates a new log file, refusing to follow a symlink at
// path or to reuse an existing file.
func createExclusive(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|noFollowFlags, 0600)
	if err != nil && isSymlinkLoop(err) {
		return nil, errors.NewInvalidRequest("refusing to write through symlink " + path)
	}
	return f, err
}

func openForRead(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|noFollowFlags, 0)
	switch {
	case err == nil:
		return f, nil
	case isSymlinkLoop(err):
		return nil, errors.NewInvalidRequest("refusing to read through symlink " + path)
	case os.IsNotExist(err):
		return nil, errors.NewFileNotFound(path)
	}
	return nil, err
}
