// Package ops holds operator tools that work on capture directories.
package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
)

// logFile is a directory entry whose name parsed as a log file name.
type logFile struct {
	path string
	name logfile.Name
}

// listLogFiles returns the log files directly in dir, ordered by prefix,
// open time and sequence. Other entries are skipped.
func listLogFiles(dir string) ([]logFile, error) {
	if err := ValidatePath(dir, PathCheckDir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(dir)
		}
		return nil, errors.NewInternal(fmt.Errorf("read dir %s: %w", dir, err))
	}

	var files []logFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		n, ok := logfile.ParseFileName(e.Name())
		if !ok {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, e.Name()), name: n})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].name.Before(files[j].name)
	})
	return files, nil
}
