package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
)

// PathCheckMode selects what a path is about to be used for.
type PathCheckMode int

const (
	PathCheckLog      PathCheckMode = iota // read a capture log file
	PathCheckDatabase                      // open or create a sqlite database
	PathCheckDir                           // read or write a capture directory
)

var databaseExtensions = []string{".db", ".sqlite", ".sqlite3"}

// ValidatePath checks a path supplied on the command line before it is opened.
// It rejects:
// 1. Path traversal (.. components)
// 2. Wrong extension (.json.lines[.gz] for logs, .db/.sqlite/.sqlite3 for databases)
// 3. Symlinks on the final component, since files are opened with O_NOFOLLOW
// 4. Missing log files and non-directories for PathCheckDir
//
// A database or directory that does not exist yet is accepted; it is created on open.
func ValidatePath(path string, mode PathCheckMode) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	switch mode {
	case PathCheckLog:
		if !strings.HasSuffix(base, logfile.Extension) && !strings.HasSuffix(base, logfile.Extension+logfile.GzipExtension) {
			return errors.NewInvalidRequest(fmt.Sprintf("path must have %s or %s%s extension",
				logfile.Extension, logfile.Extension, logfile.GzipExtension))
		}
	case PathCheckDatabase:
		if !hasAnySuffix(base, databaseExtensions) {
			return errors.NewInvalidRequest(fmt.Sprintf("path must have one of %v extensions", databaseExtensions))
		}
	}

	info, err := os.Lstat(cleaned)
	switch {
	case os.IsNotExist(err):
		if mode == PathCheckLog {
			return errors.NewFileNotFound(path)
		}
		return nil
	case err != nil:
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	if mode == PathCheckDir && !info.IsDir() {
		return errors.NewInvalidRequest("path must be a directory")
	}
	if mode != PathCheckDir && info.IsDir() {
		return errors.NewInvalidRequest("path must be a file, not a directory")
	}
	return nil
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Forward slashes count on every platform.
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
