package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/wsdump/internal/errors"
)

func TestValidatePath_TraversalRejected(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../capture.json.lines"},
		{"deep traversal", "../../etc/capture.json.lines.gz"},
		{"mid-path traversal", "/tmp/../etc/replay.db"},
		{"hidden in path", "/tmp/safe/../../../etc/shadow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, mode := range []PathCheckMode{PathCheckLog, PathCheckDatabase, PathCheckDir} {
				err := ValidatePath(tc.path, mode)
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Errorf("mode %d: expected ErrInvalidRequest, got: %v", mode, err)
				}
			}
		})
	}
}

func TestValidatePath_Extension(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		mode PathCheckMode
	}{
		{"log without extension", "capture", PathCheckLog},
		{"log as plain json", "capture.json", PathCheckLog},
		{"log with wrong compression", "capture.json.lines.bz2", PathCheckLog},
		{"database as text", "replay.txt", PathCheckDatabase},
		{"database as log", "replay.json.lines", PathCheckDatabase},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(filepath.Join(dir, tc.path), tc.mode)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_Accepted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json.lines", "b.json.lines.gz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	tests := []struct {
		path string
		mode PathCheckMode
	}{
		{filepath.Join(dir, "a.json.lines"), PathCheckLog},
		{filepath.Join(dir, "b.json.lines.gz"), PathCheckLog},
		{filepath.Join(dir, "new.db"), PathCheckDatabase},
		{filepath.Join(dir, "new.sqlite3"), PathCheckDatabase},
		{dir, PathCheckDir},
		{filepath.Join(dir, "not-yet-created"), PathCheckDir},
	}
	for _, tc := range tests {
		if err := ValidatePath(tc.path, tc.mode); err != nil {
			t.Errorf("ValidatePath(%q, %d) = %v, want nil", tc.path, tc.mode, err)
		}
	}
}

func TestValidatePath_Empty(t *testing.T) {
	if err := ValidatePath("", PathCheckLog); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidatePath_FileNotFound(t *testing.T) {
	err := ValidatePath(filepath.Join(t.TempDir(), "missing.json.lines.gz"), PathCheckLog)
	if !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got: %v", err)
	}
}

func TestValidatePath_WrongType(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "replay.db")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidatePath(file, PathCheckDir); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("file as dir: expected ErrInvalidRequest, got: %v", err)
	}

	sub := filepath.Join(dir, "trap.json.lines")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := ValidatePath(sub, PathCheckLog); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("dir as log: expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidatePath_SymlinkRejected(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "secret.json.lines")
	if err := os.WriteFile(target, []byte("x\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	link := filepath.Join(dir, "link.json.lines")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if err := ValidatePath(link, PathCheckLog); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}

	dirLink := filepath.Join(dir, "out")
	if err := os.Symlink(t.TempDir(), dirLink); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if err := ValidatePath(dirLink, PathCheckDir); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for dir symlink, got: %v", err)
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := map[string]bool{
		"a/b/c":           false,
		"..":              true,
		"a/../b":          true,
		"a..b/c":          false,
		"./capture.lines": false,
	}
	for path, want := range tests {
		if got := containsTraversal(path); got != want {
			t.Errorf("containsTraversal(%q) = %v, want %v", path, got, want)
		}
	}
}
