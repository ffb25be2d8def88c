// Package realfs provides the os-backed implementation of ports.FileSystem.
package realfs

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/acolita/de10boot/internal/ports"
	"github.com/bmatcuk/doublestar/v4"
)

// FS implements ports.FileSystem on the host operating system.
type FS struct{}

// New returns a new real FileSystem.
func New() *FS {
	return &FS{}
}

// Stat returns file info for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// OpenFile opens the named file with the given flags.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Glob expands a doublestar pattern against the host filesystem.
func (f *FS) Glob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
}

// LookPath searches PATH for an executable.
func (f *FS) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Abs resolves path to an absolute path with symlinks evaluated.
func (f *FS) Abs(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// UserHomeDir returns the current user's home directory.
func (f *FS) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// Getenv retrieves the value of the environment variable named by the key.
func (f *FS) Getenv(key string) string {
	return os.Getenv(key)
}

var _ ports.FileSystem = (*FS)(nil)
