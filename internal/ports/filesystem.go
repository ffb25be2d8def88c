package ports

import (
	"io"
	"io/fs"
)

// FileSystem abstracts the file and environment lookups done while
// resolving session parameters and writing transcripts.
type FileSystem interface {
	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// OpenFile opens the named file for writing.
	OpenFile(name string, flag int, perm fs.FileMode) (FileHandle, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Glob returns the files matching a doublestar pattern.
	Glob(pattern string) ([]string, error)

	// LookPath searches the PATH for an executable.
	LookPath(file string) (string, error)

	// Abs returns an absolute, symlink-free version of path.
	Abs(path string) (string, error)

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string
}

// FileHandle is a writable open file.
type FileHandle interface {
	io.WriteCloser
	Name() string
}
