// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"bytes"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acolita/de10boot/internal/ports"
	"github.com/bmatcuk/doublestar/v4"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu      sync.RWMutex
	files   map[string]*fakeFile
	dirs    map[string]bool
	homeDir string
	cwd     string
	env     map[string]string
}

type fakeFile struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// New creates a new in-memory filesystem with /work as the working directory.
func New() *FS {
	return &FS{
		files:   make(map[string]*fakeFile),
		dirs:    map[string]bool{"/": true},
		homeDir: "/home/test",
		cwd:     "/work",
		env:     make(map[string]string),
	}
}

// AddFile adds a regular file with the given contents.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = f.absLocked(name)
	f.mkdirAllLocked(filepath.Dir(name))
	f.files[name] = &fakeFile{data: append([]byte(nil), data...), mode: mode, modTime: time.Now()}
	return f
}

// AddExecutable adds an executable file and puts its directory on PATH.
func (f *FS) AddExecutable(name string) *FS {
	f.AddFile(name, []byte("#!/bin/sh\n"), 0755)

	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Dir(f.absLocked(name))
	path := f.env["PATH"]
	for _, d := range filepath.SplitList(path) {
		if d == dir {
			return f
		}
	}
	if path == "" {
		f.env["PATH"] = dir
	} else {
		f.env["PATH"] = path + string(filepath.ListSeparator) + dir
	}
	return f
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
	return f
}

// SetHomeDir sets the home directory returned by UserHomeDir.
func (f *FS) SetHomeDir(dir string) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
	return f
}

// Stat returns file info for the named file or directory.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = f.absLocked(name)
	if file, ok := f.files[name]; ok {
		return &fileInfo{name: filepath.Base(name), size: int64(len(file.data)), mode: file.mode, modTime: file.modTime}, nil
	}
	if f.dirs[name] {
		return &fileInfo{name: filepath.Base(name), mode: fs.ModeDir | 0755, isDir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = f.absLocked(name)
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), file.data...), nil
}

// OpenFile opens a file for writing. O_EXCL is honored; parent directories
// must exist.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = f.absLocked(name)
	if !f.dirs[filepath.Dir(name)] {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	file, exists := f.files[name]
	if exists && flag&os.O_EXCL != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	}
	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		file = &fakeFile{mode: perm, modTime: time.Now()}
		f.files[name] = file
	}
	if flag&os.O_TRUNC != 0 {
		file.data = nil
	}
	return &handle{fs: f, name: name}, nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAllLocked(f.absLocked(path))
	return nil
}

// Glob matches a doublestar pattern against the stored files.
func (f *FS) Glob(pattern string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pattern = f.absLocked(pattern)
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	var matches []string
	for name := range f.files {
		if ok, _ := doublestar.PathMatch(pattern, name); ok {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// LookPath searches the fake PATH for an executable file.
func (f *FS) LookPath(file string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if strings.Contains(file, "/") {
		name := f.absLocked(file)
		if ff, ok := f.files[name]; ok && ff.mode&0111 != 0 {
			return name, nil
		}
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
	for _, dir := range filepath.SplitList(f.env["PATH"]) {
		name := filepath.Join(dir, file)
		if ff, ok := f.files[name]; ok && ff.mode&0111 != 0 {
			return name, nil
		}
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

// Abs joins relative paths onto the fake working directory.
func (f *FS) Abs(path string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.absLocked(path), nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv retrieves the value of the environment variable named by the key.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// Contents returns the contents of a file, or "" if it does not exist.
func (f *FS) Contents(name string) string {
	data, err := f.ReadFile(name)
	if err != nil {
		return ""
	}
	return string(data)
}

func (f *FS) absLocked(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.cwd, path)
	}
	return filepath.Clean(path)
}

func (f *FS) mkdirAllLocked(path string) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		f.dirs[p] = true
		if p == "/" || p == "." {
			return
		}
	}
}

type handle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *handle) Write(b []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	file := h.fs.files[h.name]
	var buf bytes.Buffer
	buf.Write(file.data)
	buf.Write(b)
	file.data = buf.Bytes()
	return len(b), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.closed = true
	return nil
}

func (h *handle) Name() string {
	return h.name
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() any           { return nil }

var _ ports.FileSystem = (*FS)(nil)
