package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acolita/de10boot/internal/ports"
)

// ErrWaitTimeout is returned by WaitForFile when the file never appears.
var ErrWaitTimeout = errors.New("timed out waiting for device")

// WaitForFile blocks until path exists in fsys, timeout elapses or ctx is
// done. It watches the parent directory, so a USB serial adapter that is
// plugged in after the wait starts is picked up as soon as udev creates
// its node.
func WaitForFile(ctx context.Context, fsys ports.FileSystem, path string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	// The file may have appeared before the watch was in place.
	if exists(fsys, path) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) != 0 && exists(fsys, path) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			slog.Warn("device watcher error", slog.String("error", err.Error()))
		}
	}
}

func exists(fsys ports.FileSystem, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}
