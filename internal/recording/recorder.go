// Package recording writes console transcripts in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/de10boot/internal/ports"
)

// Recorder records console I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Options describes a new transcript.
type Options struct {
	Dir    string // Directory holding transcripts
	Name   string // File name prefix, usually the serial device or host
	Title  string // Header title
	Width  int    // Default: 120
	Height int    // Default: 24
}

// New creates a transcript file in opts.Dir named
// <name>_<YYYYmmdd_HHMMSS>.cast. It never overwrites an existing file.
func New(opts Options, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if opts.Width == 0 {
		opts.Width = 120
	}
	if opts.Height == 0 {
		opts.Height = 24
	}
	if opts.Name == "" {
		opts.Name = "console"
	}

	if err := fs.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	filename := fmt.Sprintf("%s_%s.cast", opts.Name, now.Format("20060102_150405"))
	file, err := fs.OpenFile(filepath.Join(opts.Dir, filename), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	header := Header{
		Version:   2,
		Width:     opts.Width,
		Height:    opts.Height,
		Timestamp: now.Unix(),
		Title:     opts.Title,
		Env:       map[string]string{"TERM": "dumb"},
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, startTime: now, clock: clock}, nil
}

// RecordOutput records console output.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

// RecordInput records lines and keystrokes sent to the console.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the transcript file. Later records are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the transcript file path.
func (r *Recorder) Path() string {
	return r.file.Name()
}
