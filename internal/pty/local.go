// Package pty runs the serial terminal program inside a local pseudo-terminal.
package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/acolita/de10boot/internal/console"
)

// Serial defaults for the DE10-Pro UART.
const (
	DefaultProgram = "picocom"
	DefaultDevice  = "/dev/ttyUSB0"
	DefaultBaud    = 115200
)

// Terminal describes the terminal program attached to the serial device.
type Terminal struct {
	Program   string   // Path of the terminal program (default: picocom)
	Device    string   // Serial device (default: /dev/ttyUSB0)
	Baud      int      // Line speed (default: 115200)
	ExtraArgs []string // Inserted before the device argument
}

func (t Terminal) withDefaults() Terminal {
	if t.Program == "" {
		t.Program = DefaultProgram
	}
	if t.Device == "" {
		t.Device = DefaultDevice
	}
	if t.Baud <= 0 {
		t.Baud = DefaultBaud
	}
	return t
}

// Command returns the program and its arguments.
func (t Terminal) Command() (string, []string) {
	t = t.withDefaults()
	args := []string{"-b", strconv.Itoa(t.Baud)}
	args = append(args, t.ExtraArgs...)
	args = append(args, t.Device)
	return t.Program, args
}

func (t Terminal) String() string {
	name, args := t.Command()
	return name + " " + strings.Join(args, " ")
}

// Options configures PTY allocation.
type Options struct {
	Term string   // Terminal type (default: dumb)
	Rows uint16   // Terminal rows (default: 24)
	Cols uint16   // Terminal columns (default: 80)
	Env  []string // Additional environment variables
}

// DefaultOptions returns default PTY options.
// TERM=dumb keeps picocom from emitting escape sequences.
func DefaultOptions() Options {
	return Options{
		Term: "dumb",
		Rows: 24,
		Cols: 120,
		Env:  []string{"NO_COLOR=1"},
	}
}

// LocalPTY is a process running in a local pseudo-terminal.
type LocalPTY struct {
	cmd  *exec.Cmd
	pty  *os.File
	name string

	mu     sync.Mutex
	closed bool
}

// Start runs name with args inside a new pseudo-terminal.
func Start(name string, args []string, opts Options) (*LocalPTY, error) {
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("TERM=%s", opts.Term))
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &LocalPTY{cmd: cmd, pty: ptmx, name: name}, nil
}

// Read reads process output. Once the terminal program exits, Read
// returns io.EOF.
func (p *LocalPTY) Read(b []byte) (int, error) {
	n, err := p.pty.Read(b)
	if errors.Is(err, syscall.EIO) {
		// Linux reports a master whose slave side is gone as EIO.
		err = io.EOF
	}
	return n, err
}

// Write writes to the process input.
func (p *LocalPTY) Write(b []byte) (int, error) {
	return p.pty.Write(b)
}

// Resize resizes the PTY window.
func (p *LocalPTY) Resize(rows, cols int) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Pid returns the process id of the terminal program.
func (p *LocalPTY) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Close closes the PTY, kills the process and reaps it.
func (p *LocalPTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.pty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill %s: %w", p.name, err))
		}
		// Exit status is irrelevant once killed.
		_ = p.cmd.Wait()
	}
	return errors.Join(errs...)
}

// Opener starts a Terminal in a local PTY for console.Open.
type Opener struct {
	Terminal Terminal
	Options  Options
}

// Open implements console.Opener.
func (o *Opener) Open(ctx context.Context) (console.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, args := o.Terminal.Command()
	return Start(name, args, o.Options)
}

func (o *Opener) String() string {
	return o.Terminal.String()
}
