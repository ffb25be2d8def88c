// Package program writes the HPS image into the board's FPGA with quartus_pgm.
package program

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Defaults for a DE10-Pro on a USB-Blaster cable.
const (
	DefaultTool = "quartus_pgm"
	DefaultMode = "jtag"
	DefaultSlot = 2

	outputTail = 4096
)

// Runner executes an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

// ProgrammingError reports a failed quartus_pgm run.
type ProgrammingError struct {
	Tool     string
	Image    string
	ExitCode int    // -1 when the tool did not run to completion
	Output   string // Last bytes the tool printed
	Err      error
}

func (e *ProgrammingError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("programming %s with %s: exit status %d", e.Image, e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("programming %s with %s: %v", e.Image, e.Tool, e.Err)
}

func (e *ProgrammingError) Unwrap() error {
	return e.Err
}

// exitCoder is satisfied by *exec.ExitError and the remote runner's exit error.
type exitCoder interface {
	ExitCode() int
}

// Programmer runs quartus_pgm against one JTAG device slot.
type Programmer struct {
	Tool  string // Path of quartus_pgm (default: DefaultTool)
	Mode  string // Programming mode (default: jtag)
	Cable string // Cable name passed with -c, empty for the first cable
	Slot  int    // Device index in the JTAG chain (default: 2)

	// IgnoreExitStatus logs a nonzero exit instead of failing.
	IgnoreExitStatus bool

	Stdout io.Writer // Tool output, may be nil
	Stderr io.Writer // Tool errors, may be nil
	Runner Runner    // Default: ExecRunner
	Logger *slog.Logger
}

// Args returns the quartus_pgm arguments for image.
func (p *Programmer) Args(image string) []string {
	mode := p.Mode
	if mode == "" {
		mode = DefaultMode
	}
	slot := p.Slot
	if slot <= 0 {
		slot = DefaultSlot
	}

	var args []string
	if p.Cable != "" {
		args = append(args, "-c", p.Cable)
	}
	args = append(args, "-m", mode, "-o", fmt.Sprintf("P;%s@%d", image, slot))
	return args
}

// Program writes image into the device and blocks until the tool exits.
// The console must not be opened before this returns.
func (p *Programmer) Program(ctx context.Context, image string) error {
	tool := p.Tool
	if tool == "" {
		tool = DefaultTool
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := p.Args(image)
	logger.Info("programming FPGA",
		slog.String("tool", tool),
		slog.String("args", strings.Join(args, " ")),
	)

	out := &tail{max: outputTail}
	err := runner.Run(ctx, tool, args, tee(p.Stdout, out), tee(p.Stderr, out))
	if err == nil {
		logger.Info("programming complete", slog.String("image", image))
		return nil
	}

	var ec exitCoder
	if errors.As(err, &ec) && ctx.Err() == nil {
		code := ec.ExitCode()
		if p.IgnoreExitStatus {
			logger.Warn("programmer exited with nonzero status, continuing",
				slog.String("tool", tool),
				slog.Int("exit_code", code),
			)
			return nil
		}
		return &ProgrammingError{Tool: tool, Image: image, ExitCode: code, Output: out.String(), Err: err}
	}
	return &ProgrammingError{Tool: tool, Image: image, ExitCode: -1, Output: out.String(), Err: err}
}

// tail keeps the last max bytes written to it. The runner may write
// stdout and stderr from separate goroutines.
type tail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func tee(w io.Writer, t *tail) io.Writer {
	if w == nil {
		return t
	}
	return io.MultiWriter(w, t)
}
