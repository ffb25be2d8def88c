// Package fallback hands the live boot console to the operator once
// automation has stopped.
package fallback

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/term"

	"github.com/acolita/de10boot/internal/console"
)

// Banner is printed before the console is handed over.
const Banner = ">>>> falling back to interactive session <<<<"

// Channel is the part of a console.Channel the fallback needs.
type Channel interface {
	Interact(ctx context.Context, in io.Reader, out io.Writer, escape byte) error
}

// Terminal is the operator's terminal, normally os.Stdin paired with
// os.Stdout.
type Terminal struct {
	In  io.Reader
	Out io.Writer
	// Fd is the descriptor put into raw mode; negative disables raw mode.
	Fd int
}

// RawMode switches a terminal descriptor in and out of raw mode.
type RawMode interface {
	IsTerminal(fd int) bool
	MakeRaw(fd int) (*term.State, error)
	Restore(fd int, state *term.State) error
	GetSize(fd int) (width, height int, err error)
}

// resizer is implemented by channels whose transport has a window.
type resizer interface {
	Resize(rows, cols int) error
}

// Options configures Run.
type Options struct {
	Escape byte         // Disconnect byte (default: console.DefaultEscape)
	Raw    RawMode      // Default: golang.org/x/term
	Logger *slog.Logger // Default: slog.Default()
}

type xterm struct{}

func (xterm) IsTerminal(fd int) bool                  { return term.IsTerminal(fd) }
func (xterm) MakeRaw(fd int) (*term.State, error)     { return term.MakeRaw(fd) }
func (xterm) Restore(fd int, state *term.State) error { return term.Restore(fd, state) }
func (xterm) GetSize(fd int) (int, int, error)        { return term.GetSize(fd) }

// Run bridges t and ch until the operator types the escape byte, input
// ends, the console goes away or ctx is done. When t is a terminal it is
// put in raw mode for the duration and restored on every exit path,
// panics included.
func Run(ctx context.Context, ch Channel, t Terminal, opts Options) (err error) {
	if opts.Escape == 0 {
		opts.Escape = console.DefaultEscape
	}
	raw := opts.Raw
	if raw == nil {
		raw = xterm{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("falling back to interactive session", slog.Int("escape", int(opts.Escape)))
	fmt.Fprintln(t.Out, Banner)

	if t.Fd >= 0 && raw.IsTerminal(t.Fd) {
		state, rerr := raw.MakeRaw(t.Fd)
		if rerr != nil {
			return fmt.Errorf("raw mode: %w", rerr)
		}
		defer func() {
			if rerr := raw.Restore(t.Fd, state); rerr != nil && err == nil {
				err = fmt.Errorf("restore terminal: %w", rerr)
			}
		}()
		matchSize(ch, raw, t.Fd, logger)
	}

	if err := ch.Interact(ctx, t.In, t.Out, opts.Escape); err != nil {
		return fmt.Errorf("interactive session: %w", err)
	}
	logger.Info("interactive session ended")
	return nil
}

// matchSize gives the console the operator's window size so full-screen
// programs on the board lay out correctly.
func matchSize(ch Channel, raw RawMode, fd int, logger *slog.Logger) {
	r, ok := ch.(resizer)
	if !ok {
		return
	}
	width, height, err := raw.GetSize(fd)
	if err != nil {
		logger.Debug("terminal size unavailable", slog.String("error", err.Error()))
		return
	}
	if err := r.Resize(height, width); err != nil {
		logger.Debug("console resize failed", slog.String("error", err.Error()))
	}
}
