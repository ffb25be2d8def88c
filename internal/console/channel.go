// Package console provides an expect-style channel over a serial boot console.
//
// A Channel owns one Transport. A single pump goroutine copies everything
// the transport produces into an append-only buffer; Expect scans the
// unconsumed part of that buffer and advances a consumed offset past each
// match, so no byte is matched twice and none is dropped between calls.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/de10boot/internal/adapters/realclock"
	"github.com/acolita/de10boot/internal/logging"
	"github.com/acolita/de10boot/internal/ports"
)

const (
	// DefaultExpectTimeout bounds every Expect that does not set its own.
	DefaultExpectTimeout = 2 * time.Minute

	// DefaultLineEnding terminates lines written by SendLine.
	DefaultLineEnding = "\n"

	readChunk        = 4096
	compactThreshold = 64 * 1024
)

// Transport is the byte stream to the console, typically a terminal
// program running in a pseudo-terminal.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener starts a Transport.
type Opener interface {
	Open(ctx context.Context) (Transport, error)
	fmt.Stringer
}

// Recorder receives a transcript of the session.
type Recorder interface {
	RecordOutput(data string) error
	RecordInput(data string) error
	Close() error
}

// Options configures a Channel.
type Options struct {
	DefaultTimeout time.Duration // Used when Expect gets no timeout (default: DefaultExpectTimeout)
	LineEnding     string        // Appended by SendLine (default: "\n")
	Log            io.Writer     // Receives console output as it arrives, may be nil
	Recorder       Recorder      // Optional transcript recorder
	Clock          ports.Clock   // Time source for timeouts (default: wall clock)
	Logger         *slog.Logger  // Structured logger (default: slog.Default())
}

// Match is the result of a successful Expect.
type Match struct {
	Before  string // Output between the previous match and this one
	Matched string // The text that matched the pattern
}

// Channel is a live duplex connection to the boot console.
type Channel struct {
	t      Transport
	opts   Options
	logger *slog.Logger
	clock  ports.Clock

	mu       sync.Mutex
	buf      []byte
	consumed int
	readErr  error
	mirror   io.Writer // Set while Interact owns the output

	notify   chan struct{}
	pumpDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open starts the transport and wraps it in a Channel.
// A transport that fails to start yields a *LaunchError.
func Open(ctx context.Context, o Opener, opts Options) (*Channel, error) {
	t, err := o.Open(ctx)
	if err != nil {
		return nil, &LaunchError{Transport: o.String(), Err: err}
	}
	return New(t, opts), nil
}

// New wraps an already running transport and starts reading from it.
func New(t Transport, opts Options) *Channel {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultExpectTimeout
	}
	if opts.LineEnding == "" {
		opts.LineEnding = DefaultLineEnding
	}
	clock := opts.Clock
	if clock == nil {
		clock = realclock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		t:        t,
		opts:     opts,
		logger:   logger,
		clock:    clock,
		notify:   make(chan struct{}, 1),
		pumpDone: make(chan struct{}),
	}
	go c.pump()
	return c
}

// pump copies transport output into the buffer until the transport fails.
func (c *Channel) pump() {
	defer close(c.pumpDone)

	b := make([]byte, readChunk)
	for {
		n, err := c.t.Read(b)
		if n > 0 {
			c.feed(b[:n])
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.signal()
			return
		}
	}
}

// feed records p before it becomes matchable, so a transcript always holds
// the output of every completed Expect.
func (c *Channel) feed(p []byte) {
	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordOutput(string(p)); err != nil {
			c.logger.Warn("transcript write failed", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	if c.mirror != nil {
		c.mirror.Write(p)
	} else {
		c.buf = append(c.buf, p...)
		if c.opts.Log != nil {
			c.opts.Log.Write(p)
		}
	}
	c.mu.Unlock()
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// SendLine writes text followed by the line ending. It does not wait for
// the peer; follow it with Expect to confirm a reaction.
func (c *Channel) SendLine(text string) error {
	line := text + c.opts.LineEnding
	if _, err := io.WriteString(c.t, line); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}
	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordInput(line); err != nil {
			c.logger.Warn("transcript write failed", slog.String("error", err.Error()))
		}
	}
	c.logger.Debug("console send", slog.String("line", text))
	return nil
}

// Expect blocks until pattern appears in output not yet consumed, the
// timeout elapses or ctx is done. A non-positive timeout uses the channel
// default. Only one Expect may be outstanding at a time.
//
// On success the consumed offset moves past the match. On timeout the
// buffer is left untouched and returned in a *TimeoutError.
func (c *Channel) Expect(ctx context.Context, pattern Pattern, timeout time.Duration) (Match, error) {
	if pattern.IsZero() {
		return Match{}, fmt.Errorf("expect: empty pattern")
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	expired := c.clock.After(timeout)

	for {
		c.mu.Lock()
		if m, ok := c.matchLocked(pattern); ok {
			c.mu.Unlock()
			c.logger.Debug("console match",
				slog.String("pattern", pattern.String()),
				logging.Excerpt("matched", m.Matched),
				slog.Int("before_bytes", len(m.Before)),
			)
			return m, nil
		}
		if c.readErr != nil {
			err := &ClosedError{Pattern: pattern.String(), Buffered: string(c.buf[c.consumed:]), Err: c.readErr}
			c.mu.Unlock()
			return Match{}, err
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-expired:
			c.mu.Lock()
			defer c.mu.Unlock()
			if m, ok := c.matchLocked(pattern); ok {
				return m, nil
			}
			return Match{}, &TimeoutError{
				Pattern:  pattern.String(),
				After:    timeout,
				Buffered: string(c.buf[c.consumed:]),
			}
		case <-ctx.Done():
			return Match{}, fmt.Errorf("expect %q: %w", pattern.String(), ctx.Err())
		}
	}
}

// matchLocked searches buf[consumed:] and consumes through the match.
func (c *Channel) matchLocked(p Pattern) (Match, bool) {
	window := c.buf[c.consumed:]
	start, end, ok := p.find(window)
	if !ok {
		return Match{}, false
	}
	m := Match{
		Before:  string(window[:start]),
		Matched: string(window[start:end]),
	}
	c.consumed += end

	if c.consumed >= compactThreshold {
		c.buf = append(c.buf[:0], c.buf[c.consumed:]...)
		c.consumed = 0
	}
	return m, true
}

// Buffered returns output received but not yet consumed by a match.
func (c *Channel) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf[c.consumed:])
}

// Resize sets the console window size. Transports without a window
// ignore it.
func (c *Channel) Resize(rows, cols int) error {
	r, ok := c.t.(interface{ Resize(rows, cols int) error })
	if !ok {
		return nil
	}
	return r.Resize(rows, cols)
}

// Close releases the transport and the recorder. It is safe to call more
// than once and from any exit path.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.t.Close()
		if c.opts.Recorder != nil {
			if err := c.opts.Recorder.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		c.logger.Debug("console closed")
	})
	return c.closeErr
}
