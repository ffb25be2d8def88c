package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// DefaultEscape is Ctrl-], the byte that ends Interact.
const DefaultEscape byte = 0x1d

// Interact hands the console to an operator. Output not yet consumed is
// written to out first, then transport output is mirrored to out and in is
// copied to the transport byte-for-byte. It returns when the escape byte is
// read from in, in reaches EOF, the transport stops, or ctx is done.
//
// Automated stepping never resumes after Interact.
func (c *Channel) Interact(ctx context.Context, in io.Reader, out io.Writer, escape byte) error {
	c.mu.Lock()
	if pending := c.buf[c.consumed:]; len(pending) > 0 {
		if _, err := out.Write(pending); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("flush console output: %w", err)
		}
	}
	c.consumed = len(c.buf)
	c.mirror = out
	readErr := c.readErr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.mirror = nil
		c.mu.Unlock()
	}()

	if readErr != nil {
		return &ClosedError{Pattern: "interactive session", Err: readErr}
	}

	c.logger.Debug("console interactive", slog.Int("escape", int(escape)))

	// The input goroutine may stay blocked in Read after we return; the
	// session ends right after Interact, so it is not reclaimed.
	inputDone := make(chan error, 1)
	go func() {
		inputDone <- c.forwardInput(in, escape)
	}()

	select {
	case err := <-inputDone:
		return err
	case <-c.pumpDone:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ClosedError{Pattern: "interactive session", Err: err}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardInput copies operator input to the transport until escape or EOF.
func (c *Channel) forwardInput(in io.Reader, escape byte) error {
	b := make([]byte, 1024)
	for {
		n, err := in.Read(b)
		if n > 0 {
			chunk := b[:n]
			stop := false
			if i := bytes.IndexByte(chunk, escape); i >= 0 {
				chunk, stop = chunk[:i], true
			}
			if len(chunk) > 0 {
				if _, werr := c.t.Write(chunk); werr != nil {
					return fmt.Errorf("forward input: %w", werr)
				}
				if c.opts.Recorder != nil {
					_ = c.opts.Recorder.RecordInput(string(chunk))
				}
			}
			if stop {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read operator input: %w", err)
		}
	}
}
