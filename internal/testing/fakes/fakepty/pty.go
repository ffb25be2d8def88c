// Package fakepty provides a scripted console transport for testing.
//
// A PTY plays the board side of a serial console: queued output is handed
// to Read in order, and replies can be armed to fire when a given line is
// written, so a whole boot dialogue can be scripted without hardware.
package fakepty

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// PTY is a fake serial console transport.
type PTY struct {
	mu      sync.Mutex
	queue   [][]byte     // Output not yet returned by Read
	pending []byte       // Remainder of a chunk larger than the Read buffer
	written bytes.Buffer // Captures all written data
	writes  []string     // Each Write call, in order
	replies []reply      // Armed replies, fired strictly in order
	next    int          // Index of the next reply to fire
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	readErr error
	size    [2]int // Last Resize rows and cols
}

type reply struct {
	input  string
	output []string
}

// New creates a new fake PTY.
func New() *PTY {
	return &PTY{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// AddResponse queues console output for subsequent Read calls.
// Each response is returned by its own Read, split only if the buffer is short.
func (p *PTY) AddResponse(data string) *PTY {
	p.mu.Lock()
	p.queue = append(p.queue, []byte(data))
	p.mu.Unlock()
	p.wake()
	return p
}

// AddResponses queues multiple responses.
func (p *PTY) AddResponses(responses ...string) *PTY {
	for _, r := range responses {
		p.AddResponse(r)
	}
	return p
}

// ReplyTo arms output to be queued when a Write contains input.
// Replies fire in the order they were armed; a write that does not match
// the next armed reply fires nothing.
func (p *PTY) ReplyTo(input string, output ...string) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, reply{input: input, output: output})
	return p
}

// FailReads makes Read return err once the queue is drained.
func (p *PTY) FailReads(err error) *PTY {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.wake()
	return p
}

// Read returns queued output, blocking until some is available or the PTY
// is closed.
func (p *PTY) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 && len(p.queue) > 0 {
			p.pending = p.queue[0]
			p.queue = p.queue[1:]
		}
		if len(p.pending) > 0 {
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return 0, err
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-p.done:
		}
	}
}

// Write captures written data and fires the next armed reply if it matches.
func (p *PTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}

	p.written.Write(b)
	p.writes = append(p.writes, string(b))

	fired := false
	if p.next < len(p.replies) && strings.Contains(string(b), p.replies[p.next].input) {
		for _, out := range p.replies[p.next].output {
			p.queue = append(p.queue, []byte(out))
		}
		p.next++
		fired = true
	}
	p.mu.Unlock()

	if fired {
		p.wake()
	}
	return len(b), nil
}

// Close closes the fake PTY. Pending Reads return io.EOF.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// Resize records the window size.
func (p *PTY) Resize(rows, cols int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = [2]int{rows, cols}
	return nil
}

func (p *PTY) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// --- Test inspection methods ---

// Written returns all data that was written to the PTY.
func (p *PTY) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Writes returns each Write call as a separate string.
func (p *PTY) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

// RepliesFired returns how many armed replies have fired.
func (p *PTY) RepliesFired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Size returns the last size passed to Resize.
func (p *PTY) Size() (rows, cols int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size[0], p.size[1]
}

// IsClosed returns true if Close() was called.
func (p *PTY) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
