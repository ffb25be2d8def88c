package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/de10boot/internal/console"
)

// PTYOptions configures the remote pseudo-terminal.
type PTYOptions struct {
	Term string // Terminal type (default: dumb)
	Rows int    // Terminal rows (default: 24)
	Cols int    // Terminal columns (default: 120)
}

// DefaultPTYOptions returns default remote PTY options.
func DefaultPTYOptions() PTYOptions {
	return PTYOptions{Term: "dumb", Rows: 24, Cols: 120}
}

// RemotePTY is a command running in a PTY on the lab host.
type RemotePTY struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	mu     sync.Mutex
	closed bool
}

// StartPTY runs command on the lab host inside a remote PTY.
func StartPTY(client *Client, command string, opts PTYOptions) (*RemotePTY, error) {
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	return &RemotePTY{session: session, stdin: stdin, stdout: stdout}, nil
}

// Read reads remote output.
func (p *RemotePTY) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Write writes to the remote input.
func (p *RemotePTY) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Resize changes the remote window size.
func (p *RemotePTY) Resize(rows, cols int) error {
	if err := p.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	return nil
}

// Close terminates the remote command. It is safe to call more than once.
func (p *RemotePTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	// picocom ignores SIGHUP on some hosts; KILL is best effort.
	_ = p.session.Signal(ssh.SIGKILL)
	if err := p.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Opener starts the terminal program on the lab host for console.Open.
type Opener struct {
	Client  *Client
	Name    string   // Terminal program on the lab host
	Args    []string // Its arguments
	Options PTYOptions
}

// Open implements console.Opener.
func (o *Opener) Open(ctx context.Context) (console.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return StartPTY(o.Client, ShellJoin(o.Name, o.Args...), o.Options)
}

func (o *Opener) String() string {
	return o.Client.Host() + ": " + ShellJoin(o.Name, o.Args...)
}
