package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// ExitError is a nonzero exit of a remote command.
type ExitError struct {
	Command string
	Status  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Status)
}

// ExitCode returns the remote exit status.
func (e *ExitError) ExitCode() int {
	return e.Status
}

// Runner runs commands on the lab host without a PTY.
type Runner struct {
	Client *Client
}

// Run executes name with args remotely and waits for it. Cancelling ctx
// kills the remote command.
func (r *Runner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	if err := r.Client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	session, err := r.Client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	session.Stdout = stdout
	session.Stderr = stderr

	command := ShellJoin(name, args...)
	if err := session.Start(command); err != nil {
		return fmt.Errorf("start %q: %w", command, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			return &ExitError{Command: command, Status: ee.ExitStatus()}
		}
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return ctx.Err()
	}
}
