package program

import (
	"context"
	"io"
	"os/exec"
)

// ExecRunner runs commands on the local machine.
type ExecRunner struct{}

// Run starts name with args and waits for it. A nonzero exit is returned
// as *exec.ExitError.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
