package pty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/acolita/de10boot/internal/console"
)

func TestTerminalCommand(t *testing.T) {
	tests := []struct {
		name     string
		term     Terminal
		wantName string
		wantArgs []string
	}{
		{
			name:     "defaults",
			term:     Terminal{},
			wantName: "picocom",
			wantArgs: []string{"-b", "115200", "/dev/ttyUSB0"},
		},
		{
			name:     "custom device and speed",
			term:     Terminal{Program: "/usr/bin/picocom", Device: "/dev/ttyUSB2", Baud: 57600},
			wantName: "/usr/bin/picocom",
			wantArgs: []string{"-b", "57600", "/dev/ttyUSB2"},
		},
		{
			name:     "extra args before device",
			term:     Terminal{ExtraArgs: []string{"--imap", "lfcrlf"}},
			wantName: "picocom",
			wantArgs: []string{"-b", "115200", "--imap", "lfcrlf", "/dev/ttyUSB0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args := tt.term.Command()
			if name != tt.wantName {
				t.Errorf("Command() name = %q, want %q", name, tt.wantName)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("Command() args = %q, want %q", args, tt.wantArgs)
			}
		})
	}

	if got := (Terminal{}).String(); got != "picocom -b 115200 /dev/ttyUSB0" {
		t.Errorf("String() = %q", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Term != "dumb" {
		t.Errorf("Term = %q, want dumb", opts.Term)
	}
	if opts.Rows == 0 || opts.Cols == 0 {
		t.Errorf("window size %dx%d", opts.Cols, opts.Rows)
	}
}

func requireSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStart_EchoesThroughConsole(t *testing.T) {
	sh := requireSh(t)

	p, err := Start(sh, []string{"-c", "echo ready; read line; echo got:$line"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ch := console.New(p, console.Options{Logger: quiet()})
	defer ch.Close()

	ctx := context.Background()
	if _, err := ch.Expect(ctx, console.Literal("ready"), 5*time.Second); err != nil {
		t.Fatalf("Expect(ready) error = %v", err)
	}
	if err := ch.SendLine("bridge"); err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}
	if _, err := ch.Expect(ctx, console.Literal("got:bridge"), 5*time.Second); err != nil {
		t.Fatalf("Expect(got:bridge) error = %v", err)
	}
	if p.Pid() == 0 {
		t.Error("Pid() = 0 for a running process")
	}
}

func TestRead_ProgramExitIsEOF(t *testing.T) {
	sh := requireSh(t)

	p, err := Start(sh, []string{"-c", "echo board"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Close()

	out, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll() error = %v, want clean EOF", err)
	}
	if !strings.Contains(string(out), "board") {
		t.Errorf("output = %q", out)
	}
}

func TestInteract_EndsWhenTerminalProgramExits(t *testing.T) {
	sh := requireSh(t)

	p, err := Start(sh, []string{"-c", "echo board; sleep 0.3"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ch := console.New(p, console.Options{Logger: quiet()})
	defer ch.Close()

	ctx := context.Background()
	if _, err := ch.Expect(ctx, console.Literal("board"), 5*time.Second); err != nil {
		t.Fatalf("Expect(board) error = %v", err)
	}

	// The operator types nothing; the program quits on its own, as picocom
	// does on its exit key.
	in, _ := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- ch.Interact(ctx, in, io.Discard, console.DefaultEscape) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Interact() error = %v, want nil when the program exits", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Interact() did not return after the program exited")
	}
}

func TestClose_KillsProcess(t *testing.T) {
	sh := requireSh(t)

	p, err := Start(sh, []string{"-c", "sleep 60"}, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}

	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if p.cmd.ProcessState == nil {
		t.Error("process not reaped by Close()")
	}
}

func TestOpener(t *testing.T) {
	o := &Opener{Terminal: Terminal{Program: "/nonexistent/picocom", Device: "/dev/ttyUSB1"}}
	if o.String() != "/nonexistent/picocom -b 115200 /dev/ttyUSB1" {
		t.Errorf("String() = %q", o.String())
	}

	_, err := console.Open(context.Background(), o, console.Options{Logger: quiet()})
	var le *console.LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("console.Open() error = %v, want *console.LaunchError", err)
	}
	if le.Transport != o.String() {
		t.Errorf("LaunchError.Transport = %q", le.Transport)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open(canceled) error = %v", err)
	}
}
