package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/acolita/de10boot/internal/adapters/realclock"
	"github.com/acolita/de10boot/internal/adapters/realfs"
	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/console"
	"github.com/acolita/de10boot/internal/fallback"
	"github.com/acolita/de10boot/internal/ports"
	"github.com/acolita/de10boot/internal/program"
	"github.com/acolita/de10boot/internal/pty"
	"github.com/acolita/de10boot/internal/recording"
	"github.com/acolita/de10boot/internal/sftp"
	"github.com/acolita/de10boot/internal/ssh"
)

// ImageStager copies a local image to the lab host and returns the path
// to program there.
type ImageStager interface {
	Stage(ctx context.Context, local string) (string, error)
}

// Session runs one boot of the board described by Params.
type Session struct {
	Params *Params

	// Terminal is the operator's terminal, used by the fallback.
	Terminal fallback.Terminal
	// Stdout receives programmer output, stage echo and separators
	// (default: Terminal.Out).
	Stdout io.Writer
	// Stderr receives programmer errors (default: Stdout).
	Stderr io.Writer
	// ConsoleLog mirrors raw console output as it arrives, may be nil.
	ConsoleLog io.Writer

	FS     ports.FileSystem // Default: realfs
	Clock  ports.Clock      // Default: realclock
	Logger *slog.Logger     // Default: slog.Default()

	// Runner, Opener and Stager replace the transports chosen from Params.
	Runner program.Runner
	Opener console.Opener
	Stager ImageStager
	// Raw replaces golang.org/x/term in the fallback.
	Raw fallback.RawMode
	// Dialer replaces the network dialer used for the lab host.
	Dialer ports.SSHDialer
}

// Run uploads the image when Remote.UploadDir is set, programs the FPGA,
// opens the console, runs the boot stages up to
// Params.StopAt and then hands the console to the operator until
// they disconnect. The console is closed on every path. The fallback is only
// entered when every stage succeeded.
func (s *Session) Run(ctx context.Context) error {
	p := s.Params
	if p == nil {
		return fmt.Errorf("session has no parameters")
	}
	logger := s.logger()
	out := s.stdout()

	runner, opener, stager := s.Runner, s.Opener, s.Stager
	upload := p.Remote != nil && p.Remote.UploadDir != ""
	if p.Remote != nil && (runner == nil || opener == nil || (upload && stager == nil)) {
		client, err := s.connect(p.Remote)
		if err != nil {
			return err
		}
		defer client.Close()

		if runner == nil {
			runner = &ssh.Runner{Client: client}
		}
		if opener == nil {
			name, args := p.Terminal.Command()
			opener = &ssh.Opener{Client: client, Name: name, Args: args, Options: ssh.DefaultPTYOptions()}
		}
		if upload && stager == nil {
			sc := sftp.NewClient(client.Conn())
			defer sc.Close()
			stager = &sftp.Stager{Client: sc, FS: s.fs(), Dir: p.Remote.UploadDir, Logger: logger}
		}
	}
	if runner == nil {
		runner = program.ExecRunner{}
	}
	if opener == nil {
		opener = &pty.Opener{Terminal: p.Terminal, Options: pty.DefaultOptions()}
	}

	image := p.HPSImage
	if upload {
		staged, err := stager.Stage(ctx, image)
		if err != nil {
			return err
		}
		image = staged
	}

	prog := &program.Programmer{
		Tool:             p.Programmer.Tool,
		Mode:             p.Programmer.Mode,
		Cable:            p.Programmer.Cable,
		Slot:             p.Programmer.Slot,
		IgnoreExitStatus: p.Programmer.IgnoreExitStatus,
		Stdout:           out,
		Stderr:           s.stderr(),
		Runner:           runner,
		Logger:           logger,
	}
	if err := prog.Program(ctx, image); err != nil {
		return err
	}
	if p.Verbosity >= 1 {
		fmt.Fprintln(out, boot.Separator)
	}

	rec, err := s.startRecording()
	if err != nil {
		return err
	}

	ch, err := console.Open(ctx, opener, console.Options{
		DefaultTimeout: p.DefaultTimeout,
		Log:            s.ConsoleLog,
		Recorder:       rec,
		Clock:          s.Clock,
		Logger:         logger,
	})
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return err
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			logger.Debug("console close", slog.String("error", cerr.Error()))
		}
	}()
	logger.Info("console open", slog.String("transport", opener.String()))

	seq := &boot.Sequencer{Out: out, Verbosity: p.Verbosity, Logger: logger}
	res, err := seq.Run(ctx, boot.BuildPlan(p.Board), ch, p.StopAt)
	if err != nil {
		return err
	}
	logger.Info("boot stopped", slog.String("stage", res.StoppedAt.String()), slog.Int("stages", len(res.Completed)))

	return fallback.Run(ctx, ch, s.Terminal, fallback.Options{Raw: s.Raw, Logger: logger})
}

func (s *Session) startRecording() (console.Recorder, error) {
	p := s.Params
	if p.RecordDir == "" {
		return nil, nil
	}
	fsys := s.fs()
	clock := s.Clock
	if clock == nil {
		clock = realclock.New()
	}

	name := filepath.Base(p.Terminal.Device)
	if p.Remote != nil {
		name = p.Remote.Host + "_" + name
	}
	rec, err := recording.New(recording.Options{
		Dir:   p.RecordDir,
		Name:  name,
		Title: "de10boot " + p.Terminal.String(),
	}, fsys, clock)
	if err != nil {
		return nil, fmt.Errorf("start transcript: %w", err)
	}
	s.logger().Info("recording console", slog.String("path", rec.Path()))
	return rec, nil
}

// connect opens the SSH connection to the lab host.
func (s *Session) connect(r *RemoteParams) (*ssh.Client, error) {
	fsys := s.fs()

	methods, err := ssh.BuildAuthMethods(ssh.AuthConfig{
		KeyPath:       r.KeyPath,
		KeyPassphrase: r.KeyPassphrase,
		UseAgent:      r.UseAgent,
		Password:      r.Password,
		Host:          r.Host,
		FS:            fsys,
	})
	if err != nil {
		return nil, fmt.Errorf("lab host auth: %w", err)
	}
	hostKeys, err := ssh.BuildHostKeyCallback(fsys, r.KnownHosts, r.InsecureHostKey)
	if err != nil {
		return nil, fmt.Errorf("lab host key: %w", err)
	}

	client, err := ssh.NewClient(ssh.ClientOptions{
		Host:            r.Host,
		Port:            r.Port,
		User:            r.User,
		AuthMethods:     methods,
		HostKeyCallback: hostKeys,
		Clock:           s.Clock,
		Dialer:          s.Dialer,
	})
	if err != nil {
		return nil, fmt.Errorf("lab host client: %w", err)
	}
	if err := client.Connect(); err != nil {
		return nil, &console.LaunchError{Transport: client.Addr(), Err: err}
	}
	s.logger().Info("connected to lab host", slog.String("addr", client.Addr()))
	return client, nil
}

func (s *Session) fs() ports.FileSystem {
	if s.FS != nil {
		return s.FS
	}
	return realfs.New()
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Session) stdout() io.Writer {
	switch {
	case s.Stdout != nil:
		return s.Stdout
	case s.Terminal.Out != nil:
		return s.Terminal.Out
	default:
		return io.Discard
	}
}

func (s *Session) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return s.stdout()
}
